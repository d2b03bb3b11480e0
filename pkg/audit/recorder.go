package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/daemon"
	"github.com/openmend/openmend/pkg/remedy"
)

// DefaultHistorySize bounds the in-memory record history.
const DefaultHistorySize = 256

// Store is the durable side of the recorder. All methods must be safe for
// concurrent use.
type Store interface {
	InsertAttempt(ctx context.Context, rec remedy.AttemptRecord) error
	InsertEvent(ctx context.Context, ev daemon.ReportedEvent) error
	InsertReport(ctx context.Context, report *remedy.FinalReport) error
	GetReport(ctx context.Context, runID string) (*remedy.FinalReport, error)
	ListAttempts(ctx context.Context, runID string) ([]remedy.AttemptRecord, error)
	ListReports(ctx context.Context, limit int) ([]*remedy.FinalReport, error)
	Close() error
}

// Recorder is a thread-safe append-only sink for attempt and event records.
// It satisfies both the orchestrator's and the daemon's sink contracts.
// Store failures are logged; the in-memory history is always updated.
type Recorder struct {
	store  Store
	logger zerolog.Logger
	limit  int

	mu       sync.Mutex
	attempts []remedy.AttemptRecord
	events   []daemon.ReportedEvent
}

// NewRecorder creates a recorder holding at most historySize recent records
// of each kind in memory. store may be nil for memory-only operation.
func NewRecorder(store Store, historySize int, logger zerolog.Logger) *Recorder {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Recorder{
		store:  store,
		limit:  historySize,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// AppendAttempt records one method attempt.
func (r *Recorder) AppendAttempt(ctx context.Context, rec remedy.AttemptRecord) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, rec)
	if len(r.attempts) > r.limit {
		r.attempts = r.attempts[len(r.attempts)-r.limit:]
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertAttempt(ctx, rec); err != nil {
			r.logger.Warn().Err(err).
				Uint64("sequence", rec.Sequence).
				Str("method", rec.Method).
				Msg("Failed to persist attempt record")
			return err
		}
	}
	return nil
}

// AppendEvent records one handled daemon event, tagging it for integrity if
// the reporter did not.
func (r *Recorder) AppendEvent(ctx context.Context, ev daemon.ReportedEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	if len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.InsertEvent(ctx, ev); err != nil {
			r.logger.Warn().Err(err).
				Str("event_id", ev.ID).
				Msg("Failed to persist event record")
			return err
		}
	}
	return nil
}

// RecordReport persists a completed run's final report.
func (r *Recorder) RecordReport(ctx context.Context, report *remedy.FinalReport) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.InsertReport(ctx, report); err != nil {
		r.logger.Warn().Err(err).
			Str("run_id", report.RunID).
			Msg("Failed to persist final report")
		return err
	}
	return nil
}

// RecentAttempts returns a copy of the in-memory attempt history, oldest
// first.
func (r *Recorder) RecentAttempts() []remedy.AttemptRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remedy.AttemptRecord, len(r.attempts))
	copy(out, r.attempts)
	return out
}

// RecentEvents returns a copy of the in-memory event history, oldest first.
func (r *Recorder) RecentEvents() []daemon.ReportedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]daemon.ReportedEvent, len(r.events))
	copy(out, r.events)
	return out
}

// EventIntegrity computes the integrity tag for an event the same way
// attempt records are tagged.
func EventIntegrity(ev daemon.ReportedEvent) string {
	return remedy.IntegrityTag(ev.Timestamp, ev.Category, ev.Source, ev.Message)
}

// VerifyAttempt recomputes an attempt record's integrity tag and reports
// whether it matches. Used during audit replay.
func VerifyAttempt(rec remedy.AttemptRecord) bool {
	return rec.Integrity == remedy.IntegrityTag(rec.StartedAt, rec.Method, rec.Message, rec.Error)
}
