package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openmend/openmend/pkg/daemon"
	"github.com/openmend/openmend/pkg/remedy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteConfig holds SQLite store configuration.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore implements Store using an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// NewSQLiteStore creates a SQLite store instance. Call Init before use.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	s.db = db

	return s.migrate()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// InsertAttempt stores one attempt record.
func (s *SQLiteStore) InsertAttempt(ctx context.Context, rec remedy.AttemptRecord) error {
	query := `
		INSERT INTO attempts (run_id, sequence, cycle, method, state_before, state_after,
			success, message, error, started_at, duration_ns, integrity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.Sequence,
		rec.Cycle,
		rec.Method,
		string(rec.StateBefore),
		string(rec.StateAfter),
		rec.Success,
		rec.Message,
		rec.Error,
		rec.StartedAt,
		rec.Duration.Nanoseconds(),
		rec.Integrity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// InsertEvent stores one handled daemon event.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev daemon.ReportedEvent) error {
	var eventCtx []byte
	if len(ev.Context) > 0 {
		var err error
		eventCtx, err = json.Marshal(ev.Context)
		if err != nil {
			return fmt.Errorf("failed to marshal event context: %w", err)
		}
	}

	query := `
		INSERT INTO events (id, timestamp, severity, category, source, message, context, auto_handled, integrity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.Timestamp,
		string(ev.Severity),
		ev.Category,
		ev.Source,
		ev.Message,
		string(eventCtx),
		ev.AutoHandled,
		EventIntegrity(ev),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// InsertReport stores a final report.
func (s *SQLiteStore) InsertReport(ctx context.Context, report *remedy.FinalReport) error {
	query := `
		INSERT INTO reports (run_id, target_id, final_state, stop_reason, cycles_used,
			succeeded_method, started_at, completed_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		report.RunID,
		report.TargetID,
		string(report.FinalState),
		string(report.StopReason),
		report.CyclesUsed,
		report.SucceededMethod,
		report.StartedAt,
		report.CompletedAt,
		report.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// GetReport retrieves a final report by run ID, including its attempts.
func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*remedy.FinalReport, error) {
	query := `
		SELECT run_id, target_id, final_state, stop_reason, cycles_used,
			succeeded_method, started_at, completed_at, duration_ns
		FROM reports
		WHERE run_id = ?
	`
	report := &remedy.FinalReport{}
	var finalState, stopReason string
	var durationNs int64
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&report.RunID,
		&report.TargetID,
		&finalState,
		&stopReason,
		&report.CyclesUsed,
		&report.SucceededMethod,
		&report.StartedAt,
		&report.CompletedAt,
		&durationNs,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	report.FinalState = remedy.TargetState(finalState)
	report.StopReason = remedy.StopReason(stopReason)
	report.Duration = time.Duration(durationNs)

	attempts, err := s.ListAttempts(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Attempts = attempts
	return report, nil
}

// ListAttempts returns a run's attempt records ordered by sequence.
func (s *SQLiteStore) ListAttempts(ctx context.Context, runID string) ([]remedy.AttemptRecord, error) {
	query := `
		SELECT run_id, sequence, cycle, method, state_before, state_after,
			success, message, error, started_at, duration_ns, integrity
		FROM attempts
		WHERE run_id = ?
		ORDER BY sequence ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []remedy.AttemptRecord{}
	for rows.Next() {
		var rec remedy.AttemptRecord
		var stateBefore, stateAfter string
		var durationNs int64
		err := rows.Scan(
			&rec.RunID,
			&rec.Sequence,
			&rec.Cycle,
			&rec.Method,
			&stateBefore,
			&stateAfter,
			&rec.Success,
			&rec.Message,
			&rec.Error,
			&rec.StartedAt,
			&durationNs,
			&rec.Integrity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		rec.StateBefore = remedy.TargetState(stateBefore)
		rec.StateAfter = remedy.TargetState(stateAfter)
		rec.Duration = time.Duration(durationNs)
		attempts = append(attempts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// ListReports returns the most recent final reports, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]*remedy.FinalReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT run_id, target_id, final_state, stop_reason, cycles_used,
			succeeded_method, started_at, completed_at, duration_ns
		FROM reports
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	reports := []*remedy.FinalReport{}
	for rows.Next() {
		report := &remedy.FinalReport{}
		var finalState, stopReason string
		var durationNs int64
		err := rows.Scan(
			&report.RunID,
			&report.TargetID,
			&finalState,
			&stopReason,
			&report.CyclesUsed,
			&report.SucceededMethod,
			&report.StartedAt,
			&report.CompletedAt,
			&durationNs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		report.FinalState = remedy.TargetState(finalState)
		report.StopReason = remedy.StopReason(stopReason)
		report.Duration = time.Duration(durationNs)
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return reports, nil
}

// ListEvents returns the most recent persisted events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]daemon.ReportedEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, timestamp, severity, category, source, message, context, auto_handled
		FROM events
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []daemon.ReportedEvent{}
	for rows.Next() {
		var ev daemon.ReportedEvent
		var severity, eventCtx string
		err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&severity,
			&ev.Category,
			&ev.Source,
			&ev.Message,
			&eventCtx,
			&ev.AutoHandled,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Severity = daemon.Severity(severity)
		if eventCtx != "" {
			if err := json.Unmarshal([]byte(eventCtx), &ev.Context); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event context: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
