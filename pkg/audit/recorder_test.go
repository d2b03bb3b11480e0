package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/daemon"
	"github.com/openmend/openmend/pkg/remedy"
)

type failingStore struct {
	Store
}

func (f *failingStore) InsertAttempt(_ context.Context, _ remedy.AttemptRecord) error {
	return errors.New("disk full")
}

func attemptRecord(seq uint64) remedy.AttemptRecord {
	started := time.Now()
	rec := remedy.AttemptRecord{
		RunID:       "run-1",
		Sequence:    seq,
		Cycle:       1,
		Method:      "fix",
		StateBefore: remedy.StateNotConverged,
		StateAfter:  remedy.StateConverged,
		Success:     true,
		Message:     "applied",
		StartedAt:   started,
		Duration:    time.Millisecond,
	}
	rec.Integrity = remedy.IntegrityTag(rec.StartedAt, rec.Method, rec.Message, rec.Error)
	return rec
}

func TestRecorder_BoundedHistory(t *testing.T) {
	r := NewRecorder(nil, 3, zerolog.Nop())
	for i := 1; i <= 5; i++ {
		if err := r.AppendAttempt(context.Background(), attemptRecord(uint64(i))); err != nil {
			t.Fatalf("AppendAttempt failed: %v", err)
		}
	}

	recent := r.RecentAttempts()
	if len(recent) != 3 {
		t.Fatalf("Expected history capped at 3, got %d", len(recent))
	}
	if recent[0].Sequence != 3 || recent[2].Sequence != 5 {
		t.Errorf("Expected most recent records 3..5, got %d..%d", recent[0].Sequence, recent[2].Sequence)
	}
}

func TestRecorder_ConcurrentAppend(t *testing.T) {
	r := NewRecorder(nil, 1000, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = r.AppendAttempt(context.Background(), attemptRecord(uint64(worker*100+j)))
				_ = r.AppendEvent(context.Background(), daemon.NewEvent(
					daemon.CategoryNetwork, "test", fmt.Sprintf("event %d/%d", worker, j), daemon.SeverityLow))
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.RecentAttempts()); got != 200 {
		t.Errorf("Expected 200 attempts recorded, got %d", got)
	}
	if got := len(r.RecentEvents()); got != 200 {
		t.Errorf("Expected 200 events recorded, got %d", got)
	}
}

func TestRecorder_StoreFailureStillKeepsHistory(t *testing.T) {
	r := NewRecorder(&failingStore{}, 10, zerolog.Nop())

	err := r.AppendAttempt(context.Background(), attemptRecord(1))
	if err == nil {
		t.Error("Expected store failure to surface")
	}
	if len(r.RecentAttempts()) != 1 {
		t.Error("Expected in-memory history updated despite store failure")
	}
}

func TestVerifyAttempt(t *testing.T) {
	rec := attemptRecord(1)
	if !VerifyAttempt(rec) {
		t.Error("Expected untampered record to verify")
	}

	rec.Message = "tampered"
	if VerifyAttempt(rec) {
		t.Error("Expected tampered record to fail verification")
	}
}

func TestEventIntegrity(t *testing.T) {
	ev := daemon.NewEvent(daemon.CategoryService, "monitor", "service wedged", daemon.SeverityHigh)
	tag := EventIntegrity(ev)
	if len(tag) != 16 {
		t.Errorf("Expected 16-char tag, got %q", tag)
	}
	if tag != EventIntegrity(ev) {
		t.Error("Expected integrity tag to be deterministic")
	}
}
