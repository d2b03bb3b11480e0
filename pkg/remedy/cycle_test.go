package remedy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRunner(detector StateDetector, registry *Registry) *CycleRunner {
	return NewCycleRunner(detector, registry, zerolog.Nop())
}

func TestCycleRunner_RunCycle_AlreadyConverged(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateConverged}}
	runner := newTestRunner(detector, NewRegistry(zerolog.Nop()))

	goal, records := runner.RunCycle(context.Background(), testProfile())
	if !goal {
		t.Error("Expected goal reached for already converged target")
	}
	if len(records) != 0 {
		t.Errorf("Expected no attempt records, got %d", len(records))
	}
}

func TestCycleRunner_RunCycle_NoCandidates(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	runner := newTestRunner(detector, NewRegistry(zerolog.Nop()))

	goal, records := runner.RunCycle(context.Background(), testProfile())
	if goal {
		t.Error("Expected goal not reached with no candidates")
	}
	if len(records) != 0 {
		t.Errorf("Expected no attempt records, got %d", len(records))
	}
}

func TestCycleRunner_RunCycle_SuccessfulMethod(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged, StateConverged}}
	registry := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "fix", available: true, prob: 0.8, execFn: func(_ context.Context, _ *ContextProfile) (bool, string, error) {
		return true, "applied fix", nil
	}}
	if err := registry.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := newTestRunner(detector, registry)
	goal, records := runner.RunCycle(context.Background(), testProfile())

	if !goal {
		t.Error("Expected goal reached")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(records))
	}
	rec := records[0]
	if !rec.Success {
		t.Error("Expected record marked successful")
	}
	if rec.Method != "fix" {
		t.Errorf("Expected method 'fix', got %q", rec.Method)
	}
	if rec.StateBefore != StateNotConverged || rec.StateAfter != StateConverged {
		t.Errorf("Expected state transition not_converged -> converged, got %s -> %s", rec.StateBefore, rec.StateAfter)
	}
	if len(rec.Integrity) != 16 {
		t.Errorf("Expected 16-char integrity tag, got %q", rec.Integrity)
	}
}

func TestCycleRunner_RunCycle_ClaimedSuccessNotConverged(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	registry := NewRegistry(zerolog.Nop())
	liar := &fakeMethod{name: "liar", available: true, prob: 0.8, execFn: func(_ context.Context, _ *ContextProfile) (bool, string, error) {
		return true, "all good", nil
	}}
	if err := registry.Register(Candidate{Method: liar, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := newTestRunner(detector, registry)
	goal, records := runner.RunCycle(context.Background(), testProfile())

	if goal {
		t.Error("Expected goal not reached when re-detected state disagrees with method claim")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(records))
	}
}

func TestCycleRunner_RunCycle_PanicIsolated(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	registry := NewRegistry(zerolog.Nop())
	panicky := &fakeMethod{name: "panicky", available: true, prob: 0.9, execFn: func(_ context.Context, _ *ContextProfile) (bool, string, error) {
		panic("boom")
	}}
	steady := &fakeMethod{name: "steady", available: true, prob: 0.1}
	if err := registry.Register(Candidate{Method: panicky, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(Candidate{Method: steady, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := newTestRunner(detector, registry)
	goal, records := runner.RunCycle(context.Background(), testProfile())

	if goal {
		t.Error("Expected goal not reached")
	}
	if len(records) != 2 {
		t.Fatalf("Expected both candidates attempted despite panic, got %d records", len(records))
	}
	if records[0].Success {
		t.Error("Expected panicking method recorded as failed")
	}
	if records[0].Error == "" {
		t.Error("Expected panic captured in record error")
	}
	if steady.callCount() != 1 {
		t.Errorf("Expected next candidate still attempted, got %d calls", steady.callCount())
	}
}

func TestCycleRunner_RunCycle_TimeoutClassified(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	registry := NewRegistry(zerolog.Nop())
	slow := &fakeMethod{name: "slow", available: true, prob: 0.9, execFn: func(ctx context.Context, _ *ContextProfile) (bool, string, error) {
		select {
		case <-time.After(5 * time.Second):
			return true, "", nil
		case <-ctx.Done():
			return false, "", ctx.Err()
		}
	}}
	if err := registry.Register(Candidate{Method: slow, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := newTestRunner(detector, registry)
	profile := testProfile()
	profile.TimeoutCeiling = 20 * time.Millisecond

	goal, records := runner.RunCycle(context.Background(), profile)
	if goal {
		t.Error("Expected goal not reached")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(records))
	}
	if records[0].Success {
		t.Error("Expected timed-out method recorded as failed")
	}
	if records[0].Error == "" {
		t.Error("Expected timeout captured in record error")
	}
}

func TestCycleRunner_RunCycle_SequenceIncreases(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	registry := NewRegistry(zerolog.Nop())
	for _, name := range []string{"one", "two", "three"} {
		m := &fakeMethod{name: name, available: true, prob: 0.5}
		if err := registry.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	runner := newTestRunner(detector, registry)
	_, records := runner.RunCycle(context.Background(), testProfile())
	if len(records) != 3 {
		t.Fatalf("Expected 3 attempt records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].Sequence <= records[i-1].Sequence {
			t.Errorf("Expected strictly increasing sequence, got %d after %d", records[i].Sequence, records[i-1].Sequence)
		}
	}
}

func TestCycleRunner_RunCycle_DetectorFailureDegrades(t *testing.T) {
	detector := &fakeDetector{err: errors.New("probe unreachable")}
	registry := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "fix", available: true, prob: 0.5}
	if err := registry.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := newTestRunner(detector, registry)
	goal, records := runner.RunCycle(context.Background(), testProfile())

	if goal {
		t.Error("Expected goal not reached when detection degrades to unknown")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(records))
	}
	if records[0].StateBefore != StateUnknown || records[0].StateAfter != StateUnknown {
		t.Errorf("Expected unknown states on detector failure, got %s -> %s", records[0].StateBefore, records[0].StateAfter)
	}
}

func TestCycleRunner_RunCycle_FailureRecordsClassifiedError(t *testing.T) {
	detector := &fakeDetector{states: []TargetState{StateNotConverged}}
	registry := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "flaky", available: true, prob: 0.5, execFn: func(_ context.Context, _ *ContextProfile) (bool, string, error) {
		return false, "timed out", NewTransientError("timed out waiting for target", nil).WithCode(ErrCodeMethodTimeout)
	}}
	if err := registry.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	metrics := &fakeMetrics{}
	runner := newTestRunner(detector, registry).withMetrics(metrics)
	goal, records := runner.RunCycle(context.Background(), testProfile())

	if goal {
		t.Error("Expected goal not reached")
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 attempt record, got %d", len(records))
	}
	recorded := metrics.recordedErrors()
	if len(recorded) != 1 {
		t.Fatalf("Expected 1 recorded error, got %d", len(recorded))
	}
	if recorded[0] != "transient/METHOD_TIMEOUT" {
		t.Errorf("Expected error classified transient/METHOD_TIMEOUT, got %q", recorded[0])
	}
}
