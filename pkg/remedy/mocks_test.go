package remedy

import (
	"context"
	"sync"
	"time"
)

// fakeMethod is a scriptable Method for tests.
type fakeMethod struct {
	name      string
	prereqs   []string
	available bool
	prob      float64
	execFn    func(ctx context.Context, profile *ContextProfile) (bool, string, error)

	mu    sync.Mutex
	calls int
}

func (m *fakeMethod) Name() string            { return m.name }
func (m *fakeMethod) Prerequisites() []string { return m.prereqs }

func (m *fakeMethod) IsAvailable(_ *ContextProfile) bool { return m.available }

func (m *fakeMethod) EstimateProbability(_ *ContextProfile) float64 { return m.prob }

func (m *fakeMethod) Execute(ctx context.Context, profile *ContextProfile) (bool, string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.execFn != nil {
		return m.execFn(ctx, profile)
	}
	return false, "", nil
}

func (m *fakeMethod) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fakeDetector returns scripted states in order, repeating the last one.
type fakeDetector struct {
	mu     sync.Mutex
	states []TargetState
	err    error
	idx    int
}

func (d *fakeDetector) DetectState(_ context.Context) (TargetState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return StateUnknown, d.err
	}
	if len(d.states) == 0 {
		return StateUnknown, nil
	}
	state := d.states[d.idx]
	if d.idx < len(d.states)-1 {
		d.idx++
	}
	return state, nil
}

// fakeTerminal trips after a configurable number of calls.
type fakeTerminal struct {
	mu        sync.Mutex
	tripAfter int
	calls     int
}

func (t *fakeTerminal) IsTerminal(_ context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.calls > t.tripAfter
}

// fakeGate denies the named methods.
type fakeGate struct {
	deny map[string]bool
	err  error
}

func (g *fakeGate) AllowMethod(_ context.Context, _ *ContextProfile, c Candidate) (bool, string, error) {
	if g.err != nil {
		return false, "", g.err
	}
	if g.deny[c.Name()] {
		return false, "denied by test gate", nil
	}
	return true, "", nil
}

// fakeSink collects appended records.
type fakeSink struct {
	mu      sync.Mutex
	records []AttemptRecord
	err     error
}

func (s *fakeSink) AppendAttempt(_ context.Context, rec AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// fakeMetrics counts engine measurements.
type fakeMetrics struct {
	mu          sync.Mutex
	cycles      int
	attempts    int
	escalations int
	errors      []string
}

func (m *fakeMetrics) CycleCompleted(_ bool, _ time.Duration) {
	m.mu.Lock()
	m.cycles++
	m.mu.Unlock()
}

func (m *fakeMetrics) AttemptCompleted(_ string, _ bool, _ time.Duration) {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

func (m *fakeMetrics) EscalationWidened() {
	m.mu.Lock()
	m.escalations++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordError(class, code string) {
	m.mu.Lock()
	m.errors = append(m.errors, class+"/"+code)
	m.mu.Unlock()
}

func (m *fakeMetrics) recordedErrors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errors...)
}

func testProfile() *ContextProfile {
	return &ContextProfile{
		TargetID:       "target-1",
		Capabilities:   map[string]string{},
		State:          StateNotConverged,
		Strategy:       StrategyConservative,
		MaxCycles:      5,
		TimeoutCeiling: time.Second,
		Seed:           42,
	}
}
