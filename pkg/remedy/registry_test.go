package remedy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry_Register_DuplicateName(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "fix-perms", available: true, prob: 0.5}

	if err := r.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Expected first registration to succeed, got: %v", err)
	}

	err := r.Register(Candidate{Method: m, Risk: RiskLow})
	if err == nil {
		t.Fatal("Expected duplicate registration to fail")
	}
}

func TestRegistry_Register_InvalidRisk(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "fix-perms", available: true, prob: 0.5}

	err := r.Register(Candidate{Method: m, Risk: RiskTier("bogus")})
	if err == nil {
		t.Fatal("Expected registration with invalid risk tier to fail")
	}
}

func TestRegistry_Widen_Idempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	base := &fakeMethod{name: "base", available: true, prob: 0.5}
	esc := &fakeMethod{name: "esc", available: true, prob: 0.9}
	if err := r.Register(Candidate{Method: base, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Candidate{Method: esc, Risk: RiskHigh, Escalation: true}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if len(r.Active()) != 1 {
		t.Errorf("Expected 1 active candidate before widening, got %d", len(r.Active()))
	}

	if !r.Widen() {
		t.Error("Expected first Widen call to report a change")
	}
	if r.Widen() {
		t.Error("Expected second Widen call to be a no-op")
	}
	if !r.Widened() {
		t.Error("Expected registry to report widened")
	}
	if len(r.Active()) != 2 {
		t.Errorf("Expected 2 active candidates after widening, got %d", len(r.Active()))
	}
}

func TestRegistry_Prioritize_FiltersIneligible(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	eligible := &fakeMethod{name: "eligible", available: true, prob: 0.5}
	unavailable := &fakeMethod{name: "unavailable", available: false, prob: 0.9}
	missingPrereq := &fakeMethod{name: "needs-cap", available: true, prob: 0.9, prereqs: []string{"shell"}}

	for _, m := range []*fakeMethod{eligible, unavailable, missingPrereq} {
		if err := r.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	scored := r.Prioritize(context.Background(), testProfile())
	if len(scored) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(scored))
	}
	if scored[0].Name() != "eligible" {
		t.Errorf("Expected candidate 'eligible', got %q", scored[0].Name())
	}
}

func TestRegistry_Prioritize_PrerequisiteSatisfied(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	m := &fakeMethod{name: "needs-cap", available: true, prob: 0.9, prereqs: []string{"shell"}}
	if err := r.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	profile := testProfile()
	profile.Capabilities["shell"] = "bash"

	scored := r.Prioritize(context.Background(), profile)
	if len(scored) != 1 {
		t.Fatalf("Expected 1 candidate with prerequisite satisfied, got %d", len(scored))
	}
}

func TestRegistry_Prioritize_GateDenies(t *testing.T) {
	r := NewRegistry(zerolog.Nop()).WithPolicyGate(&fakeGate{deny: map[string]bool{"risky": true}})
	allowed := &fakeMethod{name: "safe", available: true, prob: 0.4}
	denied := &fakeMethod{name: "risky", available: true, prob: 0.9}
	if err := r.Register(Candidate{Method: allowed, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Candidate{Method: denied, Risk: RiskVeryHigh}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	scored := r.Prioritize(context.Background(), testProfile())
	if len(scored) != 1 {
		t.Fatalf("Expected 1 candidate, got %d", len(scored))
	}
	if scored[0].Name() != "safe" {
		t.Errorf("Expected candidate 'safe', got %q", scored[0].Name())
	}
}

func TestRegistry_Prioritize_GateErrorDenies(t *testing.T) {
	r := NewRegistry(zerolog.Nop()).WithPolicyGate(&fakeGate{err: errors.New("gate unavailable")})
	m := &fakeMethod{name: "safe", available: true, prob: 0.4}
	if err := r.Register(Candidate{Method: m, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	scored := r.Prioritize(context.Background(), testProfile())
	if len(scored) != 0 {
		t.Errorf("Expected gate evaluation failure to deny, got %d candidates", len(scored))
	}
}

func TestRegistry_Prioritize_ClampsScores(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	over := &fakeMethod{name: "over", available: true, prob: 1.7}
	under := &fakeMethod{name: "under", available: true, prob: -0.3}
	if err := r.Register(Candidate{Method: over, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Candidate{Method: under, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	scored := r.Prioritize(context.Background(), testProfile())
	if len(scored) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(scored))
	}
	for _, s := range scored {
		if s.Score < 0 || s.Score > 1 {
			t.Errorf("Expected score in [0,1], got %f for %q", s.Score, s.Name())
		}
	}
	if scored[0].Name() != "over" || scored[0].Score != 1.0 {
		t.Errorf("Expected 'over' clamped to 1.0 at front, got %q with %f", scored[0].Name(), scored[0].Score)
	}
	if scored[1].Score != 0.0 {
		t.Errorf("Expected 'under' clamped to 0.0, got %f", scored[1].Score)
	}
}

func TestRegistry_Prioritize_RiskBreaksTies(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	high := &fakeMethod{name: "high-risk", available: true, prob: 0.5}
	low := &fakeMethod{name: "low-risk", available: true, prob: 0.5}
	if err := r.Register(Candidate{Method: high, Risk: RiskHigh}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(Candidate{Method: low, Risk: RiskLow}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	scored := r.Prioritize(context.Background(), testProfile())
	if len(scored) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(scored))
	}
	if scored[0].Name() != "low-risk" {
		t.Errorf("Expected equal scores to break toward lower risk, got %q first", scored[0].Name())
	}
}

func TestRegistry_Prioritize_DeterministicForSeed(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		m := &fakeMethod{name: name, available: true, prob: 0.5}
		if err := r.Register(Candidate{Method: m, Risk: RiskMedium}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	first := r.Prioritize(context.Background(), testProfile())
	second := r.Prioritize(context.Background(), testProfile())

	if len(first) != len(second) {
		t.Fatalf("Expected identical candidate counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Name() != second[i].Name() {
			t.Errorf("Expected identical order for same seed at index %d: %q vs %q", i, first[i].Name(), second[i].Name())
		}
	}
}
