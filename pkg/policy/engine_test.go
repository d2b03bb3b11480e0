package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/remedy"
)

type gateMethod struct {
	name string
}

func (m *gateMethod) Name() string                                  { return m.name }
func (m *gateMethod) Prerequisites() []string                       { return nil }
func (m *gateMethod) IsAvailable(*remedy.ContextProfile) bool       { return true }
func (m *gateMethod) EstimateProbability(*remedy.ContextProfile) float64 { return 0.5 }
func (m *gateMethod) Execute(ctx context.Context, profile *remedy.ContextProfile) (bool, string, error) {
	return true, "", nil
}

func gateProfile() *remedy.ContextProfile {
	return &remedy.ContextProfile{
		TargetID: "t-1",
		State:    remedy.StateNotConverged,
		Strategy: remedy.StrategyConservative,
		Cycle:    2,
	}
}

func candidate(name string, risk remedy.RiskTier, escalation bool) remedy.Candidate {
	return remedy.Candidate{
		Method:     &gateMethod{name: name},
		Risk:       risk,
		Escalation: escalation,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop(), true)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func TestEngine_AllowMethod_LowRiskAllowed(t *testing.T) {
	e := newTestEngine(t)

	allowed, reason, err := e.AllowMethod(context.Background(), gateProfile(), candidate("m", remedy.RiskLow, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Errorf("Expected low-risk method to be allowed, got denial: %s", reason)
	}
}

func TestEngine_AllowMethod_VeryHighDeniedUnderConservative(t *testing.T) {
	e := newTestEngine(t)

	allowed, reason, err := e.AllowMethod(context.Background(), gateProfile(), candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if allowed {
		t.Error("Expected very-high-risk method to be denied under conservative strategy")
	}
	if !strings.Contains(reason, "very_high") {
		t.Errorf("Expected denial reason to mention risk tier, got %q", reason)
	}
}

func TestEngine_AllowMethod_VeryHighAllowedUnderAggressive(t *testing.T) {
	e := newTestEngine(t)

	profile := gateProfile()
	profile.Strategy = remedy.StrategyAggressive

	allowed, reason, err := e.AllowMethod(context.Background(), profile, candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Errorf("Expected very-high-risk method under aggressive strategy, got denial: %s", reason)
	}
}

func TestEngine_AllowMethod_RiskCeilingDisabled(t *testing.T) {
	e, err := NewEngine(zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	allowed, reason, err := e.AllowMethod(context.Background(), gateProfile(), candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Errorf("Expected very-high-risk method with ceiling disabled, got denial: %s", reason)
	}
}

func TestEngine_AllowMethod_EscalationBlockedOnFirstCycle(t *testing.T) {
	e := newTestEngine(t)

	profile := gateProfile()
	profile.Cycle = 1
	profile.ConsecutiveFailures = 0

	allowed, _, err := e.AllowMethod(context.Background(), profile, candidate("esc", remedy.RiskMedium, true))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if allowed {
		t.Error("Expected escalation method to be denied on first cycle with no failures")
	}

	profile.ConsecutiveFailures = 2
	profile.Cycle = 3
	allowed, reason, err := e.AllowMethod(context.Background(), profile, candidate("esc", remedy.RiskMedium, true))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Errorf("Expected escalation method after failures, got denial: %s", reason)
	}
}

func TestEngine_AllowMethod_ConvergedGuard(t *testing.T) {
	e := newTestEngine(t)

	profile := gateProfile()
	profile.State = remedy.StatePartiallyConverged

	allowed, _, err := e.AllowMethod(context.Background(), profile, candidate("m", remedy.RiskHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if allowed {
		t.Error("Expected high-risk method to be denied on partially converged target")
	}

	// The guard only binds the conservative strategy.
	profile.Strategy = remedy.StrategyBalanced
	allowed, reason, err := e.AllowMethod(context.Background(), profile, candidate("m", remedy.RiskHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Errorf("Expected high-risk method under balanced strategy, got denial: %s", reason)
	}
}

func TestEngine_EnableDisablePolicy(t *testing.T) {
	e := newTestEngine(t)

	if err := e.DisablePolicy("risk-ceiling"); err != nil {
		t.Fatalf("Expected disable to succeed, got %v", err)
	}

	allowed, _, err := e.AllowMethod(context.Background(), gateProfile(), candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if !allowed {
		t.Error("Expected very-high-risk method after disabling risk-ceiling")
	}

	if err := e.EnablePolicy("risk-ceiling"); err != nil {
		t.Fatalf("Expected enable to succeed, got %v", err)
	}
	allowed, _, err = e.AllowMethod(context.Background(), gateProfile(), candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if allowed {
		t.Error("Expected denial after re-enabling risk-ceiling")
	}

	if err := e.EnablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error enabling unknown policy, got nil")
	}
}

func TestEngine_ListPolicies(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != 3 {
		t.Errorf("Expected 3 built-in policies, got %d", len(policies))
	}

	if _, err := e.GetPolicy("escalation-gate"); err != nil {
		t.Errorf("Expected escalation-gate to exist, got %v", err)
	}
	if _, err := e.GetPolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy, got nil")
	}
}

func TestEngine_Evaluate_ReturnsViolations(t *testing.T) {
	e := newTestEngine(t)

	violations, err := e.Evaluate(context.Background(), gateProfile(), candidate("m", remedy.RiskVeryHigh, false))
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(violations))
	}
	if violations[0].Policy != "risk-ceiling" {
		t.Errorf("Expected risk-ceiling violation, got %s", violations[0].Policy)
	}
	if !violations[0].Blocking() {
		t.Error("Expected violation to be blocking")
	}
}
