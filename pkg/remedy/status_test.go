package remedy

import (
	"testing"
	"time"
)

func TestTargetState_Better(t *testing.T) {
	tests := []struct {
		name   string
		a, b   TargetState
		better bool
	}{
		{"converged over partial", StateConverged, StatePartiallyConverged, true},
		{"partial over not converged", StatePartiallyConverged, StateNotConverged, true},
		{"not converged over unknown", StateNotConverged, StateUnknown, true},
		{"equal is not better", StateConverged, StateConverged, false},
		{"unknown is not better", StateUnknown, StateConverged, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Better(tt.b); got != tt.better {
				t.Errorf("Expected %s.Better(%s) = %v, got %v", tt.a, tt.b, tt.better, got)
			}
		})
	}
}

func TestTargetState_Validate(t *testing.T) {
	for _, s := range []TargetState{StateUnknown, StateNotConverged, StatePartiallyConverged, StateConverged} {
		if err := s.Validate(); err != nil {
			t.Errorf("Expected state %s to validate, got: %v", s, err)
		}
	}
	if err := TargetState("half-done").Validate(); err == nil {
		t.Error("Expected invalid state to fail validation")
	}
}

func TestRunStatus_IsActive(t *testing.T) {
	if RunStatusIdle.IsActive() {
		t.Error("Expected idle to be inactive")
	}
	if !RunStatusRunning.IsActive() {
		t.Error("Expected running to be active")
	}
	if !RunStatusEscalating.IsActive() {
		t.Error("Expected escalating to be active")
	}
	if RunStatusStopped.IsActive() {
		t.Error("Expected stopped to be inactive")
	}
}

func TestRiskTier_Ordinal(t *testing.T) {
	if !(RiskLow.Ordinal() < RiskMedium.Ordinal() &&
		RiskMedium.Ordinal() < RiskHigh.Ordinal() &&
		RiskHigh.Ordinal() < RiskVeryHigh.Ordinal()) {
		t.Error("Expected risk ordinals to increase with tier")
	}
}

func TestIntegrityTag(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tag := IntegrityTag(ts, "method", "message", "")
	if len(tag) != 16 {
		t.Fatalf("Expected 16-char tag, got %d chars", len(tag))
	}
	if tag != IntegrityTag(ts, "method", "message", "") {
		t.Error("Expected identical inputs to produce identical tags")
	}
	if tag == IntegrityTag(ts, "method", "other", "") {
		t.Error("Expected differing inputs to produce differing tags")
	}
	if tag == IntegrityTag(ts.Add(time.Nanosecond), "method", "message", "") {
		t.Error("Expected differing timestamps to produce differing tags")
	}
}
