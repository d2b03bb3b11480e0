package methods

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/remedy"
)

func TestExecDetector_DetectState_FromStdout(t *testing.T) {
	cases := []struct {
		command string
		want    remedy.TargetState
	}{
		{"echo converged", remedy.StateConverged},
		{"echo partially_converged", remedy.StatePartiallyConverged},
		{"echo not_converged", remedy.StateNotConverged},
		{"echo unknown", remedy.StateUnknown},
	}

	for _, tc := range cases {
		d := NewExecDetector(tc.command, zerolog.Nop())
		state, err := d.DetectState(context.Background())
		if err != nil {
			t.Fatalf("Expected detection to succeed for %q, got %v", tc.command, err)
		}
		if state != tc.want {
			t.Errorf("Expected state %s for %q, got %s", tc.want, tc.command, state)
		}
	}
}

func TestExecDetector_DetectState_FromExitCode(t *testing.T) {
	cases := []struct {
		command string
		want    remedy.TargetState
	}{
		{"exit 0", remedy.StateConverged},
		{"exit 1", remedy.StatePartiallyConverged},
		{"exit 2", remedy.StateNotConverged},
	}

	for _, tc := range cases {
		d := NewExecDetector(tc.command, zerolog.Nop())
		state, err := d.DetectState(context.Background())
		if err != nil {
			t.Fatalf("Expected detection to succeed for %q, got %v", tc.command, err)
		}
		if state != tc.want {
			t.Errorf("Expected state %s for %q, got %s", tc.want, tc.command, state)
		}
	}
}

func TestExecDetector_DetectState_BadOutput(t *testing.T) {
	d := NewExecDetector("echo gibberish", zerolog.Nop())
	if _, err := d.DetectState(context.Background()); err == nil {
		t.Fatal("Expected error for unrecognized state output, got nil")
	}
}

func TestExecDetector_DetectState_NoCommand(t *testing.T) {
	d := NewExecDetector("", zerolog.Nop())
	if _, err := d.DetectState(context.Background()); err == nil {
		t.Fatal("Expected error for missing command, got nil")
	}
}
