package methods

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/remedy"
)

// ExecDetector observes target state by running a configured probe command.
// The command prints a state name on stdout; when stdout is empty the exit
// code decides: 0 converged, 1 partially converged, anything else not
// converged.
type ExecDetector struct {
	command string
	shell   string
	logger  zerolog.Logger
}

// NewExecDetector builds a detector around a shell probe command.
func NewExecDetector(command string, logger zerolog.Logger) *ExecDetector {
	return &ExecDetector{
		command: command,
		shell:   "/bin/sh",
		logger:  logger.With().Str("component", "detector").Logger(),
	}
}

// DetectState runs the probe command and maps its output to a target state.
func (d *ExecDetector) DetectState(ctx context.Context) (remedy.TargetState, error) {
	if d.command == "" {
		return remedy.StateUnknown, fmt.Errorf("detect command is not configured")
	}

	cmd := exec.CommandContext(ctx, d.shell, "-c", d.command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return remedy.StateUnknown, fmt.Errorf("detect command failed: %w", err)
		}
	}

	out := strings.TrimSpace(stdout.String())
	if out != "" {
		state := remedy.TargetState(out)
		if err := state.Validate(); err != nil {
			return remedy.StateUnknown, fmt.Errorf("detect command printed unknown state %q", out)
		}
		return state, nil
	}

	switch exitCode {
	case 0:
		return remedy.StateConverged, nil
	case 1:
		return remedy.StatePartiallyConverged, nil
	default:
		return remedy.StateNotConverged, nil
	}
}
