package methods

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/openmend/openmend/pkg/remedy"
)

// ExecMethod runs a configured command as a remediation attempt. Success is
// decided by the exit code against the configured success code set; the orchestrator
// still re-detects target state afterwards.
type ExecMethod struct {
	spec *MethodSpec
	hook ScoreHook
}

// NewExecMethod builds a command-backed method from its manifest entry.
func NewExecMethod(spec *MethodSpec, hook ScoreHook) *ExecMethod {
	return &ExecMethod{spec: spec, hook: hook}
}

// Name returns the method name.
func (m *ExecMethod) Name() string { return m.spec.Name }

// Prerequisites returns the required capability names.
func (m *ExecMethod) Prerequisites() []string { return m.spec.Prerequisites }

// IsAvailable reports whether the configured command can be resolved.
func (m *ExecMethod) IsAvailable(profile *remedy.ContextProfile) bool {
	// Shell-form commands are resolved by the shell at run time.
	if len(m.spec.Exec.Args) == 0 {
		return true
	}
	if strings.ContainsRune(m.spec.Exec.Command, os.PathSeparator) {
		_, err := os.Stat(m.spec.Exec.Command)
		return err == nil
	}
	_, err := exec.LookPath(m.spec.Exec.Command)
	return err == nil
}

// EstimateProbability scores the method for the given profile.
func (m *ExecMethod) EstimateProbability(profile *remedy.ContextProfile) float64 {
	base := scoreSpec(m.spec, profile)
	return applyHook(m.hook, m.spec.Name, base, profile)
}

// Execute runs the command, honoring the context deadline.
func (m *ExecMethod) Execute(ctx context.Context, profile *remedy.ContextProfile) (bool, string, error) {
	spec := m.spec.Exec

	shell := spec.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	if len(spec.Args) > 0 {
		cmd = exec.CommandContext(ctx, spec.Command, spec.Args...)
	} else {
		cmd = exec.CommandContext(ctx, shell, "-c", spec.Command)
	}

	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}

	if len(spec.Env) > 0 {
		env := os.Environ()
		for k, v := range spec.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("MEND_TARGET_ID=%s", profile.TargetID))

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
			return false, "", fmt.Errorf("failed to execute command: %w", err)
		}
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}

	msg := strings.TrimSpace(stdout.String())
	if msg == "" {
		msg = strings.TrimSpace(stderr.String())
	}
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", exitCode)
	}

	return m.exitOK(exitCode), msg, nil
}

func (m *ExecMethod) exitOK(code int) bool {
	if len(m.spec.Exec.SuccessCodes) == 0 {
		return code == 0
	}
	for _, c := range m.spec.Exec.SuccessCodes {
		if code == c {
			return true
		}
	}
	return false
}
