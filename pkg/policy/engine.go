package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/remedy"
)

// Engine evaluates method candidates against the loaded policy set. It
// implements the PolicyGate consulted during prioritization.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	loader   *Loader
	logger   zerolog.Logger
	builtin  []Policy
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, denyVeryHighRisk bool) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		loader:   NewLoader(logger),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtin:  BuiltinPolicies(denyVeryHighRisk),
	}

	if err := e.loadBuiltinPolicies(); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// AllowMethod evaluates every enabled policy against the candidate. Any
// blocking violation vetoes the method; the returned string carries the
// denial reasons. Evaluation failures of individual policies are logged and
// skipped so one broken policy cannot freeze remediation.
func (e *Engine) AllowMethod(ctx context.Context, profile *remedy.ContextProfile, c remedy.Candidate) (bool, string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := newGateInput(profile, c)

	var blocking []string
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Warn().Err(err).
				Str("policy", cp.policy.Name).
				Str("method", c.Name()).
				Msg("Policy evaluation failed, skipping policy")
			continue
		}

		for _, v := range violations {
			if v.Blocking() {
				blocking = append(blocking, v.Message)
			} else {
				e.logger.Debug().
					Str("policy", v.Policy).
					Str("method", c.Name()).
					Str("severity", string(v.Severity)).
					Msg(v.Message)
			}
		}
	}

	if len(blocking) > 0 {
		return false, strings.Join(blocking, "; "), nil
	}
	return true, "", nil
}

// Evaluate runs every enabled policy against the candidate and returns all
// violations, blocking or not. Used by the validate command for dry runs.
func (e *Engine) Evaluate(ctx context.Context, profile *remedy.ContextProfile, c remedy.Candidate) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := newGateInput(profile, c)

	var all []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		all = append(all, violations...)
	}
	return all, nil
}

// LoadPolicies loads policy files from the given paths and adds them to
// the active set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(&policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// WatchPolicies reloads the operator policy set whenever a file under paths
// changes. Built-in policies survive every reload; a file that no longer
// compiles is skipped with a warning. Stop with StopWatching.
func (e *Engine) WatchPolicies(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		e.policies = make(map[string]*compiledPolicy)
		if err := e.loadBuiltinPolicies(); err != nil {
			return err
		}
		for i := range policies {
			if err := e.compileAndStorePolicy(&policies[i]); err != nil {
				e.logger.Warn().Err(err).
					Str("policy", policies[i].Name).
					Msg("Skipping policy that failed to compile")
			}
		}
		return nil
	})
}

// StopWatching stops the policy file watcher.
func (e *Engine) StopWatching() error {
	return e.loader.StopWatching()
}

// evaluatePolicy evaluates a single compiled policy against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *GateInput) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.newViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "openmend.policies"
}

// newViolation builds a Violation from a deny-set entry.
func (e *Engine) newViolation(policy *Policy, result interface{}, input *GateInput) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Method:   input.Method.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if method, ok := v["method"].(string); ok {
			violation.Method = method
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy parses a policy and adds it to the active set.
func (e *Engine) compileAndStorePolicy(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies() error {
	for i := range e.builtin {
		if err := e.compileAndStorePolicy(&e.builtin[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtin[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtin)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies clears operator-loaded policies and restores the built-ins.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	return e.loadBuiltinPolicies()
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
