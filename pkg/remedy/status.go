package remedy

import (
	"encoding/json"
	"fmt"
)

// TargetState represents the observed convergence state of the managed target.
type TargetState string

const (
	// StateUnknown indicates the target state has not been determined yet.
	StateUnknown TargetState = "unknown"

	// StateNotConverged indicates the target shows no progress toward the goal.
	StateNotConverged TargetState = "not_converged"

	// StatePartiallyConverged indicates some goal attributes are satisfied.
	StatePartiallyConverged TargetState = "partially_converged"

	// StateConverged indicates the target fully matches the goal state.
	StateConverged TargetState = "converged"
)

// ordinal returns the progress rank of a state for before/after comparison.
func (s TargetState) ordinal() int {
	switch s {
	case StateNotConverged:
		return 1
	case StatePartiallyConverged:
		return 2
	case StateConverged:
		return 3
	default:
		return 0
	}
}

// Better returns true if s represents more progress than other.
func (s TargetState) Better(other TargetState) bool {
	return s.ordinal() > other.ordinal()
}

// Validate checks if the target state is valid.
func (s TargetState) Validate() error {
	switch s {
	case StateUnknown, StateNotConverged, StatePartiallyConverged, StateConverged:
		return nil
	default:
		return fmt.Errorf("invalid target state: %s", s)
	}
}

// StopReason explains why an orchestration run ended.
type StopReason string

const (
	// StopSucceeded indicates the goal state was reached.
	StopSucceeded StopReason = "succeeded"

	// StopTerminal indicates the terminal-condition detector fired.
	StopTerminal StopReason = "terminal_stopped"

	// StopBudgetExhausted indicates the cycle budget ran out.
	StopBudgetExhausted StopReason = "budget_exhausted"

	// StopCancelled indicates the caller cancelled the run externally.
	StopCancelled StopReason = "externally_cancelled"
)

// Validate checks if the stop reason is valid.
func (r StopReason) Validate() error {
	switch r {
	case StopSucceeded, StopTerminal, StopBudgetExhausted, StopCancelled:
		return nil
	default:
		return fmt.Errorf("invalid stop reason: %s", r)
	}
}

// RunStatus represents the live status of an orchestration run.
type RunStatus string

const (
	// RunStatusIdle indicates no run has started.
	RunStatusIdle RunStatus = "idle"

	// RunStatusRunning indicates the orchestration loop is executing cycles.
	RunStatusRunning RunStatus = "running"

	// RunStatusEscalating indicates the failure threshold was crossed and the
	// widened method set is active.
	RunStatusEscalating RunStatus = "escalating"

	// RunStatusStopped indicates the run has ended; see the FinalReport for
	// the stop reason.
	RunStatusStopped RunStatus = "stopped"
)

// IsActive returns true if the run is currently executing.
func (s RunStatus) IsActive() bool {
	return s == RunStatusRunning || s == RunStatusEscalating
}

// Strategy selects how aggressively the engine pursues convergence.
type Strategy string

const (
	// StrategyConservative prefers low-risk methods and slow escalation.
	StrategyConservative Strategy = "conservative"

	// StrategyBalanced is the default middle ground.
	StrategyBalanced Strategy = "balanced"

	// StrategyAggressive tolerates higher-risk methods earlier.
	StrategyAggressive Strategy = "aggressive"

	// StrategyExperimental permits last-resort methods from the first cycle.
	StrategyExperimental Strategy = "experimental"
)

// Validate checks if the strategy is valid.
func (s Strategy) Validate() error {
	switch s {
	case StrategyConservative, StrategyBalanced, StrategyAggressive, StrategyExperimental:
		return nil
	default:
		return fmt.Errorf("invalid strategy: %s", s)
	}
}

// RiskTier classifies how dangerous a method is to the managed target.
// Tiers are ordered; lower tiers win prioritization ties.
type RiskTier string

const (
	// RiskLow methods are safe to retry freely.
	RiskLow RiskTier = "low"

	// RiskMedium methods may disturb workloads on the target.
	RiskMedium RiskTier = "medium"

	// RiskHigh methods can degrade the target if they misfire.
	RiskHigh RiskTier = "high"

	// RiskVeryHigh methods are last resorts gated behind escalation.
	RiskVeryHigh RiskTier = "very_high"
)

// riskOrdinals is the fixed ordinal map used for prioritization tie-breaks.
var riskOrdinals = map[RiskTier]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskVeryHigh: 3,
}

// Ordinal returns the tie-break rank of the risk tier. Unknown tiers rank
// after every known tier so they are tried last.
func (r RiskTier) Ordinal() int {
	if o, ok := riskOrdinals[r]; ok {
		return o
	}
	return len(riskOrdinals)
}

// Validate checks if the risk tier is valid.
func (r RiskTier) Validate() error {
	if _, ok := riskOrdinals[r]; !ok {
		return fmt.Errorf("invalid risk tier: %s", r)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s TargetState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *TargetState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TargetState(str)
	return s.Validate()
}
