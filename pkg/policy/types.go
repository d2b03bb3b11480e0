package policy

import (
	"time"

	"github.com/openmend/openmend/pkg/remedy"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that veto the method.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be overridden.
	SeverityCritical Severity = "critical"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Method is the method name that triggered the violation.
	Method string `json:"method,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Blocking reports whether the violation vetoes the method.
func (v Violation) Blocking() bool {
	return v.Severity == SeverityError || v.Severity == SeverityCritical
}

// GateInput is the input document presented to policies for one candidate.
type GateInput struct {
	// Method describes the candidate under evaluation.
	Method MethodInput `json:"method"`

	// Run is a snapshot of the orchestration run context.
	Run RunInput `json:"run"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// MethodInput describes the candidate method.
type MethodInput struct {
	// Name is the method name.
	Name string `json:"name"`

	// Risk is the declared risk tier.
	Risk string `json:"risk"`

	// Escalation marks escalation-only methods.
	Escalation bool `json:"escalation"`
}

// RunInput is the run-context snapshot policies can condition on.
type RunInput struct {
	// TargetID identifies the managed target.
	TargetID string `json:"target_id"`

	// State is the last observed target state.
	State string `json:"state"`

	// Strategy is the active strategy tier.
	Strategy string `json:"strategy"`

	// Cycle is the current cycle counter.
	Cycle int `json:"cycle"`

	// ConsecutiveFailures counts cycles without progress.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// Capabilities is the target capability set.
	Capabilities map[string]string `json:"capabilities,omitempty"`
}

// newGateInput builds the input document from a profile and candidate.
func newGateInput(profile *remedy.ContextProfile, c remedy.Candidate) *GateInput {
	return &GateInput{
		Method: MethodInput{
			Name:       c.Name(),
			Risk:       string(c.Risk),
			Escalation: c.Escalation,
		},
		Run: RunInput{
			TargetID:            profile.TargetID,
			State:               string(profile.State),
			Strategy:            string(profile.Strategy),
			Cycle:               profile.Cycle,
			ConsecutiveFailures: profile.ConsecutiveFailures,
			Capabilities:        profile.Capabilities,
		},
		Timestamp: time.Now(),
	}
}
