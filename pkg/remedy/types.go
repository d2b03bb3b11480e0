package remedy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ContextProfile is the per-run snapshot of target and goal attributes that
// methods consult when estimating success probability. It is created once per
// orchestration run and mutated in place each cycle (state, cycle counter,
// timeout ceiling); it must never be shared across concurrent runs without a
// copy.
type ContextProfile struct {
	// TargetID identifies the managed target.
	TargetID string `json:"target_id"`

	// Capabilities is the string-keyed capability set detected on the target
	// (e.g. "native_support", "safety_relaxed"). Methods add probability
	// deltas for capabilities they can exploit.
	Capabilities map[string]string `json:"capabilities,omitempty"`

	// State is the most recently observed target state.
	State TargetState `json:"state"`

	// Strategy is the selected escalation strategy tier.
	Strategy Strategy `json:"strategy"`

	// Cycle is the current cycle counter. It only increases.
	Cycle int `json:"cycle"`

	// MaxCycles is the cycle budget for this run.
	MaxCycles int `json:"max_cycles"`

	// ConsecutiveFailures counts cycles since the last observed progress.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// TimeoutCeiling bounds every method execution. Strategy mutation widens
	// it by a small random delta after failed cycles.
	TimeoutCeiling time.Duration `json:"timeout_ceiling"`

	// Seed drives tie-break randomization during prioritization. Strategy
	// mutation reseeds it between cycles.
	Seed int64 `json:"seed"`
}

// HasCapability reports whether a capability flag is present on the target.
func (p *ContextProfile) HasCapability(name string) bool {
	_, ok := p.Capabilities[name]
	return ok
}

// Clone returns a deep copy of the profile, safe to hand to another goroutine.
func (p *ContextProfile) Clone() *ContextProfile {
	cp := *p
	cp.Capabilities = make(map[string]string, len(p.Capabilities))
	for k, v := range p.Capabilities {
		cp.Capabilities[k] = v
	}
	return &cp
}

// Method is a pluggable remediation capability. Implementations must be
// stateless across invocations; any state a method needs belongs in the
// ContextProfile. Execute must honor the deadline on the passed context.
type Method interface {
	// Name returns the unique method name.
	Name() string

	// Prerequisites returns the ordered list of capability names the method
	// requires. A method is skipped when any prerequisite is missing from the
	// profile's capability set.
	Prerequisites() []string

	// IsAvailable reports whether the method can run in the given context.
	IsAvailable(profile *ContextProfile) bool

	// EstimateProbability returns the estimated success probability in [0,1]
	// for the given context. Scoring is additive and bounded: a base
	// probability plus fixed deltas for matching capability flags, clamped.
	EstimateProbability(profile *ContextProfile) float64

	// Execute attempts the remediation. It returns the method's self-reported
	// outcome and a human-readable message. The engine treats the re-detected
	// target state, not the returned boolean, as the authoritative success
	// signal.
	Execute(ctx context.Context, profile *ContextProfile) (bool, string, error)
}

// Candidate pairs a method with the risk metadata the prioritizer needs.
// Risk tier and escalation-set membership are configuration, not code.
type Candidate struct {
	// Method is the registered method implementation.
	Method Method

	// Risk is the declared risk tier used for prioritization tie-breaks and
	// policy gating.
	Risk RiskTier

	// Escalation marks methods that only join the active set after the
	// consecutive-failure threshold is crossed.
	Escalation bool
}

// Name returns the candidate's method name.
func (c Candidate) Name() string {
	return c.Method.Name()
}

// AttemptRecord captures one method execution inside a cycle. Records are
// constructed fully before they are appended anywhere and never mutated
// afterwards.
type AttemptRecord struct {
	// RunID ties the record to its orchestration run. Stamped by the
	// orchestrator before the record reaches the audit sink.
	RunID string `json:"run_id,omitempty"`

	// Sequence is the strictly increasing attempt number within the run.
	Sequence uint64 `json:"sequence"`

	// Cycle is the cycle in which the attempt happened.
	Cycle int `json:"cycle"`

	// Method is the name of the method that was executed.
	Method string `json:"method"`

	// StateBefore is the target state observed before the attempt.
	StateBefore TargetState `json:"state_before"`

	// StateAfter is the target state re-detected after the attempt.
	StateAfter TargetState `json:"state_after"`

	// Success is the method's self-reported outcome. The cycle-level goal
	// decision always comes from state re-detection instead.
	Success bool `json:"success"`

	// Message is the method's outcome message.
	Message string `json:"message,omitempty"`

	// Error holds the error text when the method faulted.
	Error string `json:"error,omitempty"`

	// StartedAt is when the execution began.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`

	// Integrity is the short hash tying the record to its content.
	Integrity string `json:"integrity"`
}

// FinalReport summarizes a completed orchestration run.
type FinalReport struct {
	// RunID is the unique identifier of the run.
	RunID string `json:"run_id"`

	// TargetID identifies the managed target.
	TargetID string `json:"target_id"`

	// FinalState is the last observed target state.
	FinalState TargetState `json:"final_state"`

	// StopReason explains why the run ended.
	StopReason StopReason `json:"stop_reason"`

	// CyclesUsed is the number of cycles executed.
	CyclesUsed int `json:"cycles_used"`

	// SucceededMethod is the method active when the goal was reached, if any.
	SucceededMethod string `json:"succeeded_method,omitempty"`

	// Attempts is the full attempt history in sequence order.
	Attempts []AttemptRecord `json:"attempts"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run ended.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run time.
	Duration time.Duration `json:"duration"`
}

// StateDetector supplies target state snapshots. Implementations must be
// cheap, repeatable, and side-effect-free with respect to orchestration
// bookkeeping.
type StateDetector interface {
	// DetectState observes and returns the current target state.
	DetectState(ctx context.Context) (TargetState, error)
}

// TerminalDetector decides whether an irrecoverable condition has been
// observed. It is intentionally conservative: a false positive stops work
// early (safe); a false negative is mitigated by the cycle budget.
type TerminalDetector interface {
	// IsTerminal reports whether further attempts must stop.
	IsTerminal(ctx context.Context) bool
}

// PolicyGate is consulted during prioritization to veto candidates whose risk
// the active policy does not permit.
type PolicyGate interface {
	// AllowMethod reports whether the candidate may run under the given
	// profile. The returned string carries the denial reason.
	AllowMethod(ctx context.Context, profile *ContextProfile, c Candidate) (bool, string, error)
}

// AuditSink accepts attempt records for durable, append-only storage. It must
// be safe for concurrent callers; failures are logged by the engine and never
// propagate as orchestration failures.
type AuditSink interface {
	// AppendAttempt appends one attempt record.
	AppendAttempt(ctx context.Context, rec AttemptRecord) error
}

// Metrics receives execution measurements from the engine. Implementations
// must be safe for concurrent use. A nil Metrics disables instrumentation.
type Metrics interface {
	// CycleCompleted records one finished cycle.
	CycleCompleted(goalReached bool, d time.Duration)

	// AttemptCompleted records one finished method execution.
	AttemptCompleted(method string, success bool, d time.Duration)

	// EscalationWidened records activation of the escalation method set.
	EscalationWidened()

	// RecordError records one classified error by class and code.
	RecordError(errorClass, errorCode string)
}

// IntegrityTag computes the short content hash attached to audit records:
// sha256 over the timestamp and the given parts, truncated to 16 hex chars.
func IntegrityTag(ts time.Time, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(ts.UnixNano(), 10)))
	h.Write([]byte("|"))
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
