package remedy

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default orchestration tunables, used when OrchestratorOptions leaves the
// corresponding field zero.
const (
	DefaultMaxCycles        = 10
	DefaultFailureThreshold = 3
	DefaultBackoffBase      = 2 * time.Second
	DefaultBackoffCap       = 60 * time.Second
)

// Strategy ladder walked on repeated failure. The run never steps back down.
var strategyLadder = []Strategy{
	StrategyConservative,
	StrategyBalanced,
	StrategyAggressive,
	StrategyExperimental,
}

// OrchestratorOptions tunes the outer retry loop.
type OrchestratorOptions struct {
	// MaxCycles is the cycle budget for a run.
	MaxCycles int
	// FailureThreshold is the number of consecutive failed cycles after
	// which the escalation set is widened.
	FailureThreshold int
	// BackoffBase is the first inter-cycle delay, doubled per consecutive
	// failure.
	BackoffBase time.Duration
	// BackoffCap bounds the inter-cycle delay before jitter.
	BackoffCap time.Duration
}

func (o *OrchestratorOptions) applyDefaults() {
	if o.MaxCycles <= 0 {
		o.MaxCycles = DefaultMaxCycles
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
}

// Orchestrator drives repeated escalation cycles against a single target
// until the goal state is reached, the cycle budget runs out, a terminal
// signature trips, or the caller cancels.
type Orchestrator struct {
	detector StateDetector
	terminal TerminalDetector
	registry *Registry
	runner   *CycleRunner
	audit    AuditSink
	metrics  Metrics
	logger   zerolog.Logger
	opts     OrchestratorOptions

	seq uint64
	rng *rand.Rand

	mu     sync.Mutex
	status RunStatus
}

// NewOrchestrator wires an orchestrator around a detector and a registry.
// The terminal detector, audit sink, and metrics receiver are optional.
func NewOrchestrator(detector StateDetector, registry *Registry, logger zerolog.Logger, opts OrchestratorOptions) *Orchestrator {
	opts.applyDefaults()
	o := &Orchestrator{
		detector: detector,
		registry: registry,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		opts:     opts,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		status:   RunStatusIdle,
	}
	o.runner = NewCycleRunner(detector, registry, logger).
		withSequence(func() uint64 { return atomic.AddUint64(&o.seq, 1) })
	return o
}

// WithTerminalDetector installs a terminal-signature detector checked before
// every cycle.
func (o *Orchestrator) WithTerminalDetector(t TerminalDetector) *Orchestrator {
	o.terminal = t
	return o
}

// WithAuditSink installs an attempt-record sink. Sink failures are logged
// and never interrupt the run.
func (o *Orchestrator) WithAuditSink(s AuditSink) *Orchestrator {
	o.audit = s
	return o
}

// WithMetrics installs a metrics receiver.
func (o *Orchestrator) WithMetrics(m Metrics) *Orchestrator {
	o.metrics = m
	o.runner.withMetrics(m)
	return o
}

// Status reports the current run phase.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Orchestrator) setStatus(s RunStatus) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

// Run executes the full escalation loop for the profile and returns the
// final report. The report is always non-nil on a nil error; the only error
// cases are an invalid profile or a nil detector.
func (o *Orchestrator) Run(ctx context.Context, profile *ContextProfile) (*FinalReport, error) {
	if o.detector == nil {
		return nil, NewPermanentError("orchestrator requires a state detector", nil).WithCode(ErrCodeValidation)
	}
	if profile == nil || profile.TargetID == "" {
		return nil, NewPermanentError("profile must name a target", nil).WithCode(ErrCodeValidation)
	}
	if profile.MaxCycles <= 0 {
		profile.MaxCycles = o.opts.MaxCycles
	}
	if profile.TimeoutCeiling <= 0 {
		profile.TimeoutCeiling = 30 * time.Second
	}
	if profile.Seed == 0 {
		profile.Seed = o.rng.Int63()
	}
	if profile.Strategy == "" {
		profile.Strategy = StrategyConservative
	}

	report := &FinalReport{
		RunID:     uuid.New().String(),
		TargetID:  profile.TargetID,
		StartedAt: time.Now(),
	}
	logger := o.logger.With().Str("run_id", report.RunID).Str("target", profile.TargetID).Logger()

	o.setStatus(RunStatusRunning)
	defer o.setStatus(RunStatusStopped)

	logger.Info().
		Int("max_cycles", profile.MaxCycles).
		Str("strategy", string(profile.Strategy)).
		Msg("Starting escalation run")

	for cycle := 1; cycle <= profile.MaxCycles; cycle++ {
		profile.Cycle = cycle

		if err := ctx.Err(); err != nil {
			logger.Info().Int("cycle", cycle).Msg("Run cancelled by caller")
			return o.finish(report, profile, StopCancelled, cycle-1), nil
		}
		if o.terminal != nil && o.terminal.IsTerminal(ctx) {
			logger.Error().Int("cycle", cycle).Msg("Terminal signature detected, stopping before attempts")
			return o.finish(report, profile, StopTerminal, cycle-1), nil
		}

		start := time.Now()
		goal, records := o.runner.RunCycle(ctx, profile)
		for i := range records {
			records[i].RunID = report.RunID
		}
		o.record(ctx, logger, records)
		if o.metrics != nil {
			o.metrics.CycleCompleted(goal, time.Since(start))
		}
		report.Attempts = append(report.Attempts, records...)

		if goal {
			logger.Info().Int("cycle", cycle).Msg("Target converged")
			report.SucceededMethod = lastSuccessfulMethod(records)
			return o.finish(report, profile, StopSucceeded, cycle), nil
		}

		profile.ConsecutiveFailures++
		logger.Warn().
			Int("cycle", cycle).
			Int("consecutive_failures", profile.ConsecutiveFailures).
			Msg("Cycle did not reach goal state")

		if profile.ConsecutiveFailures == o.opts.FailureThreshold {
			if o.registry.Widen() {
				o.setStatus(RunStatusEscalating)
				if o.metrics != nil {
					o.metrics.EscalationWidened()
				}
				logger.Info().Msg("Escalation methods enabled")
			}
		}
		o.mutate(profile, logger)

		if cycle < profile.MaxCycles {
			if !o.backoff(ctx, profile.ConsecutiveFailures) {
				return o.finish(report, profile, StopCancelled, cycle), nil
			}
		}
	}

	logger.Warn().Int("cycles", profile.MaxCycles).Msg("Cycle budget exhausted without convergence")
	return o.finish(report, profile, StopBudgetExhausted, profile.MaxCycles), nil
}

// mutate perturbs the profile between cycles so the next prioritization does
// not replay the exact losing order: the strategy ladder advances, the
// shuffle seed changes, and the per-method timeout ceiling stretches.
func (o *Orchestrator) mutate(profile *ContextProfile, logger zerolog.Logger) {
	prev := profile.Strategy
	for i, s := range strategyLadder {
		if s == profile.Strategy && i < len(strategyLadder)-1 {
			profile.Strategy = strategyLadder[i+1]
			break
		}
	}
	profile.Seed = o.rng.Int63()
	profile.TimeoutCeiling += time.Duration(o.rng.Int63n(int64(profile.TimeoutCeiling)/2 + 1))

	if profile.Strategy != prev {
		logger.Info().
			Str("from", string(prev)).
			Str("to", string(profile.Strategy)).
			Msg("Strategy escalated")
	}
}

// backoff sleeps for the jittered exponential delay, returning false if the
// context is cancelled while waiting.
func (o *Orchestrator) backoff(ctx context.Context, failures int) bool {
	delay := o.opts.BackoffBase
	for i := 1; i < failures && delay < o.opts.BackoffCap; i++ {
		delay *= 2
	}
	if delay > o.opts.BackoffCap {
		delay = o.opts.BackoffCap
	}
	// Full jitter keeps concurrent runs against sibling targets from
	// synchronizing.
	delay = time.Duration(float64(delay) * (0.5 + o.rng.Float64()/2))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, records []AttemptRecord) {
	if o.audit == nil {
		return
	}
	for _, rec := range records {
		if err := o.audit.AppendAttempt(ctx, rec); err != nil {
			logger.Warn().Err(err).Uint64("sequence", rec.Sequence).Msg("Failed to persist attempt record")
			if o.metrics != nil {
				class, code := ErrorClassCode(err)
				o.metrics.RecordError(class, code)
			}
		}
	}
}

func (o *Orchestrator) finish(report *FinalReport, profile *ContextProfile, reason StopReason, cycles int) *FinalReport {
	report.StopReason = reason
	report.CyclesUsed = cycles
	report.FinalState = profile.State
	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)
	return report
}

func lastSuccessfulMethod(records []AttemptRecord) string {
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Success {
			return records[i].Method
		}
	}
	if n := len(records); n > 0 {
		return records[n-1].Method
	}
	return ""
}
