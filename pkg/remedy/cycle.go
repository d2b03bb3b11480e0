package remedy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CycleRunner executes one prioritize-then-attempt pass. A fault in one
// candidate never aborts the cycle; the error is recorded and the next
// candidate is tried.
type CycleRunner struct {
	detector StateDetector
	registry *Registry
	logger   zerolog.Logger
	metrics  Metrics

	// nextSeq hands out strictly increasing attempt sequence numbers. The
	// orchestrator injects its run-scoped counter; standalone runners fall
	// back to a private one.
	nextSeq func() uint64
}

// NewCycleRunner creates a cycle runner with its own sequence counter.
func NewCycleRunner(detector StateDetector, registry *Registry, logger zerolog.Logger) *CycleRunner {
	var seq uint64
	return &CycleRunner{
		detector: detector,
		registry: registry,
		logger:   logger.With().Str("component", "cycle").Logger(),
		nextSeq: func() uint64 {
			return atomic.AddUint64(&seq, 1)
		},
	}
}

// withSequence replaces the sequence source. Used by the orchestrator so the
// whole run shares one counter.
func (cr *CycleRunner) withSequence(next func() uint64) *CycleRunner {
	cr.nextSeq = next
	return cr
}

// withMetrics attaches a metrics receiver.
func (cr *CycleRunner) withMetrics(m Metrics) *CycleRunner {
	cr.metrics = m
	return cr
}

// RunCycle executes a single escalation cycle against the profile. It returns
// whether the goal state was reached and one AttemptRecord per candidate
// tried. The re-detected target state, not any method's self-reported
// boolean, decides goal attainment.
func (cr *CycleRunner) RunCycle(ctx context.Context, profile *ContextProfile) (bool, []AttemptRecord) {
	before := cr.detect(ctx)
	profile.State = before

	if before == StateConverged {
		cr.logger.Info().
			Int("cycle", profile.Cycle).
			Msg("Target already converged, nothing to do")
		return true, nil
	}

	candidates := cr.registry.Prioritize(ctx, profile)
	if len(candidates) == 0 {
		cr.logger.Warn().
			Int("cycle", profile.Cycle).
			Msg("No available methods for current context")
		return false, nil
	}

	records := make([]AttemptRecord, 0, len(candidates))
	current := before
	claimed := false

	for _, cand := range candidates {
		cr.logger.Info().
			Int("cycle", profile.Cycle).
			Str("method", cand.Name()).
			Float64("score", cand.Score).
			Str("risk", string(cand.Risk)).
			Msg("Attempting method")

		start := time.Now()
		ok, msg, err := cr.execute(ctx, profile, cand.Candidate)
		after := cr.detect(ctx)

		rec := AttemptRecord{
			Sequence:    cr.nextSeq(),
			Cycle:       profile.Cycle,
			Method:      cand.Name(),
			StateBefore: current,
			StateAfter:  after,
			Success:     ok && err == nil,
			Message:     msg,
			StartedAt:   start,
			Duration:    time.Since(start),
		}
		if err != nil {
			rec.Error = err.Error()
			cr.logger.Warn().Err(err).
				Str("method", cand.Name()).
				Msg("Method execution faulted, continuing with next candidate")
		}
		rec.Integrity = IntegrityTag(rec.StartedAt, rec.Method, rec.Message, rec.Error)
		records = append(records, rec)

		if cr.metrics != nil {
			cr.metrics.AttemptCompleted(rec.Method, rec.Success, rec.Duration)
			if err != nil {
				class, code := ErrorClassCode(err)
				cr.metrics.RecordError(class, code)
			}
		}

		current = after
		profile.State = after

		if after == StateConverged {
			return true, records
		}
		if rec.Success {
			claimed = true
			break
		}
	}

	// State re-detection is authoritative; a method may claim success
	// incorrectly.
	final := cr.detect(ctx)
	profile.State = final

	if claimed && final != StateConverged {
		cr.logger.Warn().
			Int("cycle", profile.Cycle).
			Str("state", string(final)).
			Msg("Method reported success but target state is not converged")
	}
	if final.Better(before) {
		cr.logger.Info().
			Str("before", string(before)).
			Str("after", string(final)).
			Msg("Partial progress observed")
	}

	return final == StateConverged, records
}

// execute runs one candidate under the profile's timeout ceiling. Panics and
// deadline overruns become classified errors; the underlying call runs to
// completion or its own timeout, it is never left hanging on our side.
func (cr *CycleRunner) execute(ctx context.Context, profile *ContextProfile, c Candidate) (bool, string, error) {
	execCtx, cancel := context.WithTimeout(ctx, profile.TimeoutCeiling)
	defer cancel()

	type outcome struct {
		ok  bool
		msg string
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewPermanentError(
					fmt.Sprintf("method panicked: %v", r), nil).
					WithCode(ErrCodeMethodPanic).WithMethod(c.Name())}
			}
		}()
		ok, msg, err := c.Method.Execute(execCtx, profile)
		done <- outcome{ok: ok, msg: msg, err: err}
	}()

	select {
	case o := <-done:
		return o.ok, o.msg, o.err
	case <-execCtx.Done():
		return false, "", NewTransientError("method execution deadline exceeded", execCtx.Err()).
			WithCode(ErrCodeMethodTimeout).WithMethod(c.Name())
	}
}

// detect snapshots the target state, degrading to StateUnknown on detector
// failure so a flaky detector cannot abort a cycle.
func (cr *CycleRunner) detect(ctx context.Context) TargetState {
	state, err := cr.detector.DetectState(ctx)
	if err != nil {
		cr.logger.Warn().Err(err).Msg("State detection failed")
		return StateUnknown
	}
	return state
}
