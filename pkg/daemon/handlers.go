package daemon

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// Handler processes one reported event. A returned error is logged and the
// event is still considered handled; errors never propagate to the daemon
// loop.
type Handler func(ctx context.Context, ev ReportedEvent) error

// RemediationTrigger is invoked by handlers that decide the target needs a
// fresh remediation pass. Implementations typically start or nudge an
// orchestration run.
type RemediationTrigger func(ctx context.Context, ev ReportedEvent) error

// dispatcher routes events to per-category handlers with a generic fallback.
type dispatcher struct {
	table   map[string]Handler
	logger  zerolog.Logger
	trigger RemediationTrigger
}

func newDispatcher(logger zerolog.Logger, overrides map[string]Handler, trigger RemediationTrigger) *dispatcher {
	d := &dispatcher{
		logger:  logger.With().Str("component", "dispatch").Logger(),
		trigger: trigger,
	}
	d.table = map[string]Handler{
		CategoryPermission:  d.handlePermission,
		CategoryNetwork:     d.handleNetwork,
		CategoryResource:    d.handleResource,
		CategoryService:     d.handleService,
		CategoryConvergence: d.handleConvergence,
	}
	for category, h := range overrides {
		d.table[category] = h
	}
	return d
}

// dispatch handles one event, swallowing handler panics and errors. The
// returned event has AutoHandled set for every severity below terminal.
func (d *dispatcher) dispatch(ctx context.Context, ev ReportedEvent) ReportedEvent {
	if ev.Severity == SeverityTerminal {
		// Terminal is never faulted away; the daemon loop stops on it.
		return ev
	}

	handler, ok := d.table[ev.Category]
	if !ok {
		handler = d.handleGeneric
	}

	if err := d.invoke(ctx, handler, ev); err != nil {
		d.logger.Warn().Err(err).
			Str("event_id", ev.ID).
			Str("category", ev.Category).
			Msg("Handler faulted, event still marked handled")
	}
	ev.AutoHandled = true
	return ev
}

// invoke runs a handler with panic containment.
func (d *dispatcher) invoke(ctx context.Context, h Handler, ev ReportedEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, ev)
}

// remediate fires the remediation trigger if one is wired. Trigger failures
// are reported to the caller for logging only.
func (d *dispatcher) remediate(ctx context.Context, ev ReportedEvent) error {
	if d.trigger == nil {
		return nil
	}
	return d.trigger(ctx, ev)
}

func (d *dispatcher) handlePermission(ctx context.Context, ev ReportedEvent) error {
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Msg("Handling permission event")
	if ev.Severity.AtLeast(SeverityHigh) {
		return d.remediate(ctx, ev)
	}
	return nil
}

func (d *dispatcher) handleNetwork(_ context.Context, ev ReportedEvent) error {
	// Transient by nature; the monitor re-reports if the condition holds.
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Str("severity", string(ev.Severity)).
		Msg("Handling network event")
	return nil
}

func (d *dispatcher) handleResource(_ context.Context, ev ReportedEvent) error {
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Msg("Handling resource event")
	if ev.Severity.AtLeast(SeverityHigh) {
		var before runtime.MemStats
		runtime.ReadMemStats(&before)
		runtime.GC()
		var after runtime.MemStats
		runtime.ReadMemStats(&after)
		d.logger.Info().
			Uint64("heap_before", before.HeapAlloc).
			Uint64("heap_after", after.HeapAlloc).
			Msg("Forced garbage collection for resource pressure")
	}
	return nil
}

func (d *dispatcher) handleService(ctx context.Context, ev ReportedEvent) error {
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Msg("Handling service event")
	return d.remediate(ctx, ev)
}

func (d *dispatcher) handleConvergence(ctx context.Context, ev ReportedEvent) error {
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("source", ev.Source).
		Msg("Handling convergence event")
	return d.remediate(ctx, ev)
}

func (d *dispatcher) handleGeneric(ctx context.Context, ev ReportedEvent) error {
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("category", ev.Category).
		Str("severity", string(ev.Severity)).
		Msg("Handling uncategorized event")
	if ev.Severity.AtLeast(SeverityCritical) {
		return d.remediate(ctx, ev)
	}
	return nil
}
