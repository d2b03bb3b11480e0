package daemon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openmend/openmend/pkg/remedy"
)

// Default daemon tunables, used when Options leaves the field zero.
const (
	DefaultMonitorInterval = time.Second
	DefaultUpdateInterval  = 15 * time.Minute
	DefaultPopTimeout      = 500 * time.Millisecond
	DefaultStopTimeout     = 5 * time.Second

	recentEventWindow = time.Minute
)

// Monitor is polled by the monitor unit and returns zero or more events per
// poll.
type Monitor interface {
	Name() string
	Poll(ctx context.Context) ([]ReportedEvent, error)
}

// EventSink receives every handled event for audit persistence. Sink
// failures are logged and never interrupt event processing.
type EventSink interface {
	AppendEvent(ctx context.Context, ev ReportedEvent) error
}

// Metrics receives daemon counters. All methods must be safe for concurrent
// use.
type Metrics interface {
	EventReceived(severity string)
	EventHandled(category string, handled bool)
	QueueDepth(depth int)
}

// Options tunes the daemon's three execution units.
type Options struct {
	// MonitorInterval is the monitor unit's poll tick.
	MonitorInterval time.Duration
	// UpdateInterval is the update unit's check tick.
	UpdateInterval time.Duration
	// PopTimeout bounds each queue wait so the handler unit observes
	// shutdown promptly.
	PopTimeout time.Duration
	// StopTimeout bounds the join of all units during Stop.
	StopTimeout time.Duration
	// QueueCapacity bounds the event queue.
	QueueCapacity int
	// HandlerOverrides replaces or extends the per-category dispatch table.
	HandlerOverrides map[string]Handler
}

func (o *Options) applyDefaults() {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = DefaultMonitorInterval
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultUpdateInterval
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = DefaultPopTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
}

// Status is a read-only snapshot of daemon state. Repeated reads with no
// intervening events return identical counters.
type Status struct {
	Running          bool       `json:"running"`
	StartedAt        time.Time  `json:"started_at"`
	Uptime           time.Duration `json:"uptime"`
	EventsReceived   uint64     `json:"events_received"`
	EventsHandled    uint64     `json:"events_handled"`
	EventsDropped    uint64     `json:"events_dropped"`
	QueueDepth       int        `json:"queue_depth"`
	RecentEventCount int        `json:"recent_event_count"`
	LastEventAt      time.Time  `json:"last_event_at,omitempty"`
	TerminalObserved bool       `json:"terminal_observed"`
}

// Daemon runs the monitor, handler, and update units over a shared bounded
// queue. Construct with New, then Start.
type Daemon struct {
	queue    *EventQueue
	dispatch *dispatcher
	monitors []Monitor
	probes   []HealthProbe
	sink     EventSink
	terminal remedy.TerminalDetector
	updater  *ManifestUpdater
	metrics  Metrics
	logger   zerolog.Logger
	opts     Options

	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu          sync.Mutex
	startedAt   time.Time
	received    uint64
	handled     uint64
	lastEventAt time.Time
	lastHandled time.Time
	recent      []time.Time
	sawTerminal bool
}

// New creates a daemon. Monitors, sink, terminal detector, updater, and
// metrics are attached with the WithX methods before Start.
func New(logger zerolog.Logger, opts Options, trigger RemediationTrigger) *Daemon {
	opts.applyDefaults()
	d := &Daemon{
		queue:  NewEventQueue(opts.QueueCapacity),
		logger: logger.With().Str("component", "daemon").Logger(),
		opts:   opts,
	}
	d.dispatch = newDispatcher(logger, opts.HandlerOverrides, trigger)
	d.probes = append(d.probes, newStuckHandlerProbe(d.queue, d.lastHandledAt, DefaultStuckHandlerAge))
	return d
}

// WithMonitor registers a monitor polled every monitor tick.
func (d *Daemon) WithMonitor(m Monitor) *Daemon {
	d.monitors = append(d.monitors, m)
	return d
}

// WithProbe registers an additional health probe.
func (d *Daemon) WithProbe(p HealthProbe) *Daemon {
	d.probes = append(d.probes, p)
	return d
}

// WithEventSink installs an audit sink for handled events.
func (d *Daemon) WithEventSink(s EventSink) *Daemon {
	d.sink = s
	return d
}

// WithTerminalDetector installs a detector consulted for critical events.
func (d *Daemon) WithTerminalDetector(t remedy.TerminalDetector) *Daemon {
	d.terminal = t
	return d
}

// WithUpdater installs a manifest updater driven by the update unit.
func (d *Daemon) WithUpdater(u *ManifestUpdater) *Daemon {
	d.updater = u
	return d
}

// WithMetrics installs a metrics receiver.
func (d *Daemon) WithMetrics(m Metrics) *Daemon {
	d.metrics = m
	return d
}

// Start launches the three units. It returns an error if the daemon is
// already running.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("daemon already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()

	d.wg.Add(2)
	go d.monitorLoop(runCtx)
	go d.handlerLoop(runCtx)
	if d.updater != nil {
		d.wg.Add(1)
		go d.updateLoop(runCtx)
	}

	d.logger.Info().
		Dur("monitor_interval", d.opts.MonitorInterval).
		Dur("update_interval", d.opts.UpdateInterval).
		Int("monitors", len(d.monitors)).
		Msg("Daemon started")
	return nil
}

// Stop clears the running flag and joins all units with a bounded timeout.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		d.running.Store(false)
		if d.cancel != nil {
			d.cancel()
		}
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Info().Msg("Daemon stopped")
		case <-time.After(d.opts.StopTimeout):
			err = fmt.Errorf("daemon units did not stop within %s", d.opts.StopTimeout)
			d.logger.Error().Dur("timeout", d.opts.StopTimeout).Msg("Daemon stop timed out")
		}
	})
	return err
}

// Running reports whether the daemon is processing events.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// ReportEvent enqueues an externally reported problem. Fire-and-forget:
// enqueueing succeeds even after the daemon has stopped, though stopped
// daemons never dequeue.
func (d *Daemon) ReportEvent(category, message string, severity Severity, eventCtx map[string]string) {
	if severity.Validate() != nil {
		severity = ClassifySeverity(message)
	}
	ev := NewEvent(category, "api", message, severity)
	ev.Context = eventCtx
	d.submit(ev)
}

// submit counts and enqueues one event regardless of origin.
func (d *Daemon) submit(ev ReportedEvent) {
	d.mu.Lock()
	d.received++
	d.lastEventAt = ev.Timestamp
	d.recent = append(d.recent, ev.Timestamp)
	d.pruneRecentLocked()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.EventReceived(string(ev.Severity))
	}
	if !d.queue.Push(ev) {
		d.logger.Warn().
			Str("event_id", ev.ID).
			Str("category", ev.Category).
			Msg("Event queue full, event dropped")
	}
}

// GetStatus returns a consistent snapshot of daemon counters.
func (d *Daemon) GetStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneRecentLocked()

	status := Status{
		Running:          d.running.Load(),
		StartedAt:        d.startedAt,
		EventsReceived:   d.received,
		EventsHandled:    d.handled,
		EventsDropped:    d.queue.Dropped(),
		QueueDepth:       d.queue.Len(),
		RecentEventCount: len(d.recent),
		LastEventAt:      d.lastEventAt,
		TerminalObserved: d.sawTerminal,
	}
	if !d.startedAt.IsZero() {
		status.Uptime = time.Since(d.startedAt)
	}
	return status
}

func (d *Daemon) monitorLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.MonitorInterval)
	defer ticker.Stop()

	for d.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollMonitors(ctx)
			d.runProbes(ctx)
			if d.metrics != nil {
				d.metrics.QueueDepth(d.queue.Len())
			}
		}
	}
}

func (d *Daemon) pollMonitors(ctx context.Context) {
	for _, m := range d.monitors {
		events, err := d.pollOne(ctx, m)
		if err != nil {
			d.logger.Warn().Err(err).Str("monitor", m.Name()).Msg("Monitor poll failed")
			continue
		}
		for _, ev := range events {
			if ev.Source == "" {
				ev.Source = m.Name()
			}
			d.submit(ev)
		}
	}
}

// pollOne contains a single monitor's panic so one bad monitor cannot take
// down the unit.
func (d *Daemon) pollOne(ctx context.Context, m Monitor) (events []ReportedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor panicked: %v", r)
		}
	}()
	return m.Poll(ctx)
}

func (d *Daemon) runProbes(ctx context.Context) {
	for _, p := range d.probes {
		if ev := p.Probe(ctx); ev != nil {
			d.submit(*ev)
		}
	}
}

func (d *Daemon) handlerLoop(ctx context.Context) {
	defer d.wg.Done()

	for d.running.Load() {
		if ctx.Err() != nil {
			return
		}
		ev, ok := d.queue.Pop(d.opts.PopTimeout)
		if !ok {
			continue
		}

		if ev.Severity == SeverityTerminal {
			d.stopForTerminal(ev, "terminal severity event")
			return
		}
		if ev.Severity.AtLeast(SeverityCritical) && d.terminal != nil && d.terminal.IsTerminal(ctx) {
			d.stopForTerminal(ev, "terminal signature confirmed for critical event")
			return
		}

		processed := d.dispatch.dispatch(ctx, ev)
		d.record(ctx, processed)

		d.mu.Lock()
		d.handled++
		d.lastHandled = time.Now()
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.EventHandled(ev.Category, processed.AutoHandled)
		}
	}
}

// stopForTerminal flips the running flag so all units wind down. The event
// is still persisted for the audit trail.
func (d *Daemon) stopForTerminal(ev ReportedEvent, reason string) {
	d.logger.Error().
		Str("event_id", ev.ID).
		Str("category", ev.Category).
		Str("message", ev.Message).
		Msg("Terminal condition observed, stopping daemon: " + reason)

	d.mu.Lock()
	d.sawTerminal = true
	d.mu.Unlock()

	d.record(context.Background(), ev)
	d.running.Store(false)
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) record(ctx context.Context, ev ReportedEvent) {
	if d.sink == nil {
		return
	}
	if err := d.sink.AppendEvent(ctx, ev); err != nil {
		d.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Failed to persist event record")
	}
}

func (d *Daemon) updateLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.UpdateInterval)
	defer ticker.Stop()

	for d.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.updater.Apply(ctx); err != nil {
				d.logger.Warn().Err(err).Msg("Manifest update failed, prior version remains active")
			}
		}
	}
}

func (d *Daemon) lastHandledAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHandled
}

func (d *Daemon) pruneRecentLocked() {
	cutoff := time.Now().Add(-recentEventWindow)
	for len(d.recent) > 0 && d.recent[0].Before(cutoff) {
		d.recent = d.recent[1:]
	}
}
