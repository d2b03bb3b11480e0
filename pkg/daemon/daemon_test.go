package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastDaemonOpts() Options {
	return Options{
		MonitorInterval: 10 * time.Millisecond,
		UpdateInterval:  10 * time.Millisecond,
		PopTimeout:      10 * time.Millisecond,
		StopTimeout:     2 * time.Second,
		QueueCapacity:   64,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before deadline")
}

type fakeMonitor struct {
	mu     sync.Mutex
	events []ReportedEvent
}

func (m *fakeMonitor) Name() string { return "fake-monitor" }

func (m *fakeMonitor) Poll(_ context.Context) ([]ReportedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events
	m.events = nil
	return events, nil
}

func (m *fakeMonitor) emit(ev ReportedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

type fakeEventSink struct {
	mu      sync.Mutex
	records []ReportedEvent
}

func (s *fakeEventSink) AppendEvent(_ context.Context, ev ReportedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, ev)
	return nil
}

func (s *fakeEventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeEventSink) last() (ReportedEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return ReportedEvent{}, false
	}
	return s.records[len(s.records)-1], true
}

func TestDaemon_StartStop(t *testing.T) {
	d := New(zerolog.Nop(), fastDaemonOpts(), nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Running() {
		t.Error("Expected daemon running after start")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Error("Expected second start to fail")
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.Running() {
		t.Error("Expected daemon stopped")
	}
}

func TestDaemon_ReportEvent_Handled(t *testing.T) {
	sink := &fakeEventSink{}
	d := New(zerolog.Nop(), fastDaemonOpts(), nil).WithEventSink(sink)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.ReportEvent(CategoryNetwork, "link flap on eth0", SeverityMedium, map[string]string{"iface": "eth0"})

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	rec, ok := sink.last()
	if !ok {
		t.Fatal("Expected a persisted event")
	}
	if !rec.AutoHandled {
		t.Error("Expected event marked auto-handled")
	}
	status := d.GetStatus()
	if status.EventsReceived != 1 {
		t.Errorf("Expected 1 event received, got %d", status.EventsReceived)
	}
	if status.EventsHandled != 1 {
		t.Errorf("Expected 1 event handled, got %d", status.EventsHandled)
	}
	if !d.Running() {
		t.Error("Expected daemon still running")
	}
}

func TestDaemon_HandlerFaultSwallowed(t *testing.T) {
	opts := fastDaemonOpts()
	opts.HandlerOverrides = map[string]Handler{
		"explosive": func(_ context.Context, _ ReportedEvent) error {
			panic("handler blew up")
		},
		"broken": func(_ context.Context, _ ReportedEvent) error {
			return errors.New("handler error")
		},
	}
	sink := &fakeEventSink{}
	d := New(zerolog.Nop(), opts, nil).WithEventSink(sink)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.ReportEvent("explosive", "boom", SeverityCritical, nil)
	d.ReportEvent("broken", "crunch", SeverityHigh, nil)

	waitFor(t, time.Second, func() bool { return sink.count() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, rec := range sink.records {
		if !rec.AutoHandled {
			t.Errorf("Expected faulting handler's event %q still marked handled", rec.Category)
		}
	}
	if !d.Running() {
		t.Error("Expected daemon running after handler faults")
	}
}

func TestDaemon_TerminalStops(t *testing.T) {
	sink := &fakeEventSink{}
	d := New(zerolog.Nop(), fastDaemonOpts(), nil).WithEventSink(sink)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.ReportEvent(CategoryService, "target bricked", SeverityTerminal, nil)

	waitFor(t, time.Second, func() bool { return !d.Running() })

	status := d.GetStatus()
	if !status.TerminalObserved {
		t.Error("Expected terminal observed in status")
	}

	// Post-stop reports still enqueue but are never dequeued.
	d.ReportEvent(CategoryNetwork, "late event", SeverityLow, nil)
	status = d.GetStatus()
	if status.EventsReceived != 2 {
		t.Errorf("Expected 2 events received, got %d", status.EventsReceived)
	}
	time.Sleep(50 * time.Millisecond)
	if d.GetStatus().QueueDepth != 1 {
		t.Errorf("Expected late event to remain queued, depth = %d", d.GetStatus().QueueDepth)
	}
}

func TestDaemon_MonitorEventsFlow(t *testing.T) {
	monitor := &fakeMonitor{}
	sink := &fakeEventSink{}
	d := New(zerolog.Nop(), fastDaemonOpts(), nil).WithMonitor(monitor).WithEventSink(sink)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	monitor.emit(NewEvent(CategoryService, "", "service wedged", SeverityHigh))

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	rec, _ := sink.last()
	if rec.Source != "fake-monitor" {
		t.Errorf("Expected source filled from monitor name, got %q", rec.Source)
	}
}

func TestDaemon_RemediationTrigger(t *testing.T) {
	var mu sync.Mutex
	triggered := 0
	trigger := func(_ context.Context, _ ReportedEvent) error {
		mu.Lock()
		triggered++
		mu.Unlock()
		return nil
	}

	d := New(zerolog.Nop(), fastDaemonOpts(), trigger)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.ReportEvent(CategoryConvergence, "target drifted", SeverityHigh, nil)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return triggered == 1
	})
}

func TestDaemon_GetStatusIdempotent(t *testing.T) {
	d := New(zerolog.Nop(), fastDaemonOpts(), nil)

	first := d.GetStatus()
	second := d.GetStatus()

	if first.EventsReceived != second.EventsReceived ||
		first.EventsHandled != second.EventsHandled ||
		first.QueueDepth != second.QueueDepth ||
		first.RecentEventCount != second.RecentEventCount {
		t.Error("Expected identical counters for repeated status reads with no events")
	}
}

func TestDaemon_InvalidSeverityClassified(t *testing.T) {
	sink := &fakeEventSink{}
	d := New(zerolog.Nop(), fastDaemonOpts(), nil).WithEventSink(sink)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	d.ReportEvent(CategoryNetwork, "error contacting peer", Severity("bogus"), nil)

	waitFor(t, time.Second, func() bool { return sink.count() == 1 })
	rec, _ := sink.last()
	if rec.Severity != SeverityHigh {
		t.Errorf("Expected severity classified from message, got %s", rec.Severity)
	}
}
