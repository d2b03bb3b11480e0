package daemon

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// Default thresholds for the built-in health probes.
const (
	DefaultHeapLimitBytes   = 1 << 30 // 1 GiB
	DefaultMinDiskFreeRatio = 0.05
	DefaultStuckHandlerAge  = 5 * time.Minute
)

// HealthProbe periodically inspects local health and synthesizes a reported
// event when something is wrong. A nil return means healthy.
type HealthProbe interface {
	Name() string
	Probe(ctx context.Context) *ReportedEvent
}

// memoryProbe reports resource pressure when the heap exceeds a byte limit.
type memoryProbe struct {
	limit uint64
}

// NewMemoryProbe creates a heap-usage probe. A zero limit uses the default.
func NewMemoryProbe(limitBytes uint64) HealthProbe {
	if limitBytes == 0 {
		limitBytes = DefaultHeapLimitBytes
	}
	return &memoryProbe{limit: limitBytes}
}

func (p *memoryProbe) Name() string { return "memory" }

func (p *memoryProbe) Probe(_ context.Context) *ReportedEvent {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	if stats.HeapAlloc <= p.limit {
		return nil
	}
	ev := NewEvent(CategoryResource, p.Name(),
		fmt.Sprintf("heap usage %d bytes exceeds limit %d", stats.HeapAlloc, p.limit),
		SeverityHigh)
	ev.Context = map[string]string{
		"heap_alloc": fmt.Sprintf("%d", stats.HeapAlloc),
		"limit":      fmt.Sprintf("%d", p.limit),
	}
	return &ev
}

// diskProbe reports resource pressure when free space on a path drops below
// a ratio of total space.
type diskProbe struct {
	path     string
	minRatio float64
}

// NewDiskProbe creates a free-space probe for path. A zero ratio uses the
// default.
func NewDiskProbe(path string, minFreeRatio float64) HealthProbe {
	if minFreeRatio <= 0 {
		minFreeRatio = DefaultMinDiskFreeRatio
	}
	return &diskProbe{path: path, minRatio: minFreeRatio}
}

func (p *diskProbe) Name() string { return "disk" }

func (p *diskProbe) Probe(_ context.Context) *ReportedEvent {
	var fs unix.Statfs_t
	if err := unix.Statfs(p.path, &fs); err != nil {
		// A failing statfs is itself worth reporting, but only mildly.
		ev := NewEvent(CategoryResource, p.Name(),
			fmt.Sprintf("statfs %s failed: %v", p.path, err), SeverityLow)
		return &ev
	}
	if fs.Blocks == 0 {
		return nil
	}
	free := float64(fs.Bavail) / float64(fs.Blocks)
	if free >= p.minRatio {
		return nil
	}
	ev := NewEvent(CategoryResource, p.Name(),
		fmt.Sprintf("free space on %s at %.1f%%, below %.1f%%", p.path, free*100, p.minRatio*100),
		SeverityHigh)
	ev.Context = map[string]string{"path": p.path}
	return &ev
}

// stuckHandlerProbe reports when the queue holds events but the handler unit
// has not processed one for too long.
type stuckHandlerProbe struct {
	queue       *EventQueue
	lastHandled func() time.Time
	maxAge      time.Duration
}

func newStuckHandlerProbe(queue *EventQueue, lastHandled func() time.Time, maxAge time.Duration) HealthProbe {
	if maxAge <= 0 {
		maxAge = DefaultStuckHandlerAge
	}
	return &stuckHandlerProbe{queue: queue, lastHandled: lastHandled, maxAge: maxAge}
}

func (p *stuckHandlerProbe) Name() string { return "stuck_handler" }

func (p *stuckHandlerProbe) Probe(_ context.Context) *ReportedEvent {
	if p.queue.Len() == 0 {
		return nil
	}
	last := p.lastHandled()
	if last.IsZero() || time.Since(last) < p.maxAge {
		return nil
	}
	ev := NewEvent(CategoryService, p.Name(),
		fmt.Sprintf("handler unit idle for %s with %d events queued", time.Since(last).Round(time.Second), p.queue.Len()),
		SeverityCritical)
	return &ev
}
