package daemon

import (
	"sync/atomic"
	"time"
)

// DefaultQueueCapacity bounds the event queue when Options leaves it zero.
const DefaultQueueCapacity = 1024

// EventQueue is a bounded thread-safe FIFO of reported events. A full queue
// drops the newest event rather than blocking the reporter; drops are counted
// and surfaced through daemon status.
type EventQueue struct {
	ch      chan ReportedEvent
	dropped atomic.Uint64
}

// NewEventQueue creates a queue holding at most capacity events.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &EventQueue{ch: make(chan ReportedEvent, capacity)}
}

// Push enqueues an event. It never blocks; when the queue is full the event
// is dropped and false is returned.
func (q *EventQueue) Push(ev ReportedEvent) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop removes the oldest event, waiting up to timeout for one to arrive. The
// bounded wait keeps consumers responsive to shutdown.
func (q *EventQueue) Pop(timeout time.Duration) (ReportedEvent, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-q.ch:
		return ev, true
	case <-timer.C:
		return ReportedEvent{}, false
	}
}

// Len reports the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// Dropped reports how many events were rejected by a full queue.
func (q *EventQueue) Dropped() uint64 {
	return q.dropped.Load()
}
