package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openmend/openmend/pkg/remedy"
)

// Severity grades a reported event. Only SeverityTerminal stops the daemon;
// every other severity is handled and processing continues.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityTerminal Severity = "terminal"
)

var severityOrdinals = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
	SeverityTerminal: 4,
}

// Validate checks that the severity is a known value.
func (s Severity) Validate() error {
	if _, ok := severityOrdinals[s]; !ok {
		return fmt.Errorf("invalid severity: %s", s)
	}
	return nil
}

// AtLeast reports whether the severity is at or above the given floor.
func (s Severity) AtLeast(floor Severity) bool {
	return severityOrdinals[s] >= severityOrdinals[floor]
}

// Built-in handler categories. Events with any other category fall through to
// the generic handler.
const (
	CategoryPermission  = "permission"
	CategoryNetwork     = "network"
	CategoryResource    = "resource"
	CategoryService     = "service"
	CategoryConvergence = "convergence"
)

// ReportedEvent is one externally or internally reported problem. Events are
// consumed exactly once by the handler unit and discarded after handling.
type ReportedEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`
	// Timestamp is when the event was reported.
	Timestamp time.Time `json:"timestamp"`
	// Severity grades the event.
	Severity Severity `json:"severity"`
	// Category selects the handler. Free-form; unknown categories use the
	// generic handler.
	Category string `json:"category"`
	// Source names the reporter (monitor name, probe name, or caller).
	Source string `json:"source"`
	// Message describes the problem.
	Message string `json:"message"`
	// Context carries free-form key/value detail.
	Context map[string]string `json:"context,omitempty"`
	// AutoHandled is set by the handler unit once the event is processed.
	AutoHandled bool `json:"auto_handled"`
}

// NewEvent creates a reported event with a fresh ID and timestamp.
func NewEvent(category, source, message string, severity Severity) ReportedEvent {
	return ReportedEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Severity:  severity,
		Category:  category,
		Source:    source,
		Message:   message,
	}
}

// ClassifySeverity derives a severity from free-form diagnostic text. Used by
// monitors that only see raw messages. The irrecoverable fragments are the
// same ones the orchestrator's diagnostic probe scans for.
func ClassifySeverity(message string) Severity {
	lower := strings.ToLower(message)
	for _, marker := range remedy.TerminalSignatures {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return SeverityTerminal
		}
	}
	switch {
	case strings.Contains(lower, "critical") || strings.Contains(lower, "fatal"):
		return SeverityCritical
	case strings.Contains(lower, "error") || strings.Contains(lower, "fail"):
		return SeverityHigh
	case strings.Contains(lower, "warn") || strings.Contains(lower, "degraded"):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
