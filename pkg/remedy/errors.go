package remedy

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and stop logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable failure of one method or
	// handler. It never stops the engine; the next candidate is tried.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTerminal indicates an irrecoverable target condition. This is
	// the only class that halts orchestration and the event daemon.
	ErrorClassTerminal ErrorClass = "terminal"
)

// EngineError represents a classified error with context.
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Method is the method name that caused the error, if applicable.
	Method string `json:"method,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("[%s] %s (method=%s): %s", e.Class, e.Message, e.Method, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewTerminalError creates a new terminal error.
func NewTerminalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTerminal, Message: message, Err: err}
}

// WithMethod adds method context to an error.
func (e *EngineError) WithMethod(method string) *EngineError {
	e.Method = method
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsTerminal returns true if the error is classified as terminal.
func IsTerminal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTerminal
	}
	return false
}

// ErrorClassCode extracts the class and code from a classified error.
// Unclassified errors count as permanent internal errors.
func ErrorClassCode(err error) (string, string) {
	var e *EngineError
	if errors.As(err, &e) {
		code := e.Code
		if code == "" {
			code = ErrCodeInternal
		}
		return string(e.Class), code
	}
	return string(ErrorClassPermanent), ErrCodeInternal
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNoCandidates    = "NO_CANDIDATES"
	ErrCodeMethodPanic     = "METHOD_PANIC"
	ErrCodeMethodTimeout   = "METHOD_TIMEOUT"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeTerminalTripped = "TERMINAL_CONDITION"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
