package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched with errors.Is.
var (
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrNotRunning     = errors.New("simulation not running")
	ErrAlreadyRunning = errors.New("simulation already running")
	ErrStopped        = errors.New("simulation stopped")
)

// ConfigError reports invalid or missing configuration. It is fatal at
// startup; on reload the new configuration is rejected.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a ConfigError for field with a formatted reason.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a rejected message or profile.
type ValidationError struct {
	Field  string `json:"field"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error: %s %q %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// QueueOverflowError describes an inbound entry evicted from a full queue.
type QueueOverflowError struct {
	AgentID   string
	Capacity  int
	DroppedID string
}

func (e *QueueOverflowError) Error() string {
	return fmt.Sprintf("queue overflow for %s (capacity %d): dropped %s", e.AgentID, e.Capacity, e.DroppedID)
}

// DecisionTimeoutError reports a decision call that exceeded its bound.
type DecisionTimeoutError struct {
	AgentID string
	Tick    int64
	Timeout time.Duration
}

func (e *DecisionTimeoutError) Error() string {
	return fmt.Sprintf("decision timeout for %s at tick %d after %s", e.AgentID, e.Tick, e.Timeout)
}

func (e *DecisionTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// DecisionError reports a failed decision strategy call.
type DecisionError struct {
	AgentID  string
	Strategy string
	Err      error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("decision error for %s (%s): %v", e.AgentID, e.Strategy, e.Err)
}

func (e *DecisionError) Unwrap() error { return e.Err }

// PersistenceWriteError reports a write that failed after all retries.
type PersistenceWriteError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceWriteError) Error() string {
	return fmt.Sprintf("persistence write %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceWriteError) Unwrap() error { return e.Err }
