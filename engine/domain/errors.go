package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the engine.
var (
	ErrQueryEmpty        = errors.New("query is empty")
	ErrQueryTooLong      = errors.New("query too long")
	ErrCallerMissing     = errors.New("caller id missing")
	ErrToolNotFound      = errors.New("tool not found")
	ErrArgMissing        = errors.New("required argument missing")
	ErrArgInvalid        = errors.New("argument has wrong type")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrParse             = errors.New("source parse failed")
	ErrAllToolsFailed    = errors.New("all planned tools failed")
)

// ValidationError wraps a sentinel with the offending field. A request that
// fails validation is rejected before any tool is dispatched.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ConfigurationError reports an invalid component configuration detected at
// construction time.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Component, e.Reason)
}

// ProviderError reports a failure of an upstream capability (embedding,
// vector search, rerank, tool backend). Transient errors are retry
// candidates; permanent ones are not.
type ProviderError struct {
	Provider  string
	Transient bool
	Wrapped   error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, kind, e.Wrapped)
}

func (e *ProviderError) Unwrap() error { return e.Wrapped }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// RateLimitError is returned when a caller exhausted a rate-limit window.
// RetryAfter tells the caller when the window rolls over.
type RateLimitError struct {
	CallerID   string
	Window     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: caller %s exceeded %s window, retry after %s", e.CallerID, e.Window, e.RetryAfter)
}
