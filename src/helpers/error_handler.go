package helpers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"stock-stream/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type StreamError struct {
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ StreamError }
type DatabaseError struct{ StreamError }
type ValidationError struct{ StreamError }
type ParseError struct{ StreamError }

// UpstreamTransportError is a dropped or failed upstream connection that may be retried.
type UpstreamTransportError struct{ StreamError }

// UpstreamTerminalError is an auth failure or rate-limit signal from the vendor.
// It is never retried.
type UpstreamTerminalError struct {
	StreamError
	RateLimited bool
	Code        string
}

// -----------------------------------------------------------------------------

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{StreamError{Message: message, Cause: cause}}
}

func NewDatabaseError(message string, cause error) *DatabaseError {
	return &DatabaseError{StreamError{Message: message, Cause: cause}}
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{StreamError{Message: fmt.Sprintf(format, args...)}}
}

func NewParseError(message string, cause error) *ParseError {
	return &ParseError{StreamError{Message: message, Cause: cause}}
}

func NewTransportError(message string, cause error) *UpstreamTransportError {
	return &UpstreamTransportError{StreamError{Message: message, Cause: cause}}
}

func NewTerminalError(message string, rateLimited bool, cause error) *UpstreamTerminalError {
	code := "UPSTREAM_AUTH"
	if rateLimited {
		code = "RATE_LIMITED"
	}
	return &UpstreamTerminalError{
		StreamError: StreamError{Message: message, Cause: cause},
		RateLimited: rateLimited,
		Code:        code,
	}
}

// IsTerminal reports whether err carries an UpstreamTerminalError and returns it.
func IsTerminal(err error) (*UpstreamTerminalError, bool) {
	var terminal *UpstreamTerminalError
	if errors.As(err, &terminal) {
		return terminal, true
	}
	return nil, false
}

// -----------------------------------------------------------------------------
// Admission
// -----------------------------------------------------------------------------

type RejectReason string

const (
	RejectDuplicate   RejectReason = "DUPLICATE"
	RejectCooldown    RejectReason = "COOLDOWN"
	RejectCircuitOpen RejectReason = "CIRCUIT_OPEN"
	RejectRateLimited RejectReason = "RATE_LIMITED"
)

type AdmissionRejectedError struct {
	Key               string
	Reason            RejectReason
	RetryAfterSeconds int
}

func (e *AdmissionRejectedError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("admission rejected for %q: %s (retry after %ds)", e.Key, e.Reason, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("admission rejected for %q: %s", e.Key, e.Reason)
}

// CeilSeconds rounds a positive duration up to whole seconds.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// BackoffDelay returns min(base * factor^attempt, ceiling). A zero ceiling means uncapped.
func BackoffDelay(base, ceiling time.Duration, factor float64, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if ceiling > 0 && delay > float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}

// RetryWithBackoff runs fn until it succeeds, returns a terminal error, or maxRetries is reached.
func RetryWithBackoff[T any](ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if _, terminal := IsTerminal(err); terminal || attempt == maxRetries {
			break
		}

		delay := BackoffDelay(baseDelay, 0, 2, attempt)
		if log != nil {
			log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries+1, operation, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
