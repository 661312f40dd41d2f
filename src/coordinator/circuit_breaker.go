package coordinator

import (
	"time"

	"stock-stream/src/models"
)

// circuitBreaker tracks consecutive upstream failures for one key.
// Callers hold the coordinator lock.
type circuitBreaker struct {
	models.MCircuitState
}

// -----------------------------------------------------------------------------

// allow reports whether an attempt may proceed. An open breaker whose reset
// timeout has elapsed moves to half-open and lets the attempt through.
func (b *circuitBreaker) allow(now time.Time, resetTimeout time.Duration) (bool, time.Duration) {
	if b.State != models.CircuitOpen {
		return true, 0
	}

	elapsed := now.Sub(b.LastFailureAt)
	if elapsed >= resetTimeout {
		b.State = models.CircuitHalfOpen
		return true, 0
	}
	return false, resetTimeout - elapsed
}

// -----------------------------------------------------------------------------

// recordFailure returns true when this failure opened the breaker.
func (b *circuitBreaker) recordFailure(now time.Time, threshold int) bool {
	b.FailureCount++
	b.LastFailureAt = now

	switch b.State {
	case models.CircuitHalfOpen:
		b.State = models.CircuitOpen
		return true
	case models.CircuitClosed:
		if b.FailureCount >= threshold {
			b.State = models.CircuitOpen
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------

func (b *circuitBreaker) recordSuccess() {
	b.FailureCount = 0
	b.State = models.CircuitClosed
}
