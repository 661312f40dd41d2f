package models

import "time"

// MConnectionRecord is one admitted stream for a connection key.
type MConnectionRecord struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Symbols   []string  `json:"symbols"`
	CreatedAt time.Time `json:"createdAt"`
}

type MCooldownEntry struct {
	Key         string    `json:"key"`
	AvailableAt time.Time `json:"availableAt"`
}

// -----------------------------------------------------------------------------
// Circuit breaker
// -----------------------------------------------------------------------------

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type MCircuitState struct {
	Key           string       `json:"key"`
	FailureCount  int          `json:"failureCount"`
	LastFailureAt time.Time    `json:"lastFailureAt"`
	State         CircuitState `json:"state"`
}

// -----------------------------------------------------------------------------
// Status snapshot
// -----------------------------------------------------------------------------

type MRateWindowStatus struct {
	Attempts      int        `json:"attempts"`
	WindowStartAt time.Time  `json:"windowStartAt"`
	BlockedUntil  *time.Time `json:"blockedUntil,omitempty"`
}

type MCoordinatorStatus struct {
	Connections []MConnectionRecord `json:"connections"`
	Cooldowns   []MCooldownEntry    `json:"cooldowns"`
	Circuits    []MCircuitState     `json:"circuits"`
	RateWindow  MRateWindowStatus   `json:"rateWindow"`
	RateLimited bool                `json:"rateLimited"`
}
