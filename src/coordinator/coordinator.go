package coordinator

import (
	"sort"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// ConnectionCoordinator
// -----------------------------------------------------------------------------

// ConnectionCoordinator is the single authority on whether a stream may be
// opened for a connection key. All state lives in memory behind one mutex, so
// admission is an atomic check-and-set.
type ConnectionCoordinator struct {
	Config  models.MCoordinatorConfig
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	mu        sync.Mutex
	records   map[string]*models.MConnectionRecord
	cooldowns map[string]time.Time
	breakers  map[string]*circuitBreaker
	rate      *rateWindow

	now func() time.Time
}

// Option customises a ConnectionCoordinator.
type Option func(*ConnectionCoordinator)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *ConnectionCoordinator) { c.now = now }
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewConnectionCoordinator(cfg models.MCoordinatorConfig, log *logger.Logger, m *metrics.Metrics, opts ...Option) *ConnectionCoordinator {
	c := &ConnectionCoordinator{
		Config:    cfg,
		Logger:    log,
		Metrics:   m,
		records:   make(map[string]*models.MConnectionRecord),
		cooldowns: make(map[string]time.Time),
		breakers:  make(map[string]*circuitBreaker),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rate = newRateWindow(cfg.RateWindow(), cfg.RateMaxAttempts, cfg.RateBlock(), c.now())
	return c
}

// -----------------------------------------------------------------------------
// Admission
// -----------------------------------------------------------------------------

// Admit registers a new stream for key or returns an *helpers.AdmissionRejectedError.
func (c *ConnectionCoordinator) Admit(key string, symbols []string) (*models.MConnectionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if ok, wait := c.rate.hit(now); !ok {
		return nil, c.reject(key, helpers.RejectRateLimited, wait)
	}

	if _, exists := c.records[key]; exists {
		return nil, c.reject(key, helpers.RejectDuplicate, 0)
	}

	if b, ok := c.breakers[key]; ok {
		wasOpen := b.State == models.CircuitOpen
		allowed, wait := b.allow(now, c.Config.CircuitResetTimeout())
		if !allowed {
			return nil, c.reject(key, helpers.RejectCircuitOpen, wait)
		}
		if wasOpen {
			c.Logger.Info("Circuit for %s is half-open, allowing trial connection", key)
		}
	}

	if availableAt, ok := c.cooldowns[key]; ok {
		if now.Before(availableAt) {
			return nil, c.reject(key, helpers.RejectCooldown, availableAt.Sub(now))
		}
		delete(c.cooldowns, key)
	}

	record := &models.MConnectionRecord{
		ID:        uuid.NewString(),
		Key:       key,
		Symbols:   append([]string(nil), symbols...),
		CreatedAt: now,
	}
	c.records[key] = record
	c.Metrics.ObserveAdmission("admitted")
	c.Logger.Debug("Admitted stream %s for %s", record.ID, key)

	return record, nil
}

func (c *ConnectionCoordinator) reject(key string, reason helpers.RejectReason, wait time.Duration) error {
	c.Metrics.ObserveAdmission(string(reason))
	c.Logger.Info("Rejected stream for %s: %s", key, reason)
	return &helpers.AdmissionRejectedError{
		Key:               key,
		Reason:            reason,
		RetryAfterSeconds: helpers.CeilSeconds(wait),
	}
}

// -----------------------------------------------------------------------------

// Release removes the record for key. Cooldowns and circuit state are kept.
func (c *ConnectionCoordinator) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[key]; ok {
		delete(c.records, key)
		c.Logger.Debug("Released %s", key)
	}
}

// -----------------------------------------------------------------------------
// Failure bookkeeping
// -----------------------------------------------------------------------------

// RecordFailure counts a terminal upstream failure for key: it starts a
// cooldown (longer for rate-limit signals), removes the record and opens the
// circuit once the failure threshold is reached.
func (c *ConnectionCoordinator) RecordFailure(key string, isRateLimitSignal bool) {
	c.countFailure(key, isRateLimitSignal, true)
}

// RecordDegraded counts a failure for key whose stream stays up on the
// polling fallback. Breaker and cooldown move as for RecordFailure but the
// record is kept, so the key stays taken until Release.
func (c *ConnectionCoordinator) RecordDegraded(key string) {
	c.countFailure(key, false, false)
}

func (c *ConnectionCoordinator) countFailure(key string, isRateLimitSignal, drop bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	b, ok := c.breakers[key]
	if !ok {
		b = &circuitBreaker{MCircuitState: models.MCircuitState{Key: key, State: models.CircuitClosed}}
		c.breakers[key] = b
	}

	opened := b.recordFailure(now, c.Config.CircuitThreshold)
	cooldown := c.Config.Cooldown(isRateLimitSignal)
	c.cooldowns[key] = now.Add(cooldown)

	kind := "generic"
	switch {
	case isRateLimitSignal:
		kind = "rate_limit"
	case !drop:
		kind = "degraded"
	}
	c.Metrics.ObserveFailure(kind)

	if drop {
		delete(c.records, key)
	}

	if opened {
		c.Logger.Warning("Circuit opened for %s after %d failures (reset in %v)",
			key, b.FailureCount, c.Config.CircuitResetTimeout())
	} else {
		c.Logger.Info("Failure %d/%d recorded for %s (cooldown %v)",
			b.FailureCount, c.Config.CircuitThreshold, key, cooldown)
	}
}

// -----------------------------------------------------------------------------

// RecordSuccess closes the circuit for key and clears its failure count.
func (c *ConnectionCoordinator) RecordSuccess(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[key]; ok {
		if b.State != models.CircuitClosed {
			c.Logger.Info("Circuit closed for %s", key)
		}
		b.recordSuccess()
	}
}

// -----------------------------------------------------------------------------
// Introspection
// -----------------------------------------------------------------------------

// Snapshot returns a copy of the coordinator state, sorted by key.
func (c *ConnectionCoordinator) Snapshot() models.MCoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	status := models.MCoordinatorStatus{
		Connections: make([]models.MConnectionRecord, 0, len(c.records)),
		Cooldowns:   make([]models.MCooldownEntry, 0, len(c.cooldowns)),
		Circuits:    make([]models.MCircuitState, 0, len(c.breakers)),
		RateWindow:  c.rate.status(),
		RateLimited: c.rate.blocked(now),
	}

	for _, r := range c.records {
		status.Connections = append(status.Connections, *r)
	}
	for key, at := range c.cooldowns {
		if now.Before(at) {
			status.Cooldowns = append(status.Cooldowns, models.MCooldownEntry{Key: key, AvailableAt: at})
		}
	}
	for _, b := range c.breakers {
		status.Circuits = append(status.Circuits, b.MCircuitState)
	}

	sort.Slice(status.Connections, func(i, j int) bool { return status.Connections[i].Key < status.Connections[j].Key })
	sort.Slice(status.Cooldowns, func(i, j int) bool { return status.Cooldowns[i].Key < status.Cooldowns[j].Key })
	sort.Slice(status.Circuits, func(i, j int) bool { return status.Circuits[i].Key < status.Circuits[j].Key })

	return status
}

// -----------------------------------------------------------------------------

// ActiveCount returns the number of admitted streams.
func (c *ConnectionCoordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// RateLimited reports whether the global window is currently blocking.
func (c *ConnectionCoordinator) RateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate.blocked(c.now())
}
