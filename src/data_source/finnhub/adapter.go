package finnhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"

	"golang.org/x/time/rate"
)

const (
	frameBuffer   = 64
	backoffFactor = 3

	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// FeedAdapter
// -----------------------------------------------------------------------------

// FeedAdapter owns the upstream connection for one connection key and turns
// vendor messages into stream frames. One goroutine drives the state machine.
type FeedAdapter struct {
	key         string
	symbols     []string
	cfg         models.MFeedConfig
	transport   interfaces.IUpstreamTransport
	poller      *QuotePoller
	coordinator interfaces.IConnectionCoordinator
	limiter     *rate.Limiter
	logger      *logger.Logger
	metrics     *metrics.Metrics

	frames chan models.MStreamFrame
	wake   chan struct{}
	pollCh chan error
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	attempt         int
	started         bool
	failureRecorded bool
	reconnectTimer  *time.Timer
	pollCancel      context.CancelFunc
	pollDone        chan struct{}

	stopOnce   sync.Once
	framesOnce sync.Once
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewFeedAdapter builds an idle adapter. poller may be nil to disable the
// polling fallback.
func NewFeedAdapter(
	key string,
	symbols []string,
	cfg models.MFeedConfig,
	transport interfaces.IUpstreamTransport,
	poller *QuotePoller,
	coordinator interfaces.IConnectionCoordinator,
	log *logger.Logger,
	m *metrics.Metrics,
) *FeedAdapter {
	interval := cfg.SubscribeInterval()
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}

	if cfg.DisableFallbackPolling {
		poller = nil
	}

	return &FeedAdapter{
		key:         key,
		symbols:     append([]string(nil), symbols...),
		cfg:         cfg,
		transport:   transport,
		poller:      poller,
		coordinator: coordinator,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      log.With("key", key),
		metrics:     m,
		frames:      make(chan models.MStreamFrame, frameBuffer),
		wake:        make(chan struct{}, 1),
		pollCh:      make(chan error, 1),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
}

// -----------------------------------------------------------------------------
// IFeed
// -----------------------------------------------------------------------------

func (a *FeedAdapter) Key() string { return a.key }

func (a *FeedAdapter) Frames() <-chan models.MStreamFrame { return a.frames }

func (a *FeedAdapter) State() string {
	return a.CurrentState().String()
}

func (a *FeedAdapter) CurrentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Attempt returns the current reconnect attempt counter.
func (a *FeedAdapter) Attempt() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempt
}

// -----------------------------------------------------------------------------

func (a *FeedAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("feed %s already started", a.key)
	}
	if a.state == StateClosed {
		return fmt.Errorf("feed %s already stopped", a.key)
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)

	go a.run()
	return nil
}

// -----------------------------------------------------------------------------

// Stop cancels the adapter, clears the reconnect timer and waits for the
// state machine to exit. Safe to call more than once.
func (a *FeedAdapter) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		if a.cancel != nil {
			a.cancel()
		}
		if a.reconnectTimer != nil {
			a.reconnectTimer.Stop()
			a.reconnectTimer = nil
		}
		if !started {
			a.state = StateClosed
		}
		a.mu.Unlock()

		if started {
			<-a.done
		} else {
			a.closeFrames()
		}
	})
}

// -----------------------------------------------------------------------------
// State machine
// -----------------------------------------------------------------------------

func (a *FeedAdapter) run() {
	defer close(a.done)
	defer a.finish()

	for {
		a.setState(StateConnecting)

		events, err := a.transport.Open(a.ctx)
		if err == nil {
			err = a.onOpen()
			if err == nil {
				err = a.session(events)
			}
			_ = a.transport.Close()
		}

		if a.ctx.Err() != nil {
			return
		}
		if !a.handleFailure(err) {
			return
		}
		if !a.waitReconnect() {
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (a *FeedAdapter) onOpen() error {
	a.mu.Lock()
	a.attempt = 0
	a.mu.Unlock()
	a.setState(StateOpen)

	a.coordinator.RecordSuccess(a.key)
	a.stopPolling()

	a.logger.Info("Upstream open, subscribing to %d symbols", len(a.symbols))
	for _, sym := range a.symbols {
		if err := a.limiter.Wait(a.ctx); err != nil {
			return err
		}
		if err := a.transport.Send(a.ctx, SubscribeMessage(sym)); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// session consumes transport events until the session ends and returns the
// reason it ended.
func (a *FeedAdapter) session(events <-chan models.MTransportEvent) error {
	for {
		select {
		case <-a.ctx.Done():
			return a.ctx.Err()

		case err := <-a.pollCh:
			return err

		case ev, ok := <-events:
			if !ok {
				return helpers.NewTransportError("upstream session ended", nil)
			}
			if ev.Kind == models.TransportClosed {
				if ev.Err == nil {
					return helpers.NewTransportError("upstream closed", nil)
				}
				return ev.Err
			}
			if err := a.handleMessage(ev.Data); err != nil {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (a *FeedAdapter) handleMessage(data []byte) error {
	parsed, err := ParseMessage(data)
	if err != nil {
		a.metrics.ObserveFailure("parse")
		a.logger.Warning("Dropping message: %v", err)
		return nil
	}

	switch parsed.Type {
	case MessageTrade:
		if parsed.Dropped > 0 {
			a.metrics.ObserveFailure("parse")
			a.logger.Warning("Dropped %d trade entries without symbol or price", parsed.Dropped)
		}
		for _, evt := range parsed.Events {
			a.emit(a.ctx, models.TradeFrame(evt))
		}
	case MessageError:
		if terr := ClassifyVendorError(parsed.ErrorMsg); terr != nil {
			return terr
		}
		a.logger.Warning("Upstream error message: %s", parsed.ErrorMsg)
	}
	return nil
}

// -----------------------------------------------------------------------------

// handleFailure decides between reconnecting and closing. It returns true when
// a reconnect has been scheduled.
func (a *FeedAdapter) handleFailure(err error) bool {
	if terminal, ok := helpers.IsTerminal(err); ok {
		a.logger.Error("Terminal upstream failure: %v", err)
		a.terminate(terminal.RateLimited, models.ErrorFrame(terminal.Message, terminal.Code))
		return false
	}

	a.metrics.ObserveFailure("transport")

	a.mu.Lock()
	a.attempt++
	attempt := a.attempt
	a.mu.Unlock()

	if attempt > a.cfg.MaxReconnectAttempts {
		a.logger.Error("Giving up after %d reconnect attempts: %v", attempt-1, err)
		if a.poller != nil {
			a.recordDegraded()
			a.setState(StateDegraded)
			a.startPolling()
			a.waitPolling()
			return false
		}
		a.terminate(false, models.ErrorFrame(
			fmt.Sprintf("Upstream unavailable after %d reconnect attempts", attempt-1),
			CodeUpstreamUnavailable,
		))
		return false
	}

	if attempt >= a.cfg.FallbackAfterAttempts {
		a.startPolling()
	}

	delay := a.ReconnectDelay(attempt - 1)
	a.logger.Warning("Upstream lost (%v), reconnect %d/%d in %v", err, attempt, a.cfg.MaxReconnectAttempts, delay)
	a.setState(StateReconnecting)
	a.scheduleReconnect(delay)
	return true
}

// ReconnectDelay returns min(base * 3^attempt, cap).
func (a *FeedAdapter) ReconnectDelay(attempt int) time.Duration {
	return helpers.BackoffDelay(a.cfg.ReconnectBase(), a.cfg.ReconnectCap(), backoffFactor, attempt)
}

// -----------------------------------------------------------------------------

func (a *FeedAdapter) terminate(rateLimited bool, frame models.MStreamFrame) {
	a.recordFailure(rateLimited)
	a.setState(StateClosed)
	a.emit(a.ctx, frame)
}

func (a *FeedAdapter) recordFailure(rateLimited bool) {
	if a.markFailure() {
		a.coordinator.RecordFailure(a.key, rateLimited)
	}
}

// recordDegraded counts the failure but leaves the key registered; the
// stream keeps running on polling until its session releases it.
func (a *FeedAdapter) recordDegraded() {
	if a.markFailure() {
		a.coordinator.RecordDegraded(a.key)
	}
}

// markFailure reports whether this is the first failure recorded for the feed.
func (a *FeedAdapter) markFailure() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failureRecorded {
		return false
	}
	a.failureRecorded = true
	return true
}

// -----------------------------------------------------------------------------
// Reconnect timer
// -----------------------------------------------------------------------------

func (a *FeedAdapter) scheduleReconnect(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
	}
	a.reconnectTimer = time.AfterFunc(delay, func() {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	})
}

// waitReconnect blocks until the reconnect timer fires. A terminal poll error
// or cancellation ends the adapter instead.
func (a *FeedAdapter) waitReconnect() bool {
	defer func() {
		a.mu.Lock()
		if a.reconnectTimer != nil {
			a.reconnectTimer.Stop()
			a.reconnectTimer = nil
		}
		a.mu.Unlock()
	}()

	select {
	case <-a.ctx.Done():
		return false
	case err := <-a.pollCh:
		a.handleFailure(err)
		return false
	case <-a.wake:
		return true
	}
}

// -----------------------------------------------------------------------------
// Polling fallback
// -----------------------------------------------------------------------------

func (a *FeedAdapter) startPolling() {
	a.mu.Lock()
	if a.poller == nil || a.pollCancel != nil {
		a.mu.Unlock()
		return
	}
	pctx, cancel := context.WithCancel(a.ctx)
	done := make(chan struct{})
	a.pollCancel = cancel
	a.pollDone = done
	a.mu.Unlock()

	a.logger.Info("Starting quote polling fallback")

	go func() {
		defer close(done)
		err := a.poller.Run(pctx, a.symbols, func(evt models.MPriceEvent) {
			a.emit(pctx, models.TradeFrame(evt))
		})
		if err != nil {
			select {
			case a.pollCh <- err:
			default:
			}
		}
	}()
}

func (a *FeedAdapter) stopPolling() {
	a.mu.Lock()
	cancel, done := a.pollCancel, a.pollDone
	a.pollCancel, a.pollDone = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		a.logger.Info("Stopped quote polling fallback")
	}
}

// waitPolling blocks in degraded mode until cancellation or a terminal poll error.
func (a *FeedAdapter) waitPolling() {
	select {
	case <-a.ctx.Done():
	case err := <-a.pollCh:
		a.logger.Error("Polling fallback failed: %v", err)
		code := CodeUpstreamUnavailable
		if terminal, ok := helpers.IsTerminal(err); ok {
			code = terminal.Code
		}
		a.emit(a.ctx, models.ErrorFrame("Polling fallback failed: "+err.Error(), code))
	}
}

// -----------------------------------------------------------------------------
// Output
// -----------------------------------------------------------------------------

func (a *FeedAdapter) emit(ctx context.Context, frame models.MStreamFrame) {
	select {
	case a.frames <- frame:
		a.metrics.ObserveFrame(frame.Type)
	case <-ctx.Done():
	}
}

func (a *FeedAdapter) setState(s State) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.mu.Unlock()

	if changed {
		a.metrics.ObserveTransition(s.String())
		a.logger.Debug("State -> %s", s)
	}
}

func (a *FeedAdapter) finish() {
	a.mu.Lock()
	if a.reconnectTimer != nil {
		a.reconnectTimer.Stop()
		a.reconnectTimer = nil
	}
	a.mu.Unlock()

	a.stopPolling()
	_ = a.transport.Close()
	a.setState(StateClosed)
	a.closeFrames()
}

func (a *FeedAdapter) closeFrames() {
	a.framesOnce.Do(func() { close(a.frames) })
}
