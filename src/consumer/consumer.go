package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/models"
)

// ErrLiveDataDisabled is returned by Run once the consumer gives up on live
// streaming for the session.
var ErrLiveDataDisabled = errors.New("live data disabled after repeated stream failures")

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// WatchlistStore owns the watched symbols and receives live prices.
type WatchlistStore interface {
	Symbols() []string
	ApplyPrice(evt models.MPriceEvent)
	DisableLiveData()
}

// Poller is the periodic REST refresh used while the live stream is down.
// Start and Stop must be idempotent.
type Poller interface {
	Start()
	Stop()
}

// StreamRejectedError is a non-200 answer to the stream request.
type StreamRejectedError struct {
	StatusCode    int
	Message       string
	RemainingTime int
}

func (e *StreamRejectedError) Error() string {
	return fmt.Sprintf("stream rejected with status %d: %s", e.StatusCode, e.Message)
}

// StreamFrameError is an error frame sent by the proxy.
type StreamFrameError struct {
	Code    string
	Message string
}

func (e *StreamFrameError) Error() string {
	return fmt.Sprintf("stream error %s: %s", e.Code, e.Message)
}

var errStreamEnded = errors.New("stream ended")

// -----------------------------------------------------------------------------
// StreamConsumer
// -----------------------------------------------------------------------------

type StreamConsumer struct {
	BaseURL       string
	Client        *http.Client
	Store         WatchlistStore
	Poller        Poller
	Logger        *logger.Logger
	MinInterval   time.Duration
	ErrorCooldown time.Duration
	MaxFailures   int

	// OnStatus, when set, is called on every status change.
	OnStatus func(Status)

	mu          sync.Mutex
	status      Status
	failures    int
	lastAttempt time.Time
	retryAfter  time.Duration
	abort       context.CancelFunc
	aborted     bool
	disabled    bool
	changed     chan struct{}
	disableOnce sync.Once
}

// -----------------------------------------------------------------------------

func NewStreamConsumer(cfg models.MConsumerConfig, store WatchlistStore, poller Poller, log *logger.Logger) *StreamConsumer {
	return &StreamConsumer{
		BaseURL:       strings.TrimRight(cfg.ServerURL, "/"),
		Client:        &http.Client{},
		Store:         store,
		Poller:        poller,
		Logger:        log,
		MinInterval:   cfg.MinInterval(),
		ErrorCooldown: cfg.ErrorCooldown(),
		MaxFailures:   cfg.MaxFailures,
		changed:       make(chan struct{}, 1),
	}
}

// -----------------------------------------------------------------------------

func (c *StreamConsumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Failures returns the consecutive failed attempt count.
func (c *StreamConsumer) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// UpdateSymbols aborts the current stream so the next attempt picks up the
// store's new symbol list. The abort does not count as a failure.
func (c *StreamConsumer) UpdateSymbols() {
	c.mu.Lock()
	if c.abort != nil {
		c.aborted = true
		c.abort()
	}
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------
// Run loop
// -----------------------------------------------------------------------------

// Run keeps a live stream open until ctx is done or the failure budget is
// spent, in which case the store's live data is disabled, polling is left
// running and ErrLiveDataDisabled is returned.
func (c *StreamConsumer) Run(ctx context.Context) error {
	c.mu.Lock()
	disabled := c.disabled
	c.mu.Unlock()
	if disabled {
		return ErrLiveDataDisabled
	}

	for {
		if err := c.waitTurn(ctx); err != nil {
			c.shutdown()
			return err
		}

		symbols := c.Store.Symbols()
		if len(symbols) == 0 {
			select {
			case <-ctx.Done():
				c.shutdown()
				return ctx.Err()
			case <-c.changed:
				continue
			}
		}

		err := c.attempt(ctx, symbols)

		if ctx.Err() != nil {
			c.shutdown()
			return ctx.Err()
		}

		c.mu.Lock()
		aborted := c.aborted
		c.aborted = false
		c.mu.Unlock()

		if aborted {
			c.Logger.Info("Symbols changed, reopening stream")
			c.setStatus(StatusDisconnected)
			continue
		}

		if c.onFailure(err) {
			return ErrLiveDataDisabled
		}
	}
}

// -----------------------------------------------------------------------------

// waitTurn enforces the minimum spacing between attempts, longer after an error.
func (c *StreamConsumer) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastAttempt
	gap := c.MinInterval
	if c.status == StatusError {
		gap = c.ErrorCooldown
		if c.retryAfter > gap {
			gap = c.retryAfter
		}
	}
	c.mu.Unlock()

	if last.IsZero() {
		return nil
	}
	wait := time.Until(last.Add(gap))
	if wait <= 0 {
		return nil
	}

	c.Logger.Debug("Waiting %v before next stream attempt", wait)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// -----------------------------------------------------------------------------

func (c *StreamConsumer) attempt(ctx context.Context, symbols []string) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.abort = cancel
	c.lastAttempt = time.Now()
	c.retryAfter = 0
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.abort = nil
		c.mu.Unlock()
	}()

	c.setStatus(StatusConnecting)
	return c.stream(streamCtx, symbols)
}

// -----------------------------------------------------------------------------

func (c *StreamConsumer) stream(ctx context.Context, symbols []string) error {
	target := c.BaseURL + "/stream?symbols=" + url.QueryEscape(strings.Join(symbols, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.Client.Do(req)
	if err != nil {
		return helpers.NewTransportError("stream request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readRejection(resp)
	}

	reader := NewFrameReader(resp.Body)
	for {
		frame, err := reader.Next()
		if err != nil {
			var parseErr *helpers.ParseError
			if errors.As(err, &parseErr) {
				c.Logger.Warning("Dropping frame: %v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			return err
		}

		switch frame.Type {
		case models.FrameConnected:
			c.onConnected(frame.Symbols)
		case models.FrameTrade:
			if frame.Data != nil {
				c.Store.ApplyPrice(*frame.Data)
			}
		case models.FrameError:
			return &StreamFrameError{Code: frame.Code, Message: frame.Message}
		}
	}
}

func readRejection(resp *http.Response) error {
	var body struct {
		Error         string `json:"error"`
		RemainingTime int    `json:"remainingTime"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &StreamRejectedError{StatusCode: resp.StatusCode, Message: body.Error, RemainingTime: body.RemainingTime}
}

// -----------------------------------------------------------------------------
// Transitions
// -----------------------------------------------------------------------------

func (c *StreamConsumer) onConnected(symbols []string) {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()

	c.Poller.Stop()
	c.setStatus(StatusConnected)
	c.Logger.Info("Live stream connected for %v", symbols)
}

// onFailure records a failed attempt and reports whether live data is now disabled.
func (c *StreamConsumer) onFailure(err error) bool {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	var rejected *StreamRejectedError
	if errors.As(err, &rejected) && rejected.RemainingTime > 0 {
		c.retryAfter = time.Duration(rejected.RemainingTime) * time.Second
	}
	c.mu.Unlock()

	c.Logger.Warning("Live stream attempt %d/%d failed: %v", failures, c.MaxFailures, err)
	c.setStatus(StatusError)
	c.Poller.Start()

	if failures < c.MaxFailures {
		return false
	}

	c.disableOnce.Do(func() {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()

		c.Logger.Error("Giving up on live data after %d failures, polling only", failures)
		c.Store.DisableLiveData()
	})
	c.setStatus(StatusDisconnected)
	return true
}

func (c *StreamConsumer) shutdown() {
	c.Poller.Stop()
	c.setStatus(StatusDisconnected)
}

func (c *StreamConsumer) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	cb := c.OnStatus
	c.mu.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}
