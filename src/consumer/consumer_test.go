package consumer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/models"

	"github.com/gin-contrib/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	symbols  []string
	prices   []models.MPriceEvent
	disabled int
}

func (s *fakeStore) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

func (s *fakeStore) setSymbols(symbols ...string) {
	s.mu.Lock()
	s.symbols = symbols
	s.mu.Unlock()
}

func (s *fakeStore) ApplyPrice(evt models.MPriceEvent) {
	s.mu.Lock()
	s.prices = append(s.prices, evt)
	s.mu.Unlock()
}

func (s *fakeStore) DisableLiveData() {
	s.mu.Lock()
	s.disabled++
	s.mu.Unlock()
}

func (s *fakeStore) snapshot() ([]models.MPriceEvent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MPriceEvent(nil), s.prices...), s.disabled
}

type fakePoller struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
}

func (p *fakePoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		p.starts++
	}
	p.running = true
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.stops++
	}
	p.running = false
}

func (p *fakePoller) state() (bool, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.starts, p.stops
}

func newTestConsumer(baseURL string, store WatchlistStore, poller Poller) *StreamConsumer {
	c := NewStreamConsumer(models.MConsumerConfig{ServerURL: baseURL, MaxFailures: 10}, store, poller, logger.NewLogger("consumer-test"))
	c.MinInterval = 0
	c.ErrorCooldown = 0
	return c
}

func writeFrames(w http.ResponseWriter, frames ...models.MStreamFrame) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		if err := helpers.WriteSSEFrame(w, f); err != nil {
			return
		}
	}
}

func runAsync(ctx context.Context, c *StreamConsumer) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Frame decoding
// -----------------------------------------------------------------------------

func TestFrameReader_RoundTrip(t *testing.T) {
	change := 1.25
	frames := []models.MStreamFrame{
		models.ConnectedFrame([]string{"AAPL", "MSFT"}),
		models.TradeFrame(models.MPriceEvent{Symbol: "AAPL", Price: 190.5, Timestamp: 1700000000000, Volume: 3, Change: &change}),
		models.ErrorFrame("Upstream unavailable", "UPSTREAM_UNAVAILABLE"),
	}

	var buf bytes.Buffer
	buf.WriteString(": keep-alive\n\n")
	for _, f := range frames {
		require.NoError(t, helpers.WriteSSEFrame(&buf, f))
	}
	raw := buf.Bytes()

	reader := NewFrameReader(bytes.NewReader(raw))
	for _, want := range frames {
		got, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := reader.Next()
	assert.ErrorIs(t, err, io.EOF)

	// the same bytes are a valid event stream for a generic decoder
	events, err := sse.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Len(t, events, len(frames))
}

func TestFrameReader_MalformedFrame(t *testing.T) {
	reader := NewFrameReader(bytes.NewBufferString("data:{oops\n\ndata:{\"type\":\"connected\"}\n\n"))

	_, err := reader.Next()
	var parseErr *helpers.ParseError
	require.ErrorAs(t, err, &parseErr)

	frame, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, models.FrameConnected, frame.Type)
}

// -----------------------------------------------------------------------------
// StreamConsumer
// -----------------------------------------------------------------------------

func TestConsumer_ConnectsAndAppliesTrades(t *testing.T) {
	var query atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.Query().Get("symbols"))
		writeFrames(w,
			models.ConnectedFrame([]string{"AAPL", "MSFT"}),
			models.TradeFrame(models.MPriceEvent{Symbol: "AAPL", Price: 190, Timestamp: 1}),
		)
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := &fakeStore{symbols: []string{"AAPL", "MSFT"}}
	poller := &fakePoller{}
	c := newTestConsumer(srv.URL, store, poller)

	var statuses []Status
	var smu sync.Mutex
	c.OnStatus = func(s Status) {
		smu.Lock()
		statuses = append(statuses, s)
		smu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c)

	require.Eventually(t, func() bool {
		prices, _ := store.snapshot()
		return len(prices) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, "AAPL,MSFT", query.Load())

	cancel()
	assert.ErrorIs(t, waitResult(t, done), context.Canceled)
	assert.Equal(t, StatusDisconnected, c.Status())

	smu.Lock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, statuses)
	smu.Unlock()
}

func TestConsumer_DisablesLiveDataAfterMaxFailures(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &fakeStore{symbols: []string{"AAPL"}}
	poller := &fakePoller{}
	c := newTestConsumer(srv.URL, store, poller)

	err := waitResult(t, runAsync(context.Background(), c))
	assert.ErrorIs(t, err, ErrLiveDataDisabled)

	_, disabled := store.snapshot()
	assert.Equal(t, 1, disabled)
	assert.Equal(t, int32(10), atomic.LoadInt32(&requests))
	assert.Equal(t, StatusDisconnected, c.Status())

	running, starts, _ := poller.state()
	assert.True(t, running)
	assert.Equal(t, 1, starts)

	// a second Run does not retry or disable again
	assert.ErrorIs(t, c.Run(context.Background()), ErrLiveDataDisabled)
	_, disabled = store.snapshot()
	assert.Equal(t, 1, disabled)
	assert.Equal(t, int32(10), atomic.LoadInt32(&requests))
}

func TestConsumer_ErrorFrameFallsBackThenRecovers(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n == 1 {
			writeFrames(w,
				models.ConnectedFrame([]string{"AAPL"}),
				models.ErrorFrame("Upstream rate limit", "RATE_LIMITED"),
			)
			return
		}
		writeFrames(w, models.ConnectedFrame([]string{"AAPL"}))
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := &fakeStore{symbols: []string{"AAPL"}}
	poller := &fakePoller{}
	c := newTestConsumer(srv.URL, store, poller)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&requests) == 2 && c.Status() == StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, c.Failures())
	running, starts, stops := poller.state()
	assert.False(t, running)
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	cancel()
	waitResult(t, done)
}

func TestConsumer_RespectsMinimumInterval(t *testing.T) {
	var mu sync.Mutex
	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		writeFrames(w, models.ConnectedFrame([]string{"AAPL"}))
	}))
	defer srv.Close()

	c := newTestConsumer(srv.URL, &fakeStore{symbols: []string{"AAPL"}}, &fakePoller{})
	c.MinInterval = 50 * time.Millisecond
	c.ErrorCooldown = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 2
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	waitResult(t, done)

	mu.Lock()
	defer mu.Unlock()
	// a dropped stream is an error, so the longer cooldown applies
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), 140*time.Millisecond)
}

func TestConsumer_UpdateSymbolsReopensStream(t *testing.T) {
	seen := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Query().Get("symbols")
		writeFrames(w, models.ConnectedFrame(nil))
		<-r.Context().Done()
	}))
	defer srv.Close()

	store := &fakeStore{symbols: []string{"AAPL"}}
	c := newTestConsumer(srv.URL, store, &fakePoller{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, c)

	assert.Equal(t, "AAPL", <-seen)
	require.Eventually(t, func() bool { return c.Status() == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	store.setSymbols("AAPL", "TSLA")
	c.UpdateSymbols()

	select {
	case got := <-seen:
		assert.Equal(t, "AAPL,TSLA", got)
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not reopened")
	}
	assert.Equal(t, 0, c.Failures())

	cancel()
	waitResult(t, done)
}

func TestConsumer_RejectionHintExtendsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"circuit open","code":"CIRCUIT_OPEN","remainingTime":120}`)
	}))
	defer srv.Close()

	c := newTestConsumer(srv.URL, &fakeStore{symbols: []string{"AAPL"}}, &fakePoller{})

	err := c.stream(context.Background(), []string{"AAPL"})
	var rejected *StreamRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusServiceUnavailable, rejected.StatusCode)
	assert.Equal(t, 120, rejected.RemainingTime)
	assert.Equal(t, "circuit open", rejected.Message)

	assert.False(t, c.onFailure(err))
	c.mu.Lock()
	assert.Equal(t, 120*time.Second, c.retryAfter)
	c.mu.Unlock()
}
