package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"stock-stream/src/config"
	"stock-stream/src/coordinator"
	datasource "stock-stream/src/data_source"
	"stock-stream/src/data_source/finnhub"
	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Harness: real coordinator + adapter factory against a mock Finnhub socket
// -----------------------------------------------------------------------------

type harness struct {
	cfg    *models.MConfig
	coord  *coordinator.ConnectionCoordinator
	server *StreamServer
	http   *httptest.Server
}

type harnessOptions struct {
	token  string
	script []string

	// rejectStatus makes the upstream refuse the websocket handshake.
	rejectStatus int
	// offline points the feed at an address nothing listens on.
	offline bool
	// quotes enables the polling fallback.
	quotes interfaces.IQuoteSource
	clock  func() time.Time
	feed   func(*models.MFeedConfig)
}

func newHarness(t *testing.T, token string, script ...string) *harness {
	t.Helper()
	return newHarnessWith(t, harnessOptions{token: token, script: script})
}

func newHarnessWith(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	upgrader := websocket.Upgrader{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.rejectStatus != 0 {
			http.Error(w, http.StatusText(opts.rejectStatus), opts.rejectStatus)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, msg := range opts.script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	if opts.offline {
		upstream.Close()
	} else {
		t.Cleanup(upstream.Close)
	}

	cfg := config.Default().MConfig
	cfg.Finnhub.Token = opts.token
	cfg.Finnhub.WsURL = "ws" + strings.TrimPrefix(upstream.URL, "http")
	cfg.Feed.SubscribeIntervalMs = 1
	cfg.Feed.DisableFallbackPolling = opts.quotes == nil
	if opts.feed != nil {
		opts.feed(&cfg.Feed)
	}

	var coordOpts []coordinator.Option
	if opts.clock != nil {
		coordOpts = append(coordOpts, coordinator.WithClock(opts.clock))
	}

	log := logger.NewLogger("server-test")
	m := metrics.New(prometheus.NewRegistry())
	coord := coordinator.NewConnectionCoordinator(cfg.Coordinator, log, m, coordOpts...)
	feeds := datasource.NewFeedManager(finnhub.NewAdapterFactory(cfg, coord, opts.quotes, log, m), log)

	s := NewStreamServer(cfg, coord, feeds, &stubQuotes{}, log, m)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		feeds.StopAll()
		srv.Close()
	})

	return &harness{cfg: cfg, coord: coord, server: s, http: srv}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (h *harness) record(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

// openStream starts a streaming request and returns a reader positioned
// after the connected frame.
func (h *harness) openStream(t *testing.T, ctx context.Context, symbols string) (*http.Response, *bufio.Reader, models.MStreamFrame) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.http.URL+"/stream?symbols="+symbols, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	return resp, reader, nextStreamFrame(t, reader)
}

// nextStreamFrame reads up to the next data line of an open stream.
func nextStreamFrame(t *testing.T, r *bufio.Reader) models.MStreamFrame {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var frame models.MStreamFrame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &frame))
		return frame
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func decodeFrames(t *testing.T, r io.Reader) []models.MStreamFrame {
	t.Helper()
	events, err := sse.Decode(r)
	require.NoError(t, err)

	frames := make([]models.MStreamFrame, 0, len(events))
	for _, ev := range events {
		data, ok := ev.Data.(string)
		require.True(t, ok)
		var frame models.MStreamFrame
		require.NoError(t, json.Unmarshal([]byte(data), &frame))
		frames = append(frames, frame)
	}
	return frames
}

// -----------------------------------------------------------------------------
// /stream
// -----------------------------------------------------------------------------

func TestStream_EmptySymbolsRejected(t *testing.T) {
	h := newHarness(t, "secret")

	for _, target := range []string{"/stream", "/stream?symbols=", "/stream?symbols=,%20,"} {
		rec := h.record(t, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Empty(t, h.coord.Snapshot().Connections)
}

func TestStream_MissingTokenIs500(t *testing.T) {
	h := newHarness(t, "")

	rec := h.record(t, "/stream?symbols=AAPL")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, h.coord.Snapshot().Connections)
}

func TestStream_CircuitOpenIs503(t *testing.T) {
	h := newHarness(t, "secret")
	for i := 0; i < 3; i++ {
		h.coord.RecordFailure("AAPL", false)
	}

	rec := h.record(t, "/stream?symbols=AAPL")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "CIRCUIT_OPEN", body["code"])
	assert.EqualValues(t, 300, body["remainingTime"])
}

func TestStream_CooldownIs429(t *testing.T) {
	h := newHarness(t, "secret")
	h.coord.RecordFailure("AAPL,MSFT", true)

	rec := h.record(t, "/stream?symbols=MSFT,AAPL")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "COOLDOWN", body["code"])
	assert.EqualValues(t, 30, body["remainingTime"])
}

func TestStream_FramesEndToEnd(t *testing.T) {
	h := newHarness(t, "secret",
		`{"type":"trade","data":[{"s":"AAPL","p":189.25,"t":1700000000,"v":12}]}`,
		`{"type":"error","msg":"Invalid API token"}`,
	)

	resp, err := http.Get(h.http.URL + "/stream?symbols=msft,%20aapl")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	frames := decodeFrames(t, resp.Body)
	require.Len(t, frames, 3)

	assert.Equal(t, models.FrameConnected, frames[0].Type)
	assert.Equal(t, []string{"AAPL", "MSFT"}, frames[0].Symbols)

	assert.Equal(t, models.FrameTrade, frames[1].Type)
	require.NotNil(t, frames[1].Data)
	assert.Equal(t, "AAPL", frames[1].Data.Symbol)
	assert.Equal(t, 189.25, frames[1].Data.Price)
	assert.Equal(t, int64(1700000000000), frames[1].Data.Timestamp)

	assert.Equal(t, models.FrameError, frames[2].Type)
	assert.Equal(t, "UPSTREAM_AUTH", frames[2].Code)
	assert.NotEmpty(t, frames[2].Message)

	require.Eventually(t, func() bool {
		return len(h.coord.Snapshot().Connections) == 0
	}, 2*time.Second, 10*time.Millisecond)

	snap := h.coord.Snapshot()
	require.Len(t, snap.Cooldowns, 1)
	assert.Equal(t, "AAPL,MSFT", snap.Cooldowns[0].Key)
}

func TestStream_DuplicateRejectedUntilClientAborts(t *testing.T) {
	h := newHarness(t, "secret")

	ctx, cancel := context.WithCancel(context.Background())
	resp, _, connected := h.openStream(t, ctx, "AAPL")
	assert.Equal(t, models.FrameConnected, connected.Type)
	assert.Equal(t, []string{"AAPL"}, connected.Symbols)

	rec := h.record(t, "/stream?symbols=AAPL")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, msgDuplicate, decodeBody(t, rec)["error"])

	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return len(h.coord.Snapshot().Connections) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.server.Feeds.List())

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	resp2, _, _ := h.openStream(t, ctx2, "AAPL")
	defer resp2.Body.Close()
}

func TestStream_RepeatedAuthFailuresOpenCircuit(t *testing.T) {
	clock := newTestClock()
	h := newHarnessWith(t, harnessOptions{token: "secret", rejectStatus: http.StatusUnauthorized, clock: clock.Now})

	for i := 1; i <= 3; i++ {
		resp, err := http.Get(h.http.URL + "/stream?symbols=AAPL")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, "attempt %d", i)

		frames := decodeFrames(t, resp.Body)
		resp.Body.Close()
		require.Len(t, frames, 2, "attempt %d", i)
		assert.Equal(t, models.FrameConnected, frames[0].Type)
		assert.Equal(t, models.FrameError, frames[1].Type)
		assert.Equal(t, "UPSTREAM_AUTH", frames[1].Code)

		require.Eventually(t, func() bool {
			return len(h.coord.Snapshot().Connections) == 0 && len(h.server.Feeds.List()) == 0
		}, 2*time.Second, 10*time.Millisecond)

		if i < 3 {
			// past the generic cooldown, circuit still closed
			clock.Advance(16 * time.Second)
		}
	}

	snap := h.coord.Snapshot()
	require.Len(t, snap.Circuits, 1)
	assert.Equal(t, models.CircuitOpen, snap.Circuits[0].State)
	assert.Equal(t, 3, snap.Circuits[0].FailureCount)

	rec := h.record(t, "/stream?symbols=AAPL")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	body := decodeBody(t, rec)
	assert.Equal(t, "CIRCUIT_OPEN", body["code"])
	assert.EqualValues(t, 300, body["remainingTime"])
}

func TestStream_PollingFallbackKeepsKeyTaken(t *testing.T) {
	clock := newTestClock()
	h := newHarnessWith(t, harnessOptions{
		token:   "secret",
		offline: true,
		clock:   clock.Now,
		quotes: &stubQuotes{events: []models.MPriceEvent{
			{Symbol: "AAPL", Price: 42, Timestamp: 1700000000000},
		}},
		feed: func(f *models.MFeedConfig) {
			f.MaxReconnectAttempts = 1
			f.ReconnectBaseMs = 1
			f.ReconnectCapMs = 1
			f.FallbackAfterAttempts = 1
			f.PollIntervalMs = 20
			f.ClosedMarketPollIntervalMs = 20
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, reader, connected := h.openStream(t, ctx, "AAPL")
	defer resp.Body.Close()
	assert.Equal(t, models.FrameConnected, connected.Type)

	require.Eventually(t, func() bool {
		feeds := h.server.Feeds.List()
		return len(feeds) == 1 && feeds[0].State == "degraded"
	}, 3*time.Second, 10*time.Millisecond)

	frame := nextStreamFrame(t, reader)
	assert.Equal(t, models.FrameTrade, frame.Type)
	require.NotNil(t, frame.Data)
	assert.Equal(t, 42.0, frame.Data.Price)

	snap := h.coord.Snapshot()
	require.Len(t, snap.Connections, 1)
	assert.Equal(t, "AAPL", snap.Connections[0].Key)
	require.Len(t, snap.Circuits, 1)
	assert.Equal(t, 1, snap.Circuits[0].FailureCount)

	// the failure cooldown lapses while the first stream is still polling
	clock.Advance(20 * time.Second)

	rec := h.record(t, "/stream?symbols=AAPL")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, msgDuplicate, decodeBody(t, rec)["error"])

	status := decodeBody(t, h.record(t, "/api/status"))
	feeds, ok := status["feeds"].([]interface{})
	require.True(t, ok)
	require.Len(t, feeds, 1)
	assert.Equal(t, "degraded", feeds[0].(map[string]interface{})["state"])

	// the first stream is still live
	frame = nextStreamFrame(t, reader)
	assert.Equal(t, models.FrameTrade, frame.Type)

	cancel()
	require.Eventually(t, func() bool {
		return len(h.coord.Snapshot().Connections) == 0 && len(h.server.Feeds.List()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// -----------------------------------------------------------------------------
// REST routes
// -----------------------------------------------------------------------------

type stubQuotes struct {
	events []models.MPriceEvent
	err    error
}

func (s *stubQuotes) FetchQuotes(ctx context.Context, symbols []string) ([]models.MPriceEvent, error) {
	return s.events, s.err
}

type stubStore struct {
	latest map[string]models.MPriceEvent
}

func (s *stubStore) Initialize() error { return nil }
func (s *stubStore) SavePriceEventsBulk(context.Context, []models.MPriceEvent) error {
	return nil
}
func (s *stubStore) LatestPrices(context.Context, []string) (map[string]models.MPriceEvent, error) {
	return s.latest, nil
}
func (s *stubStore) CleanupOldData(context.Context) error { return nil }
func (s *stubStore) Close() error                         { return nil }

func TestQuote(t *testing.T) {
	h := newHarness(t, "secret")
	h.server.Quotes = &stubQuotes{events: []models.MPriceEvent{{Symbol: "AAPL", Price: 190}}}

	rec := h.record(t, "/api/quote?symbols=aapl")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []models.MPriceEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, 190.0, body.Data[0].Price)

	assert.Equal(t, http.StatusBadRequest, h.record(t, "/api/quote").Code)
}

func TestQuote_RateLimited(t *testing.T) {
	h := newHarness(t, "secret")
	h.server.Quotes = &stubQuotes{err: helpers.NewTerminalError("upstream rate limit", true, nil)}

	rec := h.record(t, "/api/quote?symbols=AAPL")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody(t, rec)["code"])
}

func TestQuote_FallsBackToStoredPrices(t *testing.T) {
	h := newHarness(t, "secret")
	h.server.Quotes = &stubQuotes{err: helpers.NewTransportError("request failed", errors.New("dial tcp"))}

	rec := h.record(t, "/api/quote?symbols=AAPL")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	h.server.Store = &stubStore{latest: map[string]models.MPriceEvent{
		"AAPL": {Symbol: "AAPL", Price: 188, Timestamp: 1700000000000},
	}}
	rec = h.record(t, "/api/quote?symbols=AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["stale"])
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := newHarness(t, "secret")

	rec := h.record(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["streams"])
	assert.Equal(t, false, body["rateLimited"])

	rec = h.record(t, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "coordinator")

	h.record(t, "/stream?symbols=")
	rec = h.record(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stock_stream_")
}

func TestCorsPreflight(t *testing.T) {
	h := newHarness(t, "secret")
	origin := h.cfg.CorsAllowedOrigins
	require.NotEmpty(t, origin)

	req := httptest.NewRequest(http.MethodOptions, "/stream?symbols=AAPL", nil)
	req.Header.Set("Origin", origin[0])
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, origin[0], rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, h.coord.Snapshot().Connections)
}
