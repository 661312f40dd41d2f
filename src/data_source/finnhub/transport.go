package finnhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/logger"
	"stock-stream/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	eventBuffer    = 64

	// Vendor close codes treated as permanent.
	closeAuthFailed  = 4001
	closeRateLimited = 4029
)

// -----------------------------------------------------------------------------
// WebSocketTransport
// -----------------------------------------------------------------------------

// WebSocketTransport is the Finnhub trade feed over gorilla/websocket.
type WebSocketTransport struct {
	URL    string
	Dialer *websocket.Dialer
	Logger *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	session chan struct{} // closed when the current session is torn down
}

// -----------------------------------------------------------------------------

func NewWebSocketTransport(wsURL, token string, log *logger.Logger) (*WebSocketTransport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url '%s': %w", wsURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	return &WebSocketTransport{
		URL: u.String(),
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (t *WebSocketTransport) Open(ctx context.Context) (<-chan models.MTransportEvent, error) {
	conn, resp, err := t.Dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, classifyDialError(resp, err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	events := make(chan models.MTransportEvent, eventBuffer)

	t.mu.Lock()
	t.conn = conn
	t.session = done
	t.mu.Unlock()

	go t.readPump(conn, events, done)
	go t.pingPump(conn, done)

	return events, nil
}

// -----------------------------------------------------------------------------

func (t *WebSocketTransport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return helpers.NewTransportError("send on closed transport", nil)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return helpers.NewTransportError("write failed", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	close(t.session)
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := t.conn.Close()

	t.conn = nil
	t.session = nil
	return err
}

// -----------------------------------------------------------------------------
// readPump - forwards inbound messages until the connection fails
// -----------------------------------------------------------------------------

func (t *WebSocketTransport) readPump(conn *websocket.Conn, events chan<- models.MTransportEvent, done <-chan struct{}) {
	defer close(events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case events <- models.MTransportEvent{Kind: models.TransportClosed, Err: classifyReadError(err)}:
			case <-done:
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case events <- models.MTransportEvent{Kind: models.TransportMessage, Data: data}:
		case <-done:
			return
		}
	}
}

// -----------------------------------------------------------------------------
// pingPump - keeps the upstream connection alive
// -----------------------------------------------------------------------------

func (t *WebSocketTransport) pingPump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.Logger.Debug("Ping failed: %v", err)
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Error classification
// -----------------------------------------------------------------------------

func classifyDialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return helpers.NewTerminalError("upstream rate limit", true, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return helpers.NewTerminalError("upstream rejected credentials", false, err)
		}
	}
	return helpers.NewTransportError("dial failed", err)
}

func classifyReadError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case closeRateLimited, websocket.CloseTryAgainLater:
			return helpers.NewTerminalError("upstream rate limit", true, err)
		case closeAuthFailed, websocket.ClosePolicyViolation:
			return helpers.NewTerminalError("upstream rejected credentials", false, err)
		}
	}
	return helpers.NewTransportError("upstream connection lost", err)
}
