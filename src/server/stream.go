package server

import (
	"net/http"
	"sync"

	"stock-stream/src/coordinator"
	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// streamSession - one admitted SSE stream
// -----------------------------------------------------------------------------

type streamSession struct {
	server  *StreamServer
	key     string
	symbols []string
	feed    interfaces.IFeed
	once    sync.Once
}

// cleanup stops the feed and releases the key. Runs once per stream however
// many teardown paths race.
func (ss *streamSession) cleanup(reason string) {
	ss.once.Do(func() {
		ss.server.Feeds.Close(ss.key)
		ss.server.Coordinator.Release(ss.key)
		ss.server.Metrics.StreamClosed()
		ss.server.Logger.Info("Stream %s closed (%s)", ss.key, reason)
	})
}

// -----------------------------------------------------------------------------
// GET /stream?symbols=A,B
// -----------------------------------------------------------------------------

func (s *StreamServer) handleStream(c *gin.Context) {
	key, symbols := coordinator.NormalizeKey(coordinator.ParseSymbols(c.Query("symbols")))
	if key == "" {
		writeError(c, helpers.NewValidationError("symbols query parameter is required"))
		return
	}

	if s.Config.Finnhub.Token == "" {
		writeError(c, helpers.NewConfigurationError("upstream API token is not configured", nil))
		return
	}

	if _, err := s.Coordinator.Admit(key, symbols); err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()

	feed, err := s.Feeds.Open(ctx, key, symbols)
	if err != nil {
		s.Coordinator.Release(key)
		s.Logger.Error("Cannot open feed for %s: %v", key, err)
		writeError(c, err)
		return
	}

	ss := &streamSession{server: s, key: key, symbols: symbols, feed: feed}
	s.Metrics.StreamOpened()
	defer ss.cleanup("handler exit")

	w := c.Writer
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.publish(w, models.ConnectedFrame(symbols)); err != nil {
		ss.cleanup("write failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			ss.cleanup("client disconnected")
			return

		case frame, ok := <-feed.Frames():
			if !ok {
				ss.cleanup("feed finished")
				return
			}
			if err := s.publish(w, frame); err != nil {
				ss.cleanup("write failed")
				return
			}
			if frame.Type == models.FrameError {
				ss.cleanup("upstream error")
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (s *StreamServer) publish(w gin.ResponseWriter, frame models.MStreamFrame) error {
	if err := helpers.WriteSSEFrame(w, frame); err != nil {
		return err
	}
	if s.Sink != nil {
		s.Sink.Record(frame)
	}
	return nil
}
