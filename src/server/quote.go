package server

import (
	"net/http"

	"stock-stream/src/coordinator"
	"stock-stream/src/helpers"
	"stock-stream/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// GET /api/quote?symbols=A,B
// -----------------------------------------------------------------------------

// getQuote proxies REST quotes for clients that fell back to polling. When the
// vendor is unreachable the last stored prices are served and flagged stale.
func (s *StreamServer) getQuote(c *gin.Context) {
	_, symbols := coordinator.NormalizeKey(coordinator.ParseSymbols(c.Query("symbols")))
	if len(symbols) == 0 {
		writeError(c, helpers.NewValidationError("symbols query parameter is required"))
		return
	}

	if s.Config.Finnhub.Token == "" {
		writeError(c, helpers.NewConfigurationError("upstream API token is not configured", nil))
		return
	}

	ctx := c.Request.Context()
	events, err := s.Quotes.FetchQuotes(ctx, symbols)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"data": nonNil(events)})
		return
	}

	if terminal, ok := helpers.IsTerminal(err); ok {
		status := http.StatusBadGateway
		if terminal.RateLimited {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, gin.H{"error": terminal.Message, "code": terminal.Code})
		return
	}

	s.Logger.Warning("Quote fetch failed for %v: %v", symbols, err)

	if s.Store != nil {
		latest, serr := s.Store.LatestPrices(ctx, symbols)
		if serr != nil {
			s.Logger.Error("Stored price lookup failed: %v", serr)
		} else if len(latest) > 0 {
			out := make([]models.MPriceEvent, 0, len(latest))
			for _, sym := range symbols {
				if evt, ok := latest[sym]; ok {
					out = append(out, evt)
				}
			}
			c.JSON(http.StatusOK, gin.H{"data": out, "stale": true})
			return
		}
	}

	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream quote service unavailable", "code": "UPSTREAM_UNAVAILABLE"})
}

func nonNil(events []models.MPriceEvent) []models.MPriceEvent {
	if events == nil {
		return []models.MPriceEvent{}
	}
	return events
}
