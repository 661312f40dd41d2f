package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"
	"stock-stream/src/utils"
)

// -----------------------------------------------------------------------------
// QuoteSource - Finnhub REST /quote
// -----------------------------------------------------------------------------

type QuoteSource struct {
	RestURL            string
	Token              string
	ConcurrentRequests int
	Network            interfaces.INetworkManager
	Logger             *logger.Logger
}

func NewQuoteSource(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *QuoteSource {
	return &QuoteSource{
		RestURL:            strings.TrimRight(cfg.Finnhub.RestURL, "/"),
		Token:              cfg.Finnhub.Token,
		ConcurrentRequests: cfg.Network.ConcurrentRequests,
		Network:            netMgr,
		Logger:             log,
	}
}

// -----------------------------------------------------------------------------

// FetchQuotes fetches symbols concurrently. A terminal error (auth, rate
// limit) aborts the batch; other per-symbol failures are logged and skipped
// unless every symbol failed.
func (s *QuoteSource) FetchQuotes(ctx context.Context, symbols []string) ([]models.MPriceEvent, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	limit := s.ConcurrentRequests
	if limit <= 0 {
		limit = 1
	}

	results := make(map[string]models.MPriceEvent, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []error

	sem := make(chan struct{}, limit)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			evt, ok, err := s.fetchSymbol(ctx, sym)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.Logger.Info("Error fetching quote for %s: %v", sym, err)
				errs = append(errs, err)
				return
			}
			if ok {
				results[sym] = evt
			}
		}(symbol)
	}
	wg.Wait()

	for _, err := range errs {
		if _, terminal := helpers.IsTerminal(err); terminal {
			return nil, err
		}
	}
	if len(results) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("all quote fetches failed: %w", errs[0])
	}

	// keep request order
	out := make([]models.MPriceEvent, 0, len(results))
	for _, sym := range symbols {
		if evt, ok := results[sym]; ok {
			out = append(out, evt)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (s *QuoteSource) fetchSymbol(ctx context.Context, symbol string) (models.MPriceEvent, bool, error) {
	body, err := s.Network.Get(ctx, s.RestURL+"/quote", map[string]string{
		"symbol": symbol,
		"token":  s.Token,
	})
	if err != nil {
		return models.MPriceEvent{}, false, err
	}

	var q models.MFinnhubQuote
	if err := json.Unmarshal(body, &q); err != nil {
		return models.MPriceEvent{}, false, helpers.NewParseError("malformed quote response", err)
	}

	// unknown symbols come back as all zeros
	if q.Current == 0 && q.Timestamp == 0 {
		return models.MPriceEvent{}, false, nil
	}

	return QuoteToEvent(symbol, q, time.Now()), true, nil
}

// QuoteToEvent normalizes a REST quote. Quotes carry no volume.
func QuoteToEvent(symbol string, q models.MFinnhubQuote, now time.Time) models.MPriceEvent {
	ts := now.UnixMilli()
	if q.Timestamp > 0 {
		ts = toMillis(q.Timestamp)
	}
	change := q.Change
	percent := q.PercentChange
	return models.MPriceEvent{
		Symbol:        symbol,
		Price:         q.Current,
		Timestamp:     ts,
		Change:        &change,
		PercentChange: &percent,
	}
}

// -----------------------------------------------------------------------------
// QuotePoller - periodic REST fallback
// -----------------------------------------------------------------------------

type QuotePoller struct {
	Source         interfaces.IQuoteSource
	Interval       time.Duration
	ClosedInterval time.Duration
	Scheduler      *utils.MarketScheduler
	Logger         *logger.Logger
	Metrics        *metrics.Metrics
}

// Run polls immediately and then on every interval until ctx is done. It
// returns nil on cancellation and the error on a terminal upstream failure.
func (p *QuotePoller) Run(ctx context.Context, symbols []string, emit func(models.MPriceEvent)) error {
	for {
		events, err := p.Source.FetchQuotes(ctx, symbols)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if _, terminal := helpers.IsTerminal(err); terminal {
				p.Metrics.ObservePoll("terminal")
				return err
			}
			p.Metrics.ObservePoll("error")
			p.Logger.Warning("Quote poll failed for %v: %v", symbols, err)
		} else {
			p.Metrics.ObservePoll("ok")
			for _, evt := range events {
				emit(evt)
			}
		}

		timer := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (p *QuotePoller) interval() time.Duration {
	if p.Scheduler != nil && p.ClosedInterval > 0 && !p.Scheduler.AnyMarketOpen() {
		return p.ClosedInterval
	}
	return p.Interval
}
