package utils

import (
	"sync"
	"time"

	"stock-stream/src/logger"
)

// MarketScheduler tracks the exchanges behind a symbol set so pollers can
// slow down while every relevant market is closed.
type MarketScheduler struct {
	Logger *logger.Logger

	mu        sync.RWMutex
	calendars map[string]*TradingCalendar // keyed by MIC, "" for 24/7 venues
	now       func() time.Time
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(symbols []string, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{Logger: l, now: time.Now}
	ms.UpdateSymbols(symbols)
	return ms
}

// -----------------------------------------------------------------------------

func (ms *MarketScheduler) UpdateSymbols(symbols []string) {
	cals := make(map[string]*TradingCalendar)
	for _, symbol := range symbols {
		mic := MICForSymbol(symbol)
		if _, ok := cals[mic]; ok {
			continue
		}
		cals[mic] = GetCalendar(symbol)
	}

	ms.mu.Lock()
	ms.calendars = cals
	ms.mu.Unlock()

	ms.Logger.Debug("MarketScheduler: %d symbols on %d calendars", len(symbols), len(cals))
}

// -----------------------------------------------------------------------------

// AnyMarketOpen reports whether at least one tracked market is open. With no
// symbols tracked it reports true so callers keep their normal cadence.
func (ms *MarketScheduler) AnyMarketOpen() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if len(ms.calendars) == 0 {
		return true
	}

	now := ms.now().UTC()
	for _, cal := range ms.calendars {
		if cal.IsOpen(now) {
			return true
		}
	}
	return false
}
