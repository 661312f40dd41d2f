package consumer

import (
	"sort"
	"sync"

	"stock-stream/src/models"
)

// MemoryWatchlist is an in-process WatchlistStore keeping the latest price
// per symbol. OnPrice, when set, sees every applied price.
type MemoryWatchlist struct {
	OnPrice func(models.MPriceEvent)

	mu      sync.RWMutex
	symbols []string
	prices  map[string]models.MPriceEvent
	liveOff bool
}

func NewMemoryWatchlist(symbols []string) *MemoryWatchlist {
	return &MemoryWatchlist{
		symbols: append([]string(nil), symbols...),
		prices:  make(map[string]models.MPriceEvent),
	}
}

func (w *MemoryWatchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.symbols...)
}

func (w *MemoryWatchlist) SetSymbols(symbols []string) {
	w.mu.Lock()
	w.symbols = append([]string(nil), symbols...)
	w.mu.Unlock()
}

// ApplyPrice keeps the newest event per symbol; older ticks are ignored.
func (w *MemoryWatchlist) ApplyPrice(evt models.MPriceEvent) {
	w.mu.Lock()
	prev, ok := w.prices[evt.Symbol]
	if ok && prev.Timestamp > evt.Timestamp {
		w.mu.Unlock()
		return
	}
	w.prices[evt.Symbol] = evt
	cb := w.OnPrice
	w.mu.Unlock()

	if cb != nil {
		cb(evt)
	}
}

func (w *MemoryWatchlist) DisableLiveData() {
	w.mu.Lock()
	w.liveOff = true
	w.mu.Unlock()
}

func (w *MemoryWatchlist) LiveDataDisabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.liveOff
}

// Prices returns the latest price per symbol ordered by symbol.
func (w *MemoryWatchlist) Prices() []models.MPriceEvent {
	w.mu.RLock()
	out := make([]models.MPriceEvent, 0, len(w.prices))
	for _, evt := range w.prices {
		out = append(out, evt)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
