package consumer

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/models"
)

// RESTPoller refreshes the watchlist from the proxy's /api/quote route.
type RESTPoller struct {
	BaseURL  string
	Network  interfaces.INetworkManager
	Store    WatchlistStore
	Interval time.Duration
	Logger   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRESTPoller(cfg models.MConsumerConfig, netMgr interfaces.INetworkManager, store WatchlistStore, log *logger.Logger) *RESTPoller {
	return &RESTPoller{
		BaseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		Network:  netMgr,
		Store:    store,
		Interval: cfg.PollInterval(),
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

func (p *RESTPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	p.Logger.Info("Polling quotes every %v", p.Interval)
	go p.loop(ctx, p.done)
}

func (p *RESTPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		p.Logger.Info("Quote polling stopped")
	}
}

// Running reports whether the poll loop is active.
func (p *RESTPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// -----------------------------------------------------------------------------

func (p *RESTPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches one quote snapshot and applies it to the store.
func (p *RESTPoller) PollOnce(ctx context.Context) {
	symbols := p.Store.Symbols()
	if len(symbols) == 0 {
		return
	}

	body, err := p.Network.Get(ctx, p.BaseURL+"/api/quote", map[string]string{
		"symbols": strings.Join(symbols, ","),
	})
	if err != nil {
		if ctx.Err() == nil {
			p.Logger.Warning("Quote poll failed: %v", err)
		}
		return
	}

	var resp struct {
		Data []models.MPriceEvent `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		p.Logger.Warning("Quote poll: %v", helpers.NewParseError("malformed quote response", err))
		return
	}
	for _, evt := range resp.Data {
		p.Store.ApplyPrice(evt)
	}
}
