package finnhub

import (
	"stock-stream/src/helpers"
	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"
	"stock-stream/src/utils"
)

// TransportFunc builds the upstream transport for one feed.
type TransportFunc func(cfg models.MFinnhubConfig, log *logger.Logger) (interfaces.IUpstreamTransport, error)

// AdapterFactory wires a FeedAdapter per connection key.
type AdapterFactory struct {
	Config       *models.MConfig
	Coordinator  interfaces.IConnectionCoordinator
	Quotes       interfaces.IQuoteSource
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	NewTransport TransportFunc
}

func NewAdapterFactory(
	cfg *models.MConfig,
	coord interfaces.IConnectionCoordinator,
	quotes interfaces.IQuoteSource,
	log *logger.Logger,
	m *metrics.Metrics,
) *AdapterFactory {
	return &AdapterFactory{
		Config:       cfg,
		Coordinator:  coord,
		Quotes:       quotes,
		Logger:       log,
		Metrics:      m,
		NewTransport: DefaultTransport,
	}
}

func DefaultTransport(cfg models.MFinnhubConfig, log *logger.Logger) (interfaces.IUpstreamTransport, error) {
	return NewWebSocketTransport(cfg.WsURL, cfg.Token, log)
}

// -----------------------------------------------------------------------------

// NewFeed returns an idle adapter. A missing API token is a configuration
// error and no adapter is built.
func (f *AdapterFactory) NewFeed(key string, symbols []string) (interfaces.IFeed, error) {
	if f.Config.Finnhub.Token == "" {
		return nil, helpers.NewConfigurationError("upstream API token is not configured", nil)
	}

	log := f.Logger.With("feed", key)

	transport, err := f.NewTransport(f.Config.Finnhub, log)
	if err != nil {
		return nil, helpers.NewConfigurationError("cannot build upstream transport", err)
	}

	var poller *QuotePoller
	if f.Quotes != nil && !f.Config.Feed.DisableFallbackPolling {
		poller = &QuotePoller{
			Source:         f.Quotes,
			Interval:       f.Config.Feed.PollInterval(),
			ClosedInterval: f.Config.Feed.ClosedMarketPollInterval(),
			Scheduler:      utils.NewMarketScheduler(symbols, log),
			Logger:         log,
			Metrics:        f.Metrics,
		}
	}

	return NewFeedAdapter(key, symbols, f.Config.Feed, transport, poller, f.Coordinator, log, f.Metrics), nil
}
