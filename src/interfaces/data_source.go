package interfaces

import (
	"context"

	"stock-stream/src/models"
)

// -----------------------------------------------------------------------------
// IQuoteSource fetches point-in-time quotes for a symbol set (REST polling).
// -----------------------------------------------------------------------------

type IQuoteSource interface {

	// FetchQuotes returns one normalized event per symbol that could be fetched.
	FetchQuotes(ctx context.Context, symbols []string) ([]models.MPriceEvent, error)
}

// -----------------------------------------------------------------------------
// IFeed is one running upstream feed bound to a connection key.
// -----------------------------------------------------------------------------

type IFeed interface {

	// Key returns the connection key the feed serves.
	Key() string

	// -----------------------------------------------------------------------------

	// State returns the current lifecycle state name.
	State() string

	// -----------------------------------------------------------------------------

	// Start launches the feed. Frames are delivered until the feed finishes,
	// then the Frames channel is closed.
	Start(ctx context.Context) error

	// -----------------------------------------------------------------------------

	Frames() <-chan models.MStreamFrame

	// -----------------------------------------------------------------------------

	// Stop tears the feed down and cancels pending timers. Idempotent.
	Stop()
}

// -----------------------------------------------------------------------------
// IFeedFactory builds an unstarted feed for a normalized symbol set.
// -----------------------------------------------------------------------------

type IFeedFactory interface {
	NewFeed(key string, symbols []string) (IFeed, error)
}
