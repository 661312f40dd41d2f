package interfaces

import (
	"context"

	"stock-stream/src/models"
)

// -----------------------------------------------------------------------------
// ITradeStore defines the contract for tick storage operations.
// -----------------------------------------------------------------------------

type ITradeStore interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SavePriceEventsBulk inserts a batch of normalized price events.
	SavePriceEventsBulk(ctx context.Context, events []models.MPriceEvent) error

	// -----------------------------------------------------------------------------

	// LatestPrices returns the most recent stored event per requested symbol.
	LatestPrices(ctx context.Context, symbols []string) (map[string]models.MPriceEvent, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
