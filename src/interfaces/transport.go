package interfaces

import (
	"context"

	"stock-stream/src/models"
)

// -----------------------------------------------------------------------------
// IUpstreamTransport abstracts the vendor connection (WebSocket or a fake).
// -----------------------------------------------------------------------------

type IUpstreamTransport interface {

	// Open establishes a session. The returned channel carries message events
	// and ends with exactly one closed event before being closed.
	Open(ctx context.Context) (<-chan models.MTransportEvent, error)

	// -----------------------------------------------------------------------------

	// Send writes one message on the current session.
	Send(ctx context.Context, message []byte) error

	// -----------------------------------------------------------------------------

	// Close terminates the current session. Safe to call when not open.
	Close() error
}
