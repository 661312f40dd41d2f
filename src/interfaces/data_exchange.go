package interfaces

import "stock-stream/src/models"

// -----------------------------------------------------------------------------
// IFrameSink receives a copy of every frame published to clients (recording).
// -----------------------------------------------------------------------------

type IFrameSink interface {

	// Record must not block the publishing stream.
	Record(frame models.MStreamFrame)
}
