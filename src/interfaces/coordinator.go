package interfaces

import "stock-stream/src/models"

// -----------------------------------------------------------------------------
// IConnectionCoordinator guards stream admission per connection key.
// The in-memory implementation lives in src/coordinator; a shared-store
// implementation would satisfy the same contract.
// -----------------------------------------------------------------------------

type IConnectionCoordinator interface {

	// Admit atomically checks and registers a stream for key.
	// Rejections are *helpers.AdmissionRejectedError.
	Admit(key string, symbols []string) (*models.MConnectionRecord, error)

	// -----------------------------------------------------------------------------

	// Release drops the record for key. Idempotent.
	Release(key string)

	// -----------------------------------------------------------------------------

	// RecordFailure counts a terminal upstream failure for key.
	RecordFailure(key string, isRateLimitSignal bool)

	// -----------------------------------------------------------------------------

	// RecordDegraded counts a failure for key while its stream keeps running
	// on a fallback path. The record stays until Release.
	RecordDegraded(key string)

	// -----------------------------------------------------------------------------

	// RecordSuccess resets the circuit for key.
	RecordSuccess(key string)

	// -----------------------------------------------------------------------------

	// Snapshot returns a copy of the current state.
	Snapshot() models.MCoordinatorStatus
}
