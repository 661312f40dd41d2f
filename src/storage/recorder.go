package storage

import (
	"context"
	"time"

	"stock-stream/src/interfaces"
	"stock-stream/src/logger"
	"stock-stream/src/metrics"
	"stock-stream/src/models"
)

const (
	recorderBuffer   = 4096
	cleanupInterval  = time.Hour
	flushWriteBudget = 10 * time.Second
)

// -----------------------------------------------------------------------------
// TradeRecorder - batches published trades into the trade store
// -----------------------------------------------------------------------------

type TradeRecorder struct {
	Store         interfaces.ITradeStore
	FlushInterval time.Duration
	Logger        *logger.Logger
	Metrics       *metrics.Metrics

	events chan models.MPriceEvent
	done   chan struct{}
}

func NewTradeRecorder(store interfaces.ITradeStore, cfg *models.MStorageConfig, log *logger.Logger, m *metrics.Metrics) *TradeRecorder {
	interval := time.Duration(cfg.FlushIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TradeRecorder{
		Store:         store,
		FlushInterval: interval,
		Logger:        log,
		Metrics:       m,
		events:        make(chan models.MPriceEvent, recorderBuffer),
		done:          make(chan struct{}),
	}
}

// -----------------------------------------------------------------------------

// Record queues trade frames. It drops the event when the buffer is full.
func (r *TradeRecorder) Record(frame models.MStreamFrame) {
	if frame.Type != models.FrameTrade || frame.Data == nil {
		return
	}
	select {
	case r.events <- *frame.Data:
	default:
		r.Metrics.ObserveRecorded("dropped", 1)
	}
}

// -----------------------------------------------------------------------------

// Run flushes batches until ctx is done, then drains what is left.
func (r *TradeRecorder) Run(ctx context.Context) {
	defer close(r.done)

	flush := time.NewTicker(r.FlushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	r.cleanup()

	var batch []models.MPriceEvent
	for {
		select {
		case <-ctx.Done():
			r.flush(r.drain(batch))
			return
		case evt := <-r.events:
			batch = append(batch, evt)
		case <-flush.C:
			r.flush(batch)
			batch = nil
		case <-cleanup.C:
			r.cleanup()
		}
	}
}

// Wait blocks until Run has returned.
func (r *TradeRecorder) Wait() {
	<-r.done
}

// -----------------------------------------------------------------------------

func (r *TradeRecorder) drain(batch []models.MPriceEvent) []models.MPriceEvent {
	for {
		select {
		case evt := <-r.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
}

func (r *TradeRecorder) flush(batch []models.MPriceEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushWriteBudget)
	defer cancel()

	if err := r.Store.SavePriceEventsBulk(ctx, batch); err != nil {
		r.Logger.Error("Failed to store %d trades: %v", len(batch), err)
		r.Metrics.ObserveRecorded("failed", len(batch))
		return
	}
	r.Metrics.ObserveRecorded("stored", len(batch))
	r.Logger.Debug("Stored %d trades", len(batch))
}

func (r *TradeRecorder) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), flushWriteBudget)
	defer cancel()
	if err := r.Store.CleanupOldData(ctx); err != nil {
		r.Logger.Warning("Trade retention cleanup failed: %v", err)
	}
}
