package coordinator

import (
	"time"

	"stock-stream/src/models"
)

// rateWindow is the process-wide admission counter. Callers hold the
// coordinator lock.
type rateWindow struct {
	window      time.Duration
	maxAttempts int
	block       time.Duration

	attempts      int
	windowStartAt time.Time
	blockedUntil  *time.Time
}

func newRateWindow(window time.Duration, maxAttempts int, block time.Duration, now time.Time) *rateWindow {
	return &rateWindow{
		window:        window,
		maxAttempts:   maxAttempts,
		block:         block,
		windowStartAt: now,
	}
}

// -----------------------------------------------------------------------------

// hit counts one attempt. It returns false and the time left in the block when
// the attempt must be rejected.
func (w *rateWindow) hit(now time.Time) (bool, time.Duration) {
	if w.blockedUntil != nil {
		if now.Before(*w.blockedUntil) {
			return false, w.blockedUntil.Sub(now)
		}
		w.blockedUntil = nil
		w.attempts = 0
		w.windowStartAt = now
	}

	if now.Sub(w.windowStartAt) > w.window {
		w.attempts = 0
		w.windowStartAt = now
	}

	w.attempts++
	if w.attempts > w.maxAttempts {
		until := now.Add(w.block)
		w.blockedUntil = &until
		return false, w.block
	}
	return true, 0
}

// -----------------------------------------------------------------------------

func (w *rateWindow) blocked(now time.Time) bool {
	return w.blockedUntil != nil && now.Before(*w.blockedUntil)
}

func (w *rateWindow) status() models.MRateWindowStatus {
	st := models.MRateWindowStatus{
		Attempts:      w.attempts,
		WindowStartAt: w.windowStartAt,
	}
	if w.blockedUntil != nil {
		until := *w.blockedUntil
		st.BlockedUntil = &until
	}
	return st
}
