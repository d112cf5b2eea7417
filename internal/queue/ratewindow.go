package queue

import (
	"sync"
	"time"
)

// dropRateWindow tracks drops against total offered load over a rolling
// window. Crossing the threshold for a full window is a symptom the
// consumer is too slow or the queue too small; the queue only raises the
// signal, it never resizes or throttles on its own.
type dropRateWindow struct {
	threshold float64
	window    time.Duration

	mu       sync.Mutex
	start    time.Time
	produced uint64
	dropped  uint64
}

func (w *dropRateWindow) produce() {
	w.mu.Lock()
	w.produced++
	w.mu.Unlock()
}

// drop records one drop and reports whether the closing window exceeded the
// threshold, together with the observed rate.
func (w *dropRateWindow) drop() (bool, float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.dropped++
	if time.Since(w.start) < w.window {
		return false, 0
	}

	total := w.produced + w.dropped
	rate := float64(w.dropped) / float64(total)

	w.start = time.Now()
	w.produced = 0
	w.dropped = 0

	return rate > w.threshold, rate
}
