package consumer

import (
	"sort"
	"sync"
	"time"
)

// latencyWindow keeps a bounded rolling sample of enqueue-to-dequeue
// latencies. Bounded so a week of uptime costs the same memory as a minute.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

// LatencyStats is the periodic percentile summary logged by the loop.
type LatencyStats struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

func newLatencyWindow(size int) *latencyWindow {
	if size < 1 {
		size = 1
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.mu.Lock()
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
	w.mu.Unlock()
}

func (w *latencyWindow) stats() LatencyStats {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	snapshot := make([]time.Duration, n)
	copy(snapshot, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	return LatencyStats{
		Count: n,
		P50:   snapshot[n/2],
		P95:   snapshot[(n*95)/100],
		Max:   snapshot[n-1],
	}
}
