package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sitsense/posture-agent/internal/domain/event"
)

// EnqueueResult makes backpressure explicit. Callers must decide what a
// drop means to them instead of catching a throwaway exception.
type EnqueueResult int

const (
	Enqueued       EnqueueResult = iota
	DroppedFull                  // low tier, queue full, dropped immediately
	DroppedTimeout               // blocked for the tier's window, still full
	Closed
)

func (r EnqueueResult) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case DroppedFull:
		return "dropped_full"
	case DroppedTimeout:
		return "dropped_timeout"
	default:
		return "closed"
	}
}

// DropCounters is the running tally surfaced to diagnostics and tests.
type DropCounters struct {
	Produced       uint64
	DroppedFull    uint64
	DroppedTimeout uint64
	Evicted        uint64
}

type item struct {
	ev  event.Event
	seq uint64
}

// Ordering: priority first (higher tier wins), then enqueue sequence within
// a tier. Standard priority-queue semantics; the enqueue timestamp plays no
// part in it.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority > h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)        { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is the bounded, thread-safe priority buffer between the producer
// glue and the consumer loop. Capacity is fixed at construction; sizing
// rule of thumb is production rate x worst-case consumer stall x 1.5
// (see CapacityFor).
//
// Backpressure is tiered:
//   - critical: block up to criticalTimeout, then try to evict one low
//     entry; only if nothing is evictable is the event dropped, and that
//     drop is always logged at error severity.
//   - high/normal: block up to standardTimeout, then drop and warn.
//   - low: never block; drop silently and count. No per-event log, or a
//     telemetry burst becomes a log storm.
type Queue struct {
	logger  *slog.Logger
	metrics *Metrics

	capacity        int
	criticalTimeout time.Duration
	standardTimeout time.Duration

	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	closed   bool
	notEmpty chan struct{} // closed to broadcast, then replaced
	notFull  chan struct{}

	produced       atomic.Uint64
	droppedFull    atomic.Uint64
	droppedTimeout atomic.Uint64
	evicted        atomic.Uint64

	rate dropRateWindow
}

type Option func(*Queue)

// WithMetrics mirrors counters and depth into prometheus.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithCriticalTimeout bounds the blocking window for the critical tier.
func WithCriticalTimeout(d time.Duration) Option {
	return func(q *Queue) { q.criticalTimeout = d }
}

// WithStandardTimeout bounds the blocking window for high/normal tiers.
func WithStandardTimeout(d time.Duration) Option {
	return func(q *Queue) { q.standardTimeout = d }
}

// WithDropRatePolicy sets the sustained drop-rate level that escalates to
// an error log. Signal only; the queue never remediates on its own.
func WithDropRatePolicy(threshold float64, window time.Duration) Option {
	return func(q *Queue) {
		q.rate.threshold = threshold
		q.rate.window = window
	}
}

func New(capacity int, logger *slog.Logger, opts ...Option) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		logger:          logger,
		capacity:        capacity,
		criticalTimeout: time.Second,
		standardTimeout: 500 * time.Millisecond,
		notEmpty:        make(chan struct{}),
		notFull:         make(chan struct{}),
		rate: dropRateWindow{
			threshold: 0.10,
			window:    30 * time.Second,
			start:     time.Now(),
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// CapacityFor sizes a queue to absorb the worst-case burst: production rate
// times tolerated consumer stall, with a 1.5 safety margin.
func CapacityFor(eventsPerSec float64, stallTolerance time.Duration) int {
	c := int(eventsPerSec * stallTolerance.Seconds() * 1.5)
	if c < 16 {
		return 16
	}
	return c
}

func (q *Queue) tierTimeout(p event.Priority) time.Duration {
	switch p {
	case event.PriorityCritical:
		return q.criticalTimeout
	case event.PriorityHigh, event.PriorityNormal:
		return q.standardTimeout
	default:
		return 0
	}
}

// Enqueue inserts ev according to its tier's backpressure policy. Never
// panics, never blocks past the tier's bounded window.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event) EnqueueResult {
	deadline := time.Now().Add(q.tierTimeout(ev.Priority))

	q.mu.Lock()
	for {
		if q.closed {
			q.mu.Unlock()
			return Closed
		}

		if len(q.items) < q.capacity {
			q.pushLocked(ev)
			q.mu.Unlock()
			return Enqueued
		}

		// Full. Low never waits.
		if ev.Priority == event.PriorityLow {
			q.mu.Unlock()
			q.droppedFull.Add(1)
			q.countDrop("full", ev)
			return DroppedFull
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return q.dropAfterTimeoutLocked(ev)
		}

		ch := q.notFull
		q.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			deadline = time.Now()
		}
		q.mu.Lock()
	}
}

// dropAfterTimeoutLocked is entered with the lock held and a full queue
// after the blocking window expired. Critical gets one last resort: evict a
// low-priority entry to make room.
func (q *Queue) dropAfterTimeoutLocked(ev event.Event) EnqueueResult {
	if ev.Priority == event.PriorityCritical {
		if q.evictOneLowLocked() {
			q.pushLocked(ev)
			q.mu.Unlock()
			q.logger.Warn("QUEUE_LOW_EVICTED_FOR_CRITICAL",
				"kind", ev.Kind.String(),
				"event_id", ev.ID,
			)
			return Enqueued
		}
		q.mu.Unlock()
		q.droppedTimeout.Add(1)
		q.countDrop("timeout", ev)
		// The one circumstance a critical event may be lost. Never silent.
		q.logger.Error("QUEUE_CRITICAL_DROPPED",
			"kind", ev.Kind.String(),
			"event_id", ev.ID,
			"timeout_ms", q.criticalTimeout.Milliseconds(),
		)
		return DroppedTimeout
	}

	q.mu.Unlock()
	q.droppedTimeout.Add(1)
	q.countDrop("timeout", ev)
	q.logger.Warn("QUEUE_EVENT_DROPPED",
		"kind", ev.Kind.String(),
		"priority", ev.Priority.String(),
		"timeout_ms", q.standardTimeout.Milliseconds(),
	)
	return DroppedTimeout
}

func (q *Queue) pushLocked(ev event.Event) {
	q.seq++
	heap.Push(&q.items, &item{ev: ev, seq: q.seq})
	q.produced.Add(1)
	q.rate.produce()
	if q.metrics != nil {
		q.metrics.Produced.WithLabelValues(ev.Priority.String()).Inc()
		q.metrics.Depth.Set(float64(len(q.items)))
	}
	q.signalLocked(&q.notEmpty)
}

// evictOneLowLocked removes the oldest low-tier entry, if any. Oldest goes
// first: for latest-wins telemetry the newest sample is the valuable one.
func (q *Queue) evictOneLowLocked() bool {
	victim := -1
	for i, it := range q.items {
		if it.ev.Priority != event.PriorityLow {
			continue
		}
		if victim == -1 || it.seq < q.items[victim].seq {
			victim = i
		}
	}
	if victim == -1 {
		return false
	}
	heap.Remove(&q.items, victim)
	q.evicted.Add(1)
	if q.metrics != nil {
		q.metrics.Dropped.WithLabelValues("evicted").Inc()
	}
	return true
}

// Dequeue blocks up to timeout for the highest-priority entry. The short
// poll interval the consumer passes here is what keeps shutdown prompt.
func (q *Queue) Dequeue(timeout time.Duration) (event.Event, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	for {
		if len(q.items) > 0 {
			it := heap.Pop(&q.items).(*item)
			if q.metrics != nil {
				q.metrics.Depth.Set(float64(len(q.items)))
			}
			q.signalLocked(&q.notFull)
			q.mu.Unlock()
			return it.ev, true
		}

		if q.closed {
			q.mu.Unlock()
			return event.Event{}, false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			q.mu.Unlock()
			return event.Event{}, false
		}

		ch := q.notEmpty
		q.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
		}
		q.mu.Lock()
	}
}

// signalLocked wakes every waiter on the given channel slot by closing it
// and installing a fresh one.
func (q *Queue) signalLocked(slot *chan struct{}) {
	close(*slot)
	*slot = make(chan struct{})
}

// Len reports current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Counters returns the running produce/drop tallies.
func (q *Queue) Counters() DropCounters {
	return DropCounters{
		Produced:       q.produced.Load(),
		DroppedFull:    q.droppedFull.Load(),
		DroppedTimeout: q.droppedTimeout.Load(),
		Evicted:        q.evicted.Load(),
	}
}

// Close wakes all waiters. Pending entries remain drainable; further
// enqueues report Closed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked(&q.notEmpty)
	q.signalLocked(&q.notFull)
}

func (q *Queue) countDrop(reason string, ev event.Event) {
	if q.metrics != nil {
		q.metrics.Dropped.WithLabelValues(reason).Inc()
	}
	if elevated, rate := q.rate.drop(); elevated {
		q.logger.Error("QUEUE_DROP_RATE_ELEVATED",
			"rate", rate,
			"threshold", q.rate.threshold,
			"window_s", q.rate.window.Seconds(),
			"last_kind", ev.Kind.String(),
		)
	}
}
