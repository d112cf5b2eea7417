package consumer

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sitsense/posture-agent/internal/adapter/pubsub"
	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"github.com/sitsense/posture-agent/internal/handler/tray"
	"github.com/sitsense/posture-agent/internal/queue"
)

// Loop is the dedicated consumer thread: it dequeues prioritized events,
// measures enqueue-to-dequeue latency, and dispatches to the notification
// boundary. It owns its goroutine's lifecycle and nothing else — in
// particular it never writes shared state; that belongs to the worker.
type Loop struct {
	q          *queue.Queue
	store      *state.Store
	notifier   tray.Notifier
	dispatcher pubsub.Dispatcher
	metrics    *queue.Metrics
	logger     *slog.Logger

	pollInterval  time.Duration
	drainGrace    time.Duration
	joinTimeout   time.Duration
	statsInterval time.Duration

	window *latencyWindow

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type Option func(*Loop)

// WithPollInterval sets the dequeue poll timeout. Short by design so the
// loop observes a shutdown signal promptly. Default 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(l *Loop) { l.pollInterval = d }
}

// WithDrainGrace bounds how long Stop lets the queue drain. Default 500ms.
func WithDrainGrace(d time.Duration) Option {
	return func(l *Loop) { l.drainGrace = d }
}

// WithJoinTimeout bounds how long Stop waits for the goroutine. Default 5s.
func WithJoinTimeout(d time.Duration) Option {
	return func(l *Loop) { l.joinTimeout = d }
}

// WithStatsInterval sets the periodic diagnostics cadence. Default 5s.
func WithStatsInterval(d time.Duration) Option {
	return func(l *Loop) { l.statsInterval = d }
}

// WithDispatcher attaches the diagnostics bus for exportable payloads.
func WithDispatcher(d pubsub.Dispatcher) Option {
	return func(l *Loop) { l.dispatcher = d }
}

// WithMetrics attaches the shared metrics set for latency observation.
func WithMetrics(m *queue.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLatencyWindow sets the rolling latency sample size. Default 100.
func WithLatencyWindow(n int) Option {
	return func(l *Loop) { l.window = newLatencyWindow(n) }
}

func New(q *queue.Queue, store *state.Store, notifier tray.Notifier, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		q:             q,
		store:         store,
		notifier:      notifier,
		logger:        logger,
		pollInterval:  100 * time.Millisecond,
		drainGrace:    500 * time.Millisecond,
		joinTimeout:   5 * time.Second,
		statsInterval: 5 * time.Second,
		window:        newLatencyWindow(100),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches the consumer goroutine. Idempotent.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		go l.run()
		l.logger.Info("CONSUMER_STARTED",
			"poll_ms", l.pollInterval.Milliseconds(),
			"stats_interval_s", l.statsInterval.Seconds(),
		)
	})
}

// Stop signals shutdown, grants a short drain grace, and joins the
// goroutine within a bounded wait. Never hangs: a missed join is a
// warning, not a wedge.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)

		select {
		case <-l.doneCh:
		case <-time.After(l.joinTimeout):
			l.logger.Warn("CONSUMER_JOIN_TIMEOUT",
				"join_timeout_s", l.joinTimeout.Seconds(),
				"queue_depth", l.q.Len(),
			)
		}
	})
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.statsInterval)
	defer ticker.Stop()

	handled := uint64(0)
	for {
		select {
		case <-l.stopCh:
			l.drainAndExit(handled)
			return
		case <-ticker.C:
			l.logStats(handled)
		default:
		}

		ev, ok := l.q.Dequeue(l.pollInterval)
		if !ok {
			continue
		}
		handled++
		l.dispatch(ev)
	}
}

// drainAndExit gives pending entries one short grace window. Low-value
// leftovers past the grace are abandoned deliberately: shutdown latency
// beats telemetry completeness.
func (l *Loop) drainAndExit(handled uint64) {
	deadline := time.Now().Add(l.drainGrace)
	drained := 0
	for time.Now().Before(deadline) {
		ev, ok := l.q.Dequeue(10 * time.Millisecond)
		if !ok {
			break
		}
		l.dispatch(ev)
		drained++
	}
	l.logger.Info("CONSUMER_STOPPED",
		"handled_total", handled+uint64(drained),
		"drained_on_stop", drained,
		"abandoned", l.q.Len(),
	)
}

// dispatch routes one event to its kind-specific handling. The notifier is
// an external collaborator, so the call is recover-wrapped: a misbehaving
// UI layer must not kill the consumer thread.
func (l *Loop) dispatch(ev event.Event) {
	latency := time.Since(ev.EnqueuedAt)
	l.window.record(latency)
	if l.metrics != nil {
		l.metrics.DispatchLatency.Observe(latency.Seconds())
	}

	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("DISPATCH_PANIC_RECOVERED",
				"err", rec,
				"stack", string(debug.Stack()),
				"kind", ev.Kind.String(),
				"event_id", ev.ID,
			)
		}
	}()

	switch ev.Kind {
	case event.Alert, event.Correction:
		// Notification plus indicator refresh.
		l.notifier.Notify(ev, latency)
		l.notifier.UpdateIndicator(ev, latency)

	case event.StatusChange, event.CameraState:
		// Indicator only. Pausing yourself is not toast-worthy.
		l.notifier.UpdateIndicator(ev, latency)

	case event.Error:
		l.notifier.Notify(ev, latency)
		l.logger.Error("PIPELINE_ERROR_DELIVERED",
			"event_id", ev.ID,
			"payload", ev.Payload,
			"latency_ms", latency.Milliseconds(),
		)

	case event.Telemetry:
		// Diagnostics bus only; falls through to the export below.
	}

	l.export(ev)
}

func (l *Loop) export(ev event.Event) {
	if l.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := l.dispatcher.Publish(ctx, ev); err != nil {
		l.logger.Warn("DIAGNOSTICS_EXPORT_FAILED", "err", err, "kind", ev.Kind.String())
	}
}

func (l *Loop) logStats(handled uint64) {
	lat := l.window.stats()
	counters := l.q.Counters()
	cache := l.store.Counters()

	l.logger.Debug("PIPELINE_STATS",
		"handled", handled,
		"queue_depth", l.q.Len(),
		"produced", counters.Produced,
		"dropped_full", counters.DroppedFull,
		"dropped_timeout", counters.DroppedTimeout,
		"evicted", counters.Evicted,
		"latency_p50_ms", lat.P50.Milliseconds(),
		"latency_p95_ms", lat.P95.Milliseconds(),
		"latency_max_ms", lat.Max.Milliseconds(),
		"cache_hits", cache.Hits,
		"cache_misses", cache.Misses,
		"stale_reads", cache.StaleReads,
	)
}

// Latencies exposes the current rolling latency summary (dashboard use).
func (l *Loop) Latencies() LatencyStats {
	return l.window.stats()
}
