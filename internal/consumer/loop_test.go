package consumer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"github.com/sitsense/posture-agent/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingNotifier captures dispatched events across goroutines.
type recordingNotifier struct {
	mu         sync.Mutex
	notified   []event.Event
	indicated  []event.Event
	latencies  []time.Duration
	panicUntil int // panic on the first N Notify calls
}

func (n *recordingNotifier) Notify(ev event.Event, latency time.Duration) {
	n.mu.Lock()
	if n.panicUntil > 0 {
		n.panicUntil--
		n.mu.Unlock()
		panic("notifier backend unavailable")
	}
	n.notified = append(n.notified, ev)
	n.latencies = append(n.latencies, latency)
	n.mu.Unlock()
}

func (n *recordingNotifier) UpdateIndicator(ev event.Event, latency time.Duration) {
	n.mu.Lock()
	n.indicated = append(n.indicated, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() (notified, indicated []event.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]event.Event(nil), n.notified...), append([]event.Event(nil), n.indicated...)
}

// recordingDispatcher captures exported events.
type recordingDispatcher struct {
	mu        sync.Mutex
	published []event.Event
}

func (d *recordingDispatcher) Publish(ctx context.Context, ev event.Event) error {
	d.mu.Lock()
	d.published = append(d.published, ev)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) Subscriber() message.Subscriber { return nil }

func (d *recordingDispatcher) snapshot() []event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]event.Event(nil), d.published...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func newTestLoop(t *testing.T, notifier *recordingNotifier, disp *recordingDispatcher, opts ...Option) (*Loop, *queue.Queue) {
	t.Helper()
	q := queue.New(32, testLogger())
	store := state.New(testLogger())
	base := []Option{WithPollInterval(10 * time.Millisecond)}
	if disp != nil {
		base = append(base, WithDispatcher(disp))
	}
	l := New(q, store, notifier, testLogger(), append(base, opts...)...)
	return l, q
}

func TestAlertDeliveredToNotifierAndIndicator(t *testing.T) {
	notifier := &recordingNotifier{}
	l, q := newTestLoop(t, notifier, nil)

	l.Start()
	defer l.Stop()

	sent := event.New(event.AlertPayload{DurationSeconds: 600, Timestamp: time.Now()})
	require.Equal(t, queue.Enqueued, q.Enqueue(context.Background(), sent))

	waitFor(t, func() bool {
		notified, indicated := notifier.snapshot()
		return len(notified) == 1 && len(indicated) == 1
	})

	notified, indicated := notifier.snapshot()
	assert.Equal(t, sent.ID, notified[0].ID)
	assert.Equal(t, sent.Payload, notified[0].Payload)
	assert.Equal(t, sent.ID, indicated[0].ID)
	assert.GreaterOrEqual(t, notifier.latencies[0], time.Duration(0))
}

func TestStatusChangeUpdatesIndicatorOnly(t *testing.T) {
	notifier := &recordingNotifier{}
	l, q := newTestLoop(t, notifier, nil)

	l.Start()
	defer l.Stop()

	sent := event.New(event.StatusChangePayload{MonitoringActive: false, ThresholdSeconds: 300})
	require.Equal(t, queue.Enqueued, q.Enqueue(context.Background(), sent))

	waitFor(t, func() bool {
		_, indicated := notifier.snapshot()
		return len(indicated) == 1
	})

	notified, _ := notifier.snapshot()
	assert.Empty(t, notified, "status changes never raise a notification")
}

func TestTelemetryExportedToDiagnosticsOnly(t *testing.T) {
	notifier := &recordingNotifier{}
	disp := &recordingDispatcher{}
	l, q := newTestLoop(t, notifier, disp)

	l.Start()
	defer l.Stop()

	sent := event.New(event.TelemetryPayload{PostureScore: 0.8, FrameSeq: 7, Timestamp: time.Now()})
	require.Equal(t, queue.Enqueued, q.Enqueue(context.Background(), sent))

	waitFor(t, func() bool { return len(disp.snapshot()) == 1 })

	assert.Equal(t, sent.ID, disp.snapshot()[0].ID)
	notified, indicated := notifier.snapshot()
	assert.Empty(t, notified)
	assert.Empty(t, indicated)
}

func TestNotifierPanicDoesNotKillConsumer(t *testing.T) {
	notifier := &recordingNotifier{panicUntil: 1}
	l, q := newTestLoop(t, notifier, nil)

	l.Start()
	defer l.Stop()

	ctx := context.Background()
	require.Equal(t, queue.Enqueued, q.Enqueue(ctx, event.New(event.AlertPayload{DurationSeconds: 1, Timestamp: time.Now()})))
	require.Equal(t, queue.Enqueued, q.Enqueue(ctx, event.New(event.AlertPayload{DurationSeconds: 2, Timestamp: time.Now()})))

	waitFor(t, func() bool {
		notified, _ := notifier.snapshot()
		return len(notified) == 1
	})

	notified, _ := notifier.snapshot()
	assert.Equal(t, 2, notified[0].Payload.(event.AlertPayload).DurationSeconds,
		"second event survives the first one's panic")
}

func TestStopIsBoundedWithBacklog(t *testing.T) {
	notifier := &recordingNotifier{}
	l, q := newTestLoop(t, notifier, nil,
		WithDrainGrace(100*time.Millisecond),
		WithJoinTimeout(time.Second),
	)

	l.Start()

	// Pile on low-priority backlog; shutdown must not wait for all of it.
	ctx := context.Background()
	for seq := uint64(1); seq <= 20; seq++ {
		q.Enqueue(ctx, event.New(event.TelemetryPayload{PostureScore: 0.5, FrameSeq: seq, Timestamp: time.Now()}))
	}

	start := time.Now()
	l.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStopIsIdempotent(t *testing.T) {
	notifier := &recordingNotifier{}
	l, _ := newTestLoop(t, notifier, nil)

	l.Start()
	l.Stop()
	require.NotPanics(t, l.Stop)
}

func TestLatencyWindowSummaries(t *testing.T) {
	w := newLatencyWindow(3)
	w.record(10 * time.Millisecond)
	w.record(20 * time.Millisecond)
	w.record(30 * time.Millisecond)
	w.record(40 * time.Millisecond) // evicts the 10ms sample

	s := w.stats()
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 40*time.Millisecond, s.Max)
	assert.Equal(t, 30*time.Millisecond, s.P50)
}
