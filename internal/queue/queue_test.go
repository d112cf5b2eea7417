package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sitsense/posture-agent/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func alertEvent(duration int) event.Event {
	return event.New(event.AlertPayload{DurationSeconds: duration, Timestamp: time.Now()})
}

func telemetryEvent(seq uint64) event.Event {
	return event.New(event.TelemetryPayload{PostureScore: 0.5, FrameSeq: seq, Timestamp: time.Now()})
}

func correctionEvent() event.Event {
	return event.New(event.CorrectionPayload{PreviousDurationSeconds: 10, Timestamp: time.Now()})
}

func statusEvent(active bool) event.Event {
	return event.New(event.StatusChangePayload{MonitoringActive: active, ThresholdSeconds: 300})
}

func TestDequeueOrderFollowsPriorityThenSequence(t *testing.T) {
	q := New(16, testLogger())
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(1)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, correctionEvent()))
	require.Equal(t, Enqueued, q.Enqueue(ctx, alertEvent(600)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, statusEvent(true)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(2)))

	var got []event.Priority
	for range 5 {
		ev, ok := q.Dequeue(100 * time.Millisecond)
		require.True(t, ok)
		got = append(got, ev.Priority)
	}

	want := []event.Priority{
		event.PriorityCritical,
		event.PriorityHigh,
		event.PriorityNormal,
		event.PriorityLow,
		event.PriorityLow,
	}
	assert.Equal(t, want, got)
}

func TestFIFOWithinSameTier(t *testing.T) {
	q := New(16, testLogger())
	ctx := context.Background()

	for seq := uint64(1); seq <= 4; seq++ {
		require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(seq)))
	}

	for seq := uint64(1); seq <= 4; seq++ {
		ev, ok := q.Dequeue(100 * time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, seq, ev.Payload.(event.TelemetryPayload).FrameSeq)
	}
}

func TestCriticalEnqueuedAfterLowDequeuesFirst(t *testing.T) {
	q := New(16, testLogger())
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(1)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, alertEvent(600)))

	ev, ok := q.Dequeue(100 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, event.Alert, ev.Kind)
}

func TestLowTierOverflowDropsSilently(t *testing.T) {
	q := New(5, testLogger())
	ctx := context.Background()

	results := make([]EnqueueResult, 0, 10)
	for seq := uint64(1); seq <= 10; seq++ {
		results = append(results, q.Enqueue(ctx, telemetryEvent(seq)))
	}

	for i, res := range results {
		if i < 5 {
			assert.Equal(t, Enqueued, res, "event %d", i)
		} else {
			assert.Equal(t, DroppedFull, res, "event %d", i)
		}
	}

	c := q.Counters()
	assert.Equal(t, uint64(5), c.Produced)
	assert.Equal(t, uint64(5), c.DroppedFull)
	assert.Equal(t, uint64(0), c.DroppedTimeout)
}

func TestCriticalEvictsOldestLowWhenFull(t *testing.T) {
	q := New(2, testLogger(), WithCriticalTimeout(20*time.Millisecond))
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(1)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(2)))

	res := q.Enqueue(ctx, alertEvent(600))
	require.Equal(t, Enqueued, res)
	assert.Equal(t, uint64(1), q.Counters().Evicted)

	ev, ok := q.Dequeue(100 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, event.Alert, ev.Kind)

	// The survivor is the newer telemetry sample.
	ev, ok = q.Dequeue(100 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, uint64(2), ev.Payload.(event.TelemetryPayload).FrameSeq)
}

func TestCriticalDroppedWhenNothingEvictable(t *testing.T) {
	q := New(2, testLogger(), WithCriticalTimeout(20*time.Millisecond))
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, alertEvent(1)))
	require.Equal(t, Enqueued, q.Enqueue(ctx, alertEvent(2)))

	res := q.Enqueue(ctx, alertEvent(3))
	assert.Equal(t, DroppedTimeout, res)
	assert.Equal(t, uint64(1), q.Counters().DroppedTimeout)
}

func TestStandardTierTimesOutWithoutEviction(t *testing.T) {
	q := New(1, testLogger(), WithStandardTimeout(20*time.Millisecond))
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, telemetryEvent(1)))

	start := time.Now()
	res := q.Enqueue(ctx, correctionEvent())
	assert.Equal(t, DroppedTimeout, res)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, uint64(0), q.Counters().Evicted)
}

func TestBlockedEnqueueAdmitsOnceDrained(t *testing.T) {
	q := New(1, testLogger(), WithStandardTimeout(time.Second))
	ctx := context.Background()

	require.Equal(t, Enqueued, q.Enqueue(ctx, correctionEvent()))

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Dequeue(100 * time.Millisecond)
	}()

	res := q.Enqueue(ctx, correctionEvent())
	assert.Equal(t, Enqueued, res)
}

func TestDequeueTimesOutOnEmptyQueue(t *testing.T) {
	q := New(4, testLogger())

	start := time.Now()
	_, ok := q.Dequeue(30 * time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCanceledContextStopsBlocking(t *testing.T) {
	q := New(1, testLogger(), WithStandardTimeout(5*time.Second))
	require.Equal(t, Enqueued, q.Enqueue(context.Background(), correctionEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := q.Enqueue(ctx, correctionEvent())
	assert.Equal(t, DroppedTimeout, res)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCloseWakesWaitersAndRejectsEnqueues(t *testing.T) {
	q := New(4, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := q.Dequeue(5 * time.Second)
		assert.False(t, ok)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue waiter not woken by Close")
	}

	assert.Equal(t, Closed, q.Enqueue(context.Background(), alertEvent(1)))
}

func TestPendingEntriesDrainableAfterClose(t *testing.T) {
	q := New(4, testLogger())
	require.Equal(t, Enqueued, q.Enqueue(context.Background(), alertEvent(1)))
	q.Close()

	ev, ok := q.Dequeue(50 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, event.Alert, ev.Kind)
}

func TestCapacityFor(t *testing.T) {
	assert.Equal(t, 135, CapacityFor(30, 3*time.Second))
	assert.Equal(t, 16, CapacityFor(1, time.Second)) // floor
}
