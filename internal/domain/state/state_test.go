package state

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingCompute(calls *atomic.Int64, snap StatsSnapshot) ComputeFunc {
	return func(ctx context.Context) (StatsSnapshot, error) {
		calls.Add(1)
		return snap, nil
	}
}

func TestReadReturnsDefaults(t *testing.T) {
	s := New(testLogger())

	snap := s.Read(context.Background())
	assert.True(t, snap.MonitoringActive)
	assert.False(t, snap.AlertActive)
	assert.Zero(t, snap.AlertDurationSeconds)
}

func TestWriteMutatesSnapshot(t *testing.T) {
	s := New(testLogger())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, func(m *Mutable) {
		m.AlertActive = true
		m.AlertDurationSeconds = 480
	}))

	snap := s.Read(ctx)
	assert.True(t, snap.AlertActive)
	assert.Equal(t, 480, snap.AlertDurationSeconds)
}

func TestCachedStatsComputedOnceWithinTTL(t *testing.T) {
	s := New(testLogger(), WithStatsTTL(time.Minute))
	ctx := context.Background()

	var calls atomic.Int64
	want := StatsSnapshot{AlertsToday: 3, PoorPostureSeconds: 1200}
	compute := countingCompute(&calls, want)

	first, err := s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)
	second, err := s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, want, first)

	c := s.Counters()
	assert.Equal(t, uint64(1), c.Hits)
	assert.Equal(t, uint64(1), c.Misses)
}

func TestCachedStatsRecomputedAfterTTL(t *testing.T) {
	s := New(testLogger(), WithStatsTTL(30*time.Millisecond))
	ctx := context.Background()

	var calls atomic.Int64
	compute := countingCompute(&calls, StatsSnapshot{})

	_, err := s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestWriteInvalidatesCacheImmediately(t *testing.T) {
	s := New(testLogger(), WithStatsTTL(time.Minute))
	ctx := context.Background()

	var calls atomic.Int64
	compute := countingCompute(&calls, StatsSnapshot{})

	_, err := s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, func(m *Mutable) { m.MonitoringActive = false }))

	_, err = s.ReadCachedStats(ctx, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load(), "write inside TTL must force recomputation")
}

func TestComputeErrorIsNotCached(t *testing.T) {
	s := New(testLogger(), WithStatsTTL(time.Minute))
	ctx := context.Background()

	var calls atomic.Int64
	failing := func(ctx context.Context) (StatsSnapshot, error) {
		calls.Add(1)
		return StatsSnapshot{}, assert.AnError
	}

	_, err := s.ReadCachedStats(ctx, failing)
	require.Error(t, err)

	_, err = s.ReadCachedStats(ctx, failing)
	require.Error(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestLockTimeoutDegradesToStaleRead(t *testing.T) {
	s := New(testLogger(), WithLockTimeout(30*time.Millisecond))
	ctx := context.Background()

	// Take a known-good snapshot first.
	require.NoError(t, s.Write(ctx, func(m *Mutable) { m.AlertDurationSeconds = 42 }))

	// Hold the lock far longer than the read timeout.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		_ = s.Write(ctx, func(m *Mutable) {
			time.Sleep(300 * time.Millisecond)
			m.AlertDurationSeconds = 99
		})
	}()
	time.Sleep(20 * time.Millisecond) // let the writer acquire

	start := time.Now()
	snap := s.Read(ctx)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 200*time.Millisecond, "read must not wait out the writer")
	assert.Equal(t, 42, snap.AlertDurationSeconds, "stale but consistent snapshot")
	assert.Equal(t, uint64(1), s.Counters().StaleReads)

	<-writerDone
}

func TestComputeRunsOutsideLock(t *testing.T) {
	s := New(testLogger(), WithLockTimeout(time.Second))
	ctx := context.Background()

	computing := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = s.ReadCachedStats(ctx, func(ctx context.Context) (StatsSnapshot, error) {
			close(computing)
			<-release
			return StatsSnapshot{}, nil
		})
	}()

	<-computing
	// A concurrent reader must not be blocked by the in-flight compute.
	start := time.Now()
	s.Read(ctx)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	close(release)
}
