package state

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

var ErrLockTimeout = errors.New("state: lock acquisition timed out")

// Snapshot is the immutable view handed to readers. Copies only, no
// references into the store's mutable fields.
type Snapshot struct {
	MonitoringActive     bool
	AlertActive          bool
	AlertDurationSeconds int
	TakenAt              time.Time
}

// Mutable is the writer-side view passed to Write mutators.
type Mutable struct {
	MonitoringActive     bool
	AlertActive          bool
	AlertDurationSeconds int
}

// ComputeFunc is the storage-facing aggregation supplied by the caller.
// Executed OUTSIDE the state lock so an expensive query never blocks
// concurrent snapshot readers.
type ComputeFunc func(ctx context.Context) (StatsSnapshot, error)

// CacheCounters exposes hit/miss/stale totals for periodic diagnostics.
type CacheCounters struct {
	Hits       uint64
	Misses     uint64
	StaleReads uint64
}

// Store is the single thread-safe holder of the worker's mutable state plus
// a TTL-bounded cache of the expensive daily aggregate.
//
// Lock discipline: a 1-slot channel semaphore acquired through a timed
// select, so no caller ever blocks indefinitely. Writes are owned by the
// worker thread (control-surface calls execute on the caller's thread but
// inside the same lock); the consumer loop never writes.
type Store struct {
	logger      *slog.Logger
	lockCh      chan struct{}
	lockTimeout time.Duration

	// guarded by lockCh
	cur      Mutable
	cached   *StatsSnapshot
	cachedAt time.Time

	statsTTL time.Duration

	// lastGood backs the stale-read degradation path on lock timeout.
	lastGood atomic.Pointer[Snapshot]

	hits       atomic.Uint64
	misses     atomic.Uint64
	staleReads atomic.Uint64
}

type Option func(*Store)

// WithLockTimeout bounds every lock acquisition. Default 5s.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithStatsTTL bounds how long the cached aggregate stays valid. Default 60s.
func WithStatsTTL(d time.Duration) Option {
	return func(s *Store) { s.statsTTL = d }
}

func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		logger:      logger,
		lockCh:      make(chan struct{}, 1),
		lockTimeout: 5 * time.Second,
		statsTTL:    60 * time.Second,
		cur:         Mutable{MonitoringActive: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	initial := s.snapshotLocked()
	s.lastGood.Store(&initial)
	return s
}

// acquire takes the semaphore or gives up after lockTimeout / ctx cancel.
func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.lockCh <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.lockCh }

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		MonitoringActive:     s.cur.MonitoringActive,
		AlertActive:          s.cur.AlertActive,
		AlertDurationSeconds: s.cur.AlertDurationSeconds,
		TakenAt:              time.Now(),
	}
}

// Read returns an immutable snapshot. On lock timeout it degrades to the
// last successfully taken snapshot and logs a warning; it never blocks
// indefinitely and never surfaces the timeout to the caller.
func (s *Store) Read(ctx context.Context) Snapshot {
	if err := s.acquire(ctx); err != nil {
		s.staleReads.Add(1)
		s.logger.Warn("STATE_READ_DEGRADED",
			"err", err,
			"stale_reads", s.staleReads.Load(),
		)
		return *s.lastGood.Load()
	}
	defer s.release()

	snap := s.snapshotLocked()
	s.lastGood.Store(&snap)
	return snap
}

// Write applies the mutator under the lock and invalidates the stats cache
// immediately, regardless of TTL. A lock timeout is returned so the control
// surface can report a structured failure instead of mutating blindly.
func (s *Store) Write(ctx context.Context, mutate func(*Mutable)) error {
	if err := s.acquire(ctx); err != nil {
		s.logger.Warn("STATE_WRITE_REJECTED", "err", err)
		return err
	}
	defer s.release()

	mutate(&s.cur)
	s.cached = nil
	s.cachedAt = time.Time{}

	snap := s.snapshotLocked()
	s.lastGood.Store(&snap)
	return nil
}

// ReadCachedStats serves the TTL'd aggregate, recomputing through the
// caller-supplied fn on miss. The computation runs outside the lock; two
// racing misses may both compute, the later store wins. That trade keeps
// snapshot readers unblocked while storage is slow.
func (s *Store) ReadCachedStats(ctx context.Context, compute ComputeFunc) (StatsSnapshot, error) {
	if err := s.acquire(ctx); err != nil {
		return StatsSnapshot{}, err
	}
	if s.cached != nil && time.Since(s.cachedAt) < s.statsTTL {
		snap := *s.cached
		s.release()
		s.hits.Add(1)
		return snap, nil
	}
	s.release()

	s.misses.Add(1)
	fresh, err := compute(ctx)
	if err != nil {
		return StatsSnapshot{}, err
	}

	if err := s.acquire(ctx); err != nil {
		// Computed but could not store. Serve the result anyway.
		s.logger.Warn("STATS_CACHE_STORE_SKIPPED", "err", err)
		return fresh, nil
	}
	s.cached = &fresh
	s.cachedAt = time.Now()
	s.release()

	return fresh, nil
}

// Counters returns the running cache diagnostics for periodic logging.
func (s *Store) Counters() CacheCounters {
	return CacheCounters{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		StaleReads: s.staleReads.Load(),
	}
}
