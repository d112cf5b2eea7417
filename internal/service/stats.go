package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// DaySource is the opaque persistence callable: summarize one calendar day.
// Expected to hit storage; everything around it assumes it can be slow or
// down.
type DaySource func(ctx context.Context, day time.Time) (state.DayStats, error)

// Interface guard
var _ StatsComputer = (*StatsProvider)(nil)

// StatsProvider produces the daily aggregate behind the control surface's
// get-cached-stats path. Three layers of resilience, outermost first:
//   - a circuit breaker around the whole aggregation, so a dead storage
//     backend stops being queried and the control surface stays snappy;
//   - a last-good snapshot served while the breaker is open;
//   - an expirable LRU of closed days, which never change and therefore
//     never need a second storage round-trip within the TTL.
type StatsProvider struct {
	source      DaySource
	historyDays int
	logger      *slog.Logger

	breaker  *gobreaker.CircuitBreaker
	days     *expirable.LRU[string, state.DayStats]
	lastGood atomic.Pointer[state.StatsSnapshot]
}

func NewStatsProvider(source DaySource, historyDays int, breakerOpenTimeout time.Duration, logger *slog.Logger) *StatsProvider {
	if historyDays < 0 {
		historyDays = 0
	}
	return &StatsProvider{
		source:      source,
		historyDays: historyDays,
		logger:      logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "stats-storage",
			Timeout: breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("STATS_BREAKER_STATE_CHANGED",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		}),
		days: expirable.NewLRU[string, state.DayStats](31, nil, 24*time.Hour),
	}
}

// Compute satisfies StatsComputer. When the breaker rejects or the
// aggregation fails, the last successful snapshot is served with a warning
// rather than an error — the tray menu showing slightly stale numbers
// beats it showing nothing.
func (p *StatsProvider) Compute(ctx context.Context) (state.StatsSnapshot, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.aggregate(ctx)
	})
	if err != nil {
		if last := p.lastGood.Load(); last != nil {
			p.logger.Warn("STATS_SERVED_STALE", "err", err, "generated_at", last.GeneratedAt)
			return *last, nil
		}
		return state.StatsSnapshot{}, fmt.Errorf("stats: aggregation failed with no fallback: %w", err)
	}

	snap := out.(state.StatsSnapshot)
	p.lastGood.Store(&snap)
	return snap, nil
}

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// aggregate fetches today plus the configured history window. Today is
// always fetched fresh (it is still accumulating); closed days come from
// the LRU when possible. History fetches run concurrently; the whole batch
// fails together so a half-assembled snapshot never escapes.
func (p *StatsProvider) aggregate(ctx context.Context) (state.StatsSnapshot, error) {
	now := time.Now()

	today, err := p.source(ctx, now)
	if err != nil {
		return state.StatsSnapshot{}, fmt.Errorf("stats: today: %w", err)
	}

	var mu sync.Mutex
	history := make([]state.DayStats, 0, p.historyDays)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 1; i <= p.historyDays; i++ {
		day := now.AddDate(0, 0, -i)
		key := dayKey(day)

		if cached, ok := p.days.Get(key); ok {
			mu.Lock()
			history = append(history, cached)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			ds, err := p.source(gCtx, day)
			if err != nil {
				return fmt.Errorf("stats: day %s: %w", key, err)
			}
			ds.Date = key
			p.days.Add(key, ds)
			mu.Lock()
			history = append(history, ds)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state.StatsSnapshot{}, err
	}

	sort.Slice(history, func(i, j int) bool { return history[i].Date > history[j].Date })

	return state.StatsSnapshot{
		GeneratedAt:        now,
		AlertsToday:        today.Alerts,
		CorrectionsToday:   today.Corrections,
		PoorPostureSeconds: today.PoorPostureSeconds,
		History:            history,
	}, nil
}
