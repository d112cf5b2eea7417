package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"go.uber.org/fx"
)

// NewZeroDaySource is the default persistence boundary: no storage layer
// is wired yet, so every day reads as empty. A real backend replaces this
// provider with fx.Decorate (or its own module).
func NewZeroDaySource() DaySource {
	return func(ctx context.Context, day time.Time) (state.DayStats, error) {
		return state.DayStats{Date: day.Format("2006-01-02")}, nil
	}
}

var Module = fx.Module("service",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *state.Store {
			return state.New(logger,
				state.WithLockTimeout(cfg.State.LockTimeout),
				state.WithStatsTTL(cfg.State.StatsTTL),
			)
		},

		NewZeroDaySource,

		func(src DaySource, cfg *config.Config, logger *slog.Logger) *StatsProvider {
			return NewStatsProvider(src, cfg.Stats.HistoryDays, cfg.Stats.BreakerOpenTimeout, logger)
		},
		func(p *StatsProvider) StatsComputer { return p },

		NewMonitor,
		func(m *Monitor) Monitorer { return m },
	),

	fx.Invoke(func(lc fx.Lifecycle, m *Monitor) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				m.BindQueue()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				m.Shutdown()
				return nil
			},
		})
	}),
)
