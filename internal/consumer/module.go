package consumer

import (
	"context"
	"log/slog"

	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/adapter/pubsub"
	"github.com/sitsense/posture-agent/internal/domain/state"
	"github.com/sitsense/posture-agent/internal/handler/tray"
	"github.com/sitsense/posture-agent/internal/queue"
	"go.uber.org/fx"
)

var Module = fx.Module("consumer",
	fx.Provide(
		func(q *queue.Queue, store *state.Store, notifier tray.Notifier, d pubsub.Dispatcher, m *queue.Metrics, cfg *config.Config, logger *slog.Logger) *Loop {
			return New(q, store, notifier, logger,
				WithDispatcher(d),
				WithMetrics(m),
				WithPollInterval(cfg.Consumer.PollInterval),
				WithDrainGrace(cfg.Consumer.DrainGrace),
				WithJoinTimeout(cfg.Consumer.JoinTimeout),
				WithStatsInterval(cfg.Consumer.StatsInterval),
				WithLatencyWindow(cfg.Consumer.LatencyWindow),
			)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, l *Loop) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				l.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				l.Stop()
				return nil
			},
		})
	}),
)
