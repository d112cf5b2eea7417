package queue

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitsense/posture-agent/config"
	"go.uber.org/fx"
)

var Module = fx.Module("queue",
	fx.Provide(
		func(reg *prometheus.Registry) *Metrics {
			return NewMetrics(reg)
		},
		func(cfg *config.Config, logger *slog.Logger, m *Metrics) *Queue {
			capacity := CapacityFor(cfg.Queue.EventsPerSecond, cfg.Queue.StallTolerance)
			return New(capacity, logger,
				WithMetrics(m),
				WithCriticalTimeout(cfg.Queue.CriticalTimeout),
				WithStandardTimeout(cfg.Queue.StandardTimeout),
				WithDropRatePolicy(cfg.Queue.DropRateThreshold, cfg.Queue.DropRateWindow),
			)
		},
	),
)
