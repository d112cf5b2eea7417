package cmd

import (
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/adapter/pubsub"
	"github.com/sitsense/posture-agent/internal/consumer"
	"github.com/sitsense/posture-agent/internal/domain/registry"
	"github.com/sitsense/posture-agent/internal/handler/tray"
	"github.com/sitsense/posture-agent/internal/queue"
	"github.com/sitsense/posture-agent/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config, extra ...fx.Option) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideMetricsRegistry,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Invoke(func(cfg *config.Config, logger *slog.Logger) {
			cfg.Watch(logger)
		}),

		registry.Module,
		queue.Module,
		pubsub.Module,
		tray.Module,
		service.Module,
		consumer.Module,
	}
	opts = append(opts, extra...)

	return fx.New(opts...)
}

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})).With("service", ServiceName)
}

func ProvideMetricsRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
