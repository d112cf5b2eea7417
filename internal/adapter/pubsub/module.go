package pubsub

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		NewGoChannelBus,
		NewDispatcher,
		NewDiagnosticsReader,
	),
	fx.Invoke(func(lc fx.Lifecycle, reader *DiagnosticsReader) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				// Detached context: the subscription outlives fx's
				// start timeout and ends on Stop.
				return reader.Start(context.Background())
			},
			OnStop: func(ctx context.Context) error {
				reader.Stop()
				return nil
			},
		})
	}),
)
