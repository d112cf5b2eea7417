package tray

import (
	"go.uber.org/fx"
)

var Module = fx.Module("tray",
	fx.Provide(
		fx.Annotate(
			NewSlogNotifier,
			fx.As(new(Notifier)),
		),
	),
)
