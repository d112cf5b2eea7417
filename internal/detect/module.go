package detect

import (
	"context"

	"go.uber.org/fx"
)

// SimModule wires the synthetic source in place of a real pipeline. Opt-in
// from the CLI; never part of the default graph.
var SimModule = fx.Module("detect-sim",
	fx.Provide(NewSimulator),
	fx.Invoke(func(lc fx.Lifecycle, s *Simulator) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)
