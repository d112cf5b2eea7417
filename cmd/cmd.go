package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sitsense/posture-agent/config"
	"github.com/sitsense/posture-agent/internal/detect"
	"github.com/sitsense/posture-agent/internal/handler/dash"
	"github.com/sitsense/posture-agent/internal/handler/tray"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

const ServiceName = "posture-agent"

var (
	version = "0.0.0"
	commit  = "hash"
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Desktop wellness monitor: posture event pipeline and control surface",
		Version: version,
		Commands: []*cli.Command{
			runCmd(),
			dashboardCmd(),
		},
	}

	return app.Run(os.Args)
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run the monitoring agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "simulate",
				Usage: "Drive the pipeline with a synthetic posture source",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}

			opts := []fx.Option{}
			if c.Bool("simulate") {
				opts = append(opts, detect.SimModule)
			}

			app := NewApp(cfg, opts...)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...")
			return app.Stop(context.Background())
		},
	}
}

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:    "dashboard",
		Aliases: []string{"d"},
		Usage:   "Run the agent with a terminal diagnostics dashboard (simulated source)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config_file"))
			if err != nil {
				return err
			}

			var board *dash.Dashboard
			app := NewApp(cfg,
				detect.SimModule,
				fx.Provide(dash.New),
				// The dashboard replaces the default notification sink so
				// dispatched events land on screen instead of in the log.
				fx.Decorate(func(_ tray.Notifier, d *dash.Dashboard) tray.Notifier { return d }),
				fx.Populate(&board),
			)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			// Blocks on the terminal event loop until 'q' or Ctrl-C.
			runErr := board.Run(c.Context)

			if err := app.Stop(context.Background()); err != nil {
				return err
			}
			return runErr
		},
	}
}
