package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/spigell/screener/internal/queue"
	"github.com/spigell/screener/internal/scheduler"
	"github.com/spigell/screener/internal/server"
	"github.com/spigell/screener/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker: periodic sweeps, queue consumers and the ops server",
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// run is the long-running worker.
func run() {
	logger, config := setup()
	ctx := context.Background()

	logger.Info("starting the screener worker", zap.String("version", version))

	shutdownTracer, err := telemetry.InitTracer(ctx, config.Tracing, version, logger.Named("telemetry"))
	if err != nil {
		logger.Fatal("initialising tracing", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	comps, err := buildComponents(ctx, config, logger, buildOptions{queue: config.NATS.Enabled()})
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer comps.Close()

	if comps.js == nil {
		logger.Info("nats is not configured, sweeps run in-process")
	}

	// Sweeps outlive the start context, so they get their own.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	invokes := []any{
		func(s *scheduler.Scheduler, lc fx.Lifecycle) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error { return s.Start(runCtx) },
				OnStop: func(stopCtx context.Context) error {
					cancel()
					return s.Stop(stopCtx)
				},
			})
		},
		func(s *server.Server, lc fx.Lifecycle) {
			s.RegisterHooks(lc)
		},
	}
	if comps.js != nil {
		invokes = append(invokes, func(c *queue.Consumer, lc fx.Lifecycle) error {
			return c.RegisterSubscriptions(lc)
		})
	}

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(
			func() *scheduler.Scheduler {
				return scheduler.New(comps.orchestrator, config.Schedule.Sweep, logger.Named("scheduler"))
			},
			func() *server.Server {
				return server.New(config.Server, comps.healthChecks(), logger.Named("server"))
			},
			func() *queue.Consumer {
				return queue.NewConsumer(comps.js, comps.orchestrator, config.NATS, logger.Named("consumer"))
			},
		),
		fx.Invoke(invokes...),
	)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("starting the worker", zap.Error(err))
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("shutting down", zap.String("signal", sig.String()))

	if err := app.Stop(context.Background()); err != nil {
		logger.Error("stopping the worker", zap.Error(err))
	}
}
