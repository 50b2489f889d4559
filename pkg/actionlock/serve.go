package actionlock

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kalbasit/actionlock/pkg/lock"
	"github.com/kalbasit/actionlock/pkg/lock/manager"
	"github.com/kalbasit/actionlock/pkg/maxprocs"
	"github.com/kalbasit/actionlock/pkg/otel"
	"github.com/kalbasit/actionlock/pkg/prometheus"
	"github.com/kalbasit/actionlock/pkg/server"
)

func serveCommand(flagSources flagSourcesFn, registerShutdown registerShutdownFn) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "server-addr",
			Usage:   "The address of the server",
			Sources: flagSources("server.addr", "SERVER_ADDR"),
			Value:   ":8502",
		},
		&cli.StringFlag{
			Name: "snapshot-schedule",
			//nolint:lll
			Usage:   "The cron spec for logging a snapshot of the held locks. Refer to https://pkg.go.dev/github.com/robfig/cron/v3#hdr-Usage for documentation",
			Sources: flagSources("snapshot.schedule", "SNAPSHOT_SCHEDULE"),
			Validator: func(s string) error {
				_, err := cron.ParseStandard(s)

				return err
			},
		},
		&cli.StringFlag{
			Name:    "snapshot-schedule-timezone",
			Usage:   "The name of the timezone to use for the cron",
			Sources: flagSources("snapshot.timezone", "SNAPSHOT_SCHEDULE_TZ"),
			Value:   "Local",
		},
	}

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "serve the lock manager over http",
		Action:  serveAction(registerShutdown),
		Flags:   append(flags, lockConfigFlags(flagSources)...),
	}
}

func serveAction(registerShutdown registerShutdownFn) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		logger := zerolog.Ctx(ctx).With().Str("cmd", "serve").Logger()
		ctx = logger.WithContext(ctx)

		ctx, cancel := context.WithCancel(ctx)

		g, ctx := errgroup.WithContext(ctx)
		defer func() {
			if err := g.Wait(); err != nil {
				logger.Error().Err(err).Msg("error returned from g.Wait()")
			}
		}()

		// NOTE: defer statements run last to first so the context is canceled
		// first, which makes the errgroup 'g' start exiting.
		defer cancel()

		g.Go(func() error {
			return maxprocs.AutoMaxProcs(ctx, 30*time.Second, logger)
		})

		otelResource, err := otel.NewResource(ctx, cmd.Root().Name, Version)
		if err != nil {
			logger.
				Error().
				Err(err).
				Msg("error creating a new otel resource")

			return err
		}

		otelShutdown, err := otel.SetupOTelSDK(
			ctx,
			cmd.Root().Bool("otel-enabled"),
			cmd.Root().String("otel-grpc-url"),
			otelResource,
		)
		if err != nil {
			return err
		}

		registerShutdown("open telemetry", otelShutdown)

		cfg, err := lockConfig(cmd)
		if err != nil {
			return err
		}

		lock.SetConfig(cfg)

		logger.
			Info().
			Str("unlock_policy", cfg.UnlockPolicy.String()).
			Bool("surface_cancellation_errors", cfg.SurfaceCancellationErrors).
			Bool("debug", cfg.Debug).
			Msg("lock configuration applied")

		m := manager.New(manager.WithFailureHandler(logFailure))

		if schedule := cmd.String("snapshot-schedule"); schedule != "" {
			c, err := newSnapshotCron(ctx, cmd, m)
			if err != nil {
				return err
			}

			c.Start()

			registerShutdown("snapshot cron", func(context.Context) error {
				<-c.Stop().Done()

				return nil
			})
		}

		srv := server.New(m)

		if cmd.Root().Bool("prometheus-enabled") {
			gatherer, shutdown, err := prometheus.SetupPrometheusMetrics(otelResource)
			if err != nil {
				return fmt.Errorf("error setting up Prometheus metrics: %w", err)
			}

			registerShutdown("prometheus", shutdown)

			srv.SetPrometheusGatherer(gatherer)

			logger.
				Info().
				Msg("Prometheus metrics enabled at /metrics")
		}

		server := &http.Server{
			BaseContext:       func(net.Listener) context.Context { return ctx },
			Addr:              cmd.String("server-addr"),
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		logger.Info().
			Str("server_addr", cmd.String("server-addr")).
			Msg("Server started")

		if err := server.ListenAndServe(); err != nil {
			return fmt.Errorf("error starting the HTTP listener: %w", err)
		}

		return nil
	}
}

func logFailure(ctx context.Context, err *lock.CancellationError) {
	zerolog.Ctx(ctx).
		Warn().
		Err(err).
		Str("boundary", err.Boundary.String()).
		Str("action_id", err.ActionID).
		Str("unique_id", err.UniqueID.String()).
		Msg("lock cancelled")
}

func newSnapshotCron(ctx context.Context, cmd *cli.Command, m *manager.Manager) (*cron.Cron, error) {
	var opts []cron.Option

	if tz := cmd.String("snapshot-schedule-timezone"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("error parsing the timezone %q: %w", tz, err)
		}

		opts = append(opts, cron.WithLocation(loc))
	}

	schedule, err := cron.ParseStandard(cmd.String("snapshot-schedule"))
	if err != nil {
		return nil, fmt.Errorf("error parsing the cron spec %q: %w", cmd.String("snapshot-schedule"), err)
	}

	zerolog.Ctx(ctx).
		Info().
		Time("next-run", schedule.Next(time.Now())).
		Msg("adding a cronjob for lock snapshots")

	c := cron.New(opts...)
	c.Schedule(schedule, cron.FuncJob(func() { logSnapshot(ctx, m) }))

	return c, nil
}

func logSnapshot(ctx context.Context, m *manager.Manager) {
	var sb strings.Builder

	if err := m.PrintCurrentLocks(ctx, &sb); err != nil {
		zerolog.Ctx(ctx).
			Error().
			Err(err).
			Msg("error rendering the lock snapshot")

		return
	}

	held := 0

	for _, byBoundary := range m.CurrentLocks(ctx) {
		for _, ds := range byBoundary {
			held += len(ds)
		}
	}

	zerolog.Ctx(ctx).
		Info().
		Int("held", held).
		Str("locks", sb.String()).
		Msg("lock snapshot")
}
