package actionlock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/kalbasit/actionlock/pkg/lock"
)

func lockConfigFlags(flagSources flagSourcesFn) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "unlock-policy",
			Usage:   "When releases take effect: immediate, next-tick or delayed",
			Sources: flagSources("lock.unlock-policy", "LOCK_UNLOCK_POLICY"),
			Value:   "immediate",
			Validator: func(s string) error {
				_, err := lock.ParseUnlockPolicy(s, 0)

				return err
			},
		},
		&cli.DurationFlag{
			Name:    "unlock-delay",
			Usage:   "Delay of the delayed unlock policy",
			Sources: flagSources("lock.unlock-delay", "LOCK_UNLOCK_DELAY"),
		},
		&cli.BoolFlag{
			Name:    "surface-cancellation-errors",
			Usage:   "Report locks cancelled by a newer request to the failure handler",
			Sources: flagSources("lock.surface-cancellation-errors", "LOCK_SURFACE_CANCELLATION_ERRORS"),
			Value:   lock.DefaultConfig().SurfaceCancellationErrors,
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Log every lock decision at info level",
			Sources: flagSources("lock.debug", "LOCK_DEBUG"),
		},
	}
}

func lockConfig(cmd *cli.Command) (lock.Config, error) {
	policy, err := lock.ParseUnlockPolicy(cmd.String("unlock-policy"), cmd.Duration("unlock-delay"))
	if err != nil {
		return lock.Config{}, fmt.Errorf("error parsing the unlock policy: %w", err)
	}

	return lock.Config{
		UnlockPolicy:              policy,
		SurfaceCancellationErrors: cmd.Bool("surface-cancellation-errors"),
		Debug:                     cmd.Bool("debug"),
	}, nil
}

type configView struct {
	UnlockPolicy              string `json:"unlockPolicy"`
	SurfaceCancellationErrors bool   `json:"surfaceCancellationErrors"`
	Debug                     bool   `json:"debug"`
}

func configCommand(flagSources flagSourcesFn) *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "print the effective coordination settings as JSON",
		Flags:  lockConfigFlags(flagSources),
		Action: configAction(),
	}
}

func configAction() cli.ActionFunc {
	return func(_ context.Context, cmd *cli.Command) error {
		cfg, err := lockConfig(cmd)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.Root().Writer)
		enc.SetIndent("", "  ")

		return enc.Encode(configView{
			UnlockPolicy:              cfg.UnlockPolicy.String(),
			SurfaceCancellationErrors: cfg.SurfaceCancellationErrors,
			Debug:                     cfg.Debug,
		})
	}
}
