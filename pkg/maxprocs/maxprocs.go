// Package maxprocs keeps GOMAXPROCS in line with the container CPU quota.
package maxprocs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
)

// Inspired from:
// https://github.com/elastic/apm-server/blob/d1b93c984d4cc1a214afaef95fbf06b854d6f1f1/internal/beatcmd/maxprocs.go#L63

// AutoMaxProcs sets GOMAXPROCS from the CPU quota immediately and then every d
// until ctx is done.
func AutoMaxProcs(ctx context.Context, d time.Duration, logger zerolog.Logger) error {
	log := logger.With().Str("operation", "auto-max-procs").Logger()

	infof := diffInfof(log)
	setMaxProcs := func() {
		if _, err := maxprocs.Set(maxprocs.Logger(infof)); err != nil {
			log.Error().Err(err).Msg("failed to set GOMAXPROCS")
		}
	}

	setMaxProcs()

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			setMaxProcs()
		}
	}
}

// diffInfof only logs a message when it differs from the previous one.
func diffInfof(logger zerolog.Logger) func(string, ...any) {
	var last string

	return func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		if msg != last {
			logger.Info().Msg(msg)
			last = msg
		}
	}
}
