package lock

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	otelPackageName = "github.com/kalbasit/actionlock/pkg/lock"
)

var (
	//nolint:gochecknoglobals
	meter metric.Meter

	// lockDecisionsTotal tracks every coordination decision.
	//nolint:gochecknoglobals
	lockDecisionsTotal metric.Int64Counter

	// lockCancellationsTotal tracks locks cancelled to make room for new requests.
	//nolint:gochecknoglobals
	lockCancellationsTotal metric.Int64Counter

	// lockHoldDuration tracks how long locks are held.
	//nolint:gochecknoglobals
	lockHoldDuration metric.Float64Histogram

	// lockReleasesTotal tracks releases by unlock policy.
	//nolint:gochecknoglobals
	lockReleasesTotal metric.Int64Counter
)

//nolint:gochecknoinits
func init() {
	meter = otel.Meter(otelPackageName)

	var err error

	lockDecisionsTotal, err = meter.Int64Counter(
		"actionlock_lock_decisions_total",
		metric.WithDescription("Total number of lock coordination decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		panic(err)
	}

	lockCancellationsTotal, err = meter.Int64Counter(
		"actionlock_lock_cancellations_total",
		metric.WithDescription("Total number of held locks cancelled by a newer request"),
		metric.WithUnit("{cancellation}"),
	)
	if err != nil {
		panic(err)
	}

	lockHoldDuration, err = meter.Float64Histogram(
		"actionlock_lock_hold_duration_seconds",
		metric.WithDescription("Duration that locks are held"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(err)
	}

	lockReleasesTotal, err = meter.Int64Counter(
		"actionlock_lock_releases_total",
		metric.WithDescription("Total number of lock releases"),
		metric.WithUnit("{release}"),
	)
	if err != nil {
		panic(err)
	}
}

// RecordDecision records the outcome of a coordination decision.
func RecordDecision(ctx context.Context, strategy StrategyID, kind OutcomeKind) {
	if lockDecisionsTotal == nil {
		return
	}

	lockDecisionsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy.String()),
			attribute.String("outcome", kind.String()),
		),
	)
}

// RecordCancellation records a held lock cancelled for reason.
func RecordCancellation(ctx context.Context, strategy StrategyID, reason string) {
	if lockCancellationsTotal == nil {
		return
	}

	lockCancellationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy.String()),
			attribute.String("reason", reason),
		),
	)
}

// RecordHoldDuration records how long a lock was held, in seconds.
func RecordHoldDuration(ctx context.Context, strategy StrategyID, duration float64) {
	if lockHoldDuration == nil {
		return
	}

	lockHoldDuration.Record(ctx, duration,
		metric.WithAttributes(
			attribute.String("strategy", strategy.String()),
		),
	)
}

// RecordRelease records a release committed with policy.
func RecordRelease(ctx context.Context, strategy StrategyID, policy UnlockPolicy) {
	if lockReleasesTotal == nil {
		return
	}

	mode := "immediate"

	switch policy.Mode {
	case UnlockModeImmediate:
	case UnlockModeNextTick:
		mode = "next-tick"
	case UnlockModeDelayed:
		mode = "delayed"
	}

	lockReleasesTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategy.String()),
			attribute.String("policy", mode),
		),
	)
}
