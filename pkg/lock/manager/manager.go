// Package manager is the entry point of the coordination layer.
//
// A Manager resolves the strategy of each descriptor from a registry and runs
// the decide, cancel-preceding and commit sequence under a per-boundary mutex,
// so that no other acquisition or release on the same boundary can interleave.
// Different boundaries never block each other.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalbasit/actionlock/pkg/lock"
	"github.com/kalbasit/actionlock/pkg/lock/registry"
)

const tracerName = "github.com/kalbasit/actionlock/pkg/lock/manager"

// FailureHandler is notified of rejected requests and, when
// lock.Config.SurfaceCancellationErrors is set, of held locks cancelled by a
// newer request. It runs after the boundary mutex is released.
type FailureHandler func(ctx context.Context, err *lock.CancellationError)

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry pins the Manager to r. Without it the registry is taken from the
// context of each call (see registry.Ctx).
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithFailureHandler installs h.
func WithFailureHandler(h FailureHandler) Option {
	return func(m *Manager) { m.onFailure = h }
}

// Manager is safe for concurrent use.
type Manager struct {
	// boundaries holds one mutex per boundary, created on first use and kept
	// for the lifetime of the Manager.
	boundaries *xsync.MapOf[lock.Boundary, *sync.Mutex]

	registry  *registry.Registry
	onFailure FailureHandler

	tracer trace.Tracer
	now    func() time.Time
}

// New returns a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		boundaries: xsync.NewMapOf[lock.Boundary, *sync.Mutex](),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Registry returns the registry used for calls made with ctx.
func (m *Manager) Registry(ctx context.Context) *registry.Registry {
	if m.registry != nil {
		return m.registry
	}

	return registry.Ctx(ctx)
}

func (m *Manager) boundaryLock(boundary lock.Boundary) *sync.Mutex {
	mu, _ := m.boundaries.LoadOrCompute(boundary, func() *sync.Mutex { return &sync.Mutex{} })

	return mu
}

// withBoundary runs fn holding the mutex of boundary. The mutex is released
// even if a strategy panics.
func (m *Manager) withBoundary(boundary lock.Boundary, fn func()) {
	mu := m.boundaryLock(boundary)

	mu.Lock()
	defer mu.Unlock()

	fn()
}

// Acquire decides on d in boundary and commits it when allowed.
//
// Locks listed in a SuccessWithPrecedingCancellation outcome are released
// before d is committed. The returned Handle is nil when the outcome is a
// rejection. An error is only returned when the strategy of d cannot be
// resolved.
func (m *Manager) Acquire(ctx context.Context, boundary lock.Boundary, d lock.Descriptor) (lock.Outcome, *Handle, error) {
	log := zerolog.Ctx(ctx).With().
		Str("strategy", d.StrategyID().String()).
		Str("boundary", boundary.String()).
		Str("action_id", d.ActionID()).
		Str("unique_id", d.UniqueID().String()).
		Logger()

	strategy, err := m.Registry(ctx).Resolve(d.StrategyID())
	if err != nil {
		log.Error().
			Err(err).
			Msg("error resolving the strategy")

		return lock.Outcome{}, nil, err
	}

	ctx, span := m.tracer.Start(
		ctx,
		"manager.Acquire",
		trace.WithAttributes(
			attribute.String("strategy", d.StrategyID().String()),
			attribute.String("boundary", boundary.String()),
			attribute.String("action_id", d.ActionID()),
		),
	)
	defer span.End()

	var outcome lock.Outcome

	m.withBoundary(boundary, func() {
		outcome = strategy.CanLock(boundary, d)

		if outcome.CancelsPreceding() {
			for _, p := range outcome.Preceding {
				p.Strategy.Unlock(p.Boundary, p.Descriptor)
			}
		}

		if outcome.Allowed() {
			strategy.Lock(boundary, d)
		}
	})

	cfg := lock.CurrentConfig()

	lock.RecordDecision(ctx, strategy.ID(), outcome.Kind)
	span.SetAttributes(attribute.String("outcome", outcome.Kind.String()))

	level := zerolog.DebugLevel
	if cfg.Debug {
		level = zerolog.InfoLevel
	}

	ev := log.WithLevel(level).
		Str("outcome", outcome.Kind.String()).
		Int("preceding", len(outcome.Preceding))
	if outcome.Reason != nil {
		ev = ev.AnErr("reason", outcome.Reason)
	}

	ev.Msg("lock decision")

	for _, p := range outcome.Preceding {
		lock.RecordCancellation(ctx, p.Strategy.ID(), "preceding")

		if cfg.SurfaceCancellationErrors {
			m.notify(ctx, lock.NewCancellationError(p.Boundary, p.Descriptor, outcome.Reason))
		}
	}

	if outcome.IsCancel() {
		span.SetStatus(codes.Error, "lock rejected")
		m.notify(ctx, lock.NewCancellationError(boundary, d, outcome.Reason))

		return outcome, nil, nil
	}

	return outcome, &Handle{
		manager:    m,
		strategy:   strategy,
		boundary:   boundary,
		descriptor: d,
		acquiredAt: m.now(),
	}, nil
}

// Unlock releases d from boundary using the configured unlock policy. Prefer
// Handle.Release, which also records the hold duration.
func (m *Manager) Unlock(ctx context.Context, boundary lock.Boundary, d lock.Descriptor) error {
	strategy, err := m.Registry(ctx).Resolve(d.StrategyID())
	if err != nil {
		zerolog.Ctx(ctx).
			Error().
			Err(err).
			Str("strategy", d.StrategyID().String()).
			Msg("error resolving the strategy")

		return err
	}

	m.release(ctx, strategy, boundary, d, lock.CurrentConfig().UnlockPolicy, time.Time{})

	return nil
}

// release commits an unlock according to policy. Deferred policies never
// block the caller.
func (m *Manager) release(
	ctx context.Context,
	strategy lock.Strategy,
	boundary lock.Boundary,
	d lock.Descriptor,
	policy lock.UnlockPolicy,
	acquiredAt time.Time,
) {
	commit := func(ctx context.Context) {
		var held bool

		m.withBoundary(boundary, func() {
			held = holds(strategy, boundary, d)
			strategy.Unlock(boundary, d)
		})

		if !held {
			zerolog.Ctx(ctx).
				Debug().
				Str("strategy", strategy.ID().String()).
				Str("boundary", boundary.String()).
				Str("action_id", d.ActionID()).
				Msg("lock no longer held")

			return
		}

		lock.RecordRelease(ctx, strategy.ID(), policy)

		if !acquiredAt.IsZero() {
			lock.RecordHoldDuration(ctx, strategy.ID(), m.now().Sub(acquiredAt).Seconds())
		}

		zerolog.Ctx(ctx).
			Debug().
			Str("strategy", strategy.ID().String()).
			Str("boundary", boundary.String()).
			Str("action_id", d.ActionID()).
			Str("policy", policy.String()).
			Msg("lock released")
	}

	switch policy.Mode {
	case lock.UnlockModeNextTick:
		go commit(context.WithoutCancel(ctx))
	case lock.UnlockModeDelayed:
		detached := context.WithoutCancel(ctx)

		time.AfterFunc(policy.Delay, func() { commit(detached) })
	case lock.UnlockModeImmediate:
		commit(ctx)
	default:
		commit(ctx)
	}
}

// holds reports whether strategy holds the lock of d in boundary.
func holds(strategy lock.Strategy, boundary lock.Boundary, d lock.Descriptor) bool {
	for _, h := range strategy.CurrentLocks()[boundary] {
		if h.UniqueID() == d.UniqueID() {
			return true
		}
	}

	return false
}

func (m *Manager) notify(ctx context.Context, err *lock.CancellationError) {
	if m.onFailure == nil {
		return
	}

	m.onFailure(ctx, err)
}

// CleanUp clears every lock held by every registered strategy.
func (m *Manager) CleanUp(ctx context.Context) {
	m.Registry(ctx).CleanUp()

	zerolog.Ctx(ctx).
		Debug().
		Msg("cleaned up all locks")
}

// CleanUpBoundary clears every lock held in boundary.
func (m *Manager) CleanUpBoundary(ctx context.Context, boundary lock.Boundary) {
	r := m.Registry(ctx)

	m.withBoundary(boundary, func() { r.CleanUpBoundary(boundary) })

	zerolog.Ctx(ctx).
		Debug().
		Str("boundary", boundary.String()).
		Msg("cleaned up boundary")
}
