package registry

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kalbasit/actionlock/pkg/lock/concurrency"
	"github.com/kalbasit/actionlock/pkg/lock/group"
	"github.com/kalbasit/actionlock/pkg/lock/priority"
	"github.com/kalbasit/actionlock/pkg/lock/singleexec"
)

type ctxKey struct{}

var (
	//nolint:gochecknoglobals
	defaultOnce sync.Once

	//nolint:gochecknoglobals
	defaultRegistry *Registry
)

// Default returns the process-wide Registry. It is created on first use with
// the single-execution, priority, concurrency and group strategies registered
// under their default ids.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()

		err := defaultRegistry.RegisterAll(
			singleexec.New(),
			priority.New(),
			concurrency.New(),
			group.New(),
		)
		if err != nil {
			// the ids above are distinct
			panic(err)
		}
	})

	return defaultRegistry
}

// WithContext returns a copy of ctx carrying r. Contexts derived from the
// result resolve to r; contexts that do not descend from it, such as
// context.Background(), resolve to Default.
func (r *Registry) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// Ctx returns the Registry carried by ctx, or Default if there is none.
func Ctx(ctx context.Context) *Registry {
	if ctx != nil {
		if r, ok := ctx.Value(ctxKey{}).(*Registry); ok && r != nil {
			return r
		}
	}

	return Default()
}

// Scoped runs fn with a context resolving to r. The caller's ctx is never
// modified, so the previous registry is back in effect once fn returns, even
// if it panics.
func Scoped(ctx context.Context, r *Registry, fn func(context.Context) error) error {
	zerolog.Ctx(ctx).
		Debug().
		Int("strategies", r.Count()).
		Msg("entering scoped registry")

	return fn(r.WithContext(ctx))
}
