package registry

import "github.com/kalbasit/actionlock/pkg/lock"

// erased is the type-erased view of a registered strategy. It forwards every
// call to the registered instance so state is shared, not copied.
type erased struct {
	id       lock.StrategyID
	strategy lock.Strategy
}

func (e *erased) ID() lock.StrategyID { return e.id }

func (e *erased) CanLock(boundary lock.Boundary, d lock.Descriptor) lock.Outcome {
	return e.strategy.CanLock(boundary, d)
}

func (e *erased) Lock(boundary lock.Boundary, d lock.Descriptor) { e.strategy.Lock(boundary, d) }

func (e *erased) Unlock(boundary lock.Boundary, d lock.Descriptor) { e.strategy.Unlock(boundary, d) }

func (e *erased) CleanUp() { e.strategy.CleanUp() }

func (e *erased) CleanUpBoundary(boundary lock.Boundary) { e.strategy.CleanUpBoundary(boundary) }

func (e *erased) CurrentLocks() map[lock.Boundary][]lock.Descriptor {
	return e.strategy.CurrentLocks()
}

// Unwrap returns the strategy registered behind s, or s itself when it was not
// returned by a Registry.
func Unwrap(s lock.Strategy) lock.Strategy {
	if e, ok := s.(*erased); ok {
		return e.strategy
	}

	return s
}
