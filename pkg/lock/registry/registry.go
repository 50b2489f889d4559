// Package registry maps strategy ids to strategy instances.
//
// A Registry is safe for concurrent use. Registrations are never overwritten:
// registering an id twice is an error, and bulk registration is all-or-nothing.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/kalbasit/actionlock/pkg/lock"
)

var (
	// ErrStrategyAlreadyRegistered is returned when an id is registered twice.
	ErrStrategyAlreadyRegistered = errors.New("strategy already registered")

	// ErrStrategyNotRegistered is returned when an id is not registered or is
	// registered with a different type than the one expected.
	ErrStrategyNotRegistered = errors.New("strategy not registered")
)

// Info describes a registration.
type Info struct {
	ID           lock.StrategyID `json:"id"`
	TypeName     string          `json:"typeName"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

type entry struct {
	strategy *erased
	info     Info
}

// Registry is the strategy container.
type Registry struct {
	mu      sync.RWMutex
	entries map[lock.StrategyID]entry

	now func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[lock.StrategyID]entry),
		now:     time.Now,
	}
}

// Register registers s under s.ID().
func (r *Registry) Register(s lock.Strategy) error {
	return r.RegisterAs(s.ID(), s)
}

// RegisterAs registers s under id.
func (r *Registry) RegisterAs(id lock.StrategyID, s lock.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrStrategyAlreadyRegistered, id)
	}

	r.entries[id] = r.newEntry(id, s)

	return nil
}

// RegisterAll registers every strategy under its own id. If any id is already
// registered or appears twice in strategies nothing is registered.
func (r *Registry) RegisterAll(strategies ...lock.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[lock.StrategyID]struct{}, len(strategies))

	for _, s := range strategies {
		id := s.ID()

		if _, ok := r.entries[id]; ok {
			return fmt.Errorf("%w: %s", ErrStrategyAlreadyRegistered, id)
		}

		if _, ok := batch[id]; ok {
			return fmt.Errorf("%w: %s appears more than once", ErrStrategyAlreadyRegistered, id)
		}

		batch[id] = struct{}{}
	}

	for _, s := range strategies {
		r.entries[s.ID()] = r.newEntry(s.ID(), s)
	}

	return nil
}

func (r *Registry) newEntry(id lock.StrategyID, s lock.Strategy) entry {
	return entry{
		strategy: &erased{id: id, strategy: s},
		info: Info{
			ID:           id,
			TypeName:     reflect.TypeOf(s).String(),
			RegisteredAt: r.now(),
		},
	}
}

// Resolve returns the strategy registered under id.
//
// The returned value wraps the registered strategy; it reports id from ID()
// and delegates every other call. Use Unwrap or ResolveAs to reach the
// concrete type.
func (r *Registry) Resolve(id lock.StrategyID) (lock.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotRegistered, id)
	}

	return e.strategy, nil
}

// ResolveAs returns the strategy registered under id as S. It fails with
// ErrStrategyNotRegistered when the registered strategy is not an S.
func ResolveAs[S lock.Strategy](r *Registry, id lock.StrategyID) (S, error) {
	var zero S

	s, err := r.Resolve(id)
	if err != nil {
		return zero, err
	}

	typed, ok := Unwrap(s).(S)
	if !ok {
		return zero, fmt.Errorf("%w: %s is a %T, not a %s",
			ErrStrategyNotRegistered, id, Unwrap(s), reflect.TypeFor[S]())
	}

	return typed, nil
}

// ResolveType returns the strategy registered under the id derived from S.
func ResolveType[S lock.Strategy](r *Registry) (S, error) {
	return ResolveAs[S](r, lock.StrategyIDFor[S]())
}

// Unregister cleans up and removes the strategy registered under id. It
// reports whether a strategy was removed.
func (r *Registry) Unregister(id lock.StrategyID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		e.strategy.CleanUp()
	}

	return ok
}

// UnregisterType unregisters the strategy registered under the id derived
// from S.
func UnregisterType[S lock.Strategy](r *Registry) bool {
	return r.Unregister(lock.StrategyIDFor[S]())
}

// RemoveAll cleans up and removes every registration.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[lock.StrategyID]entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.strategy.CleanUp()
	}
}

// IsRegistered reports whether id is registered.
func (r *Registry) IsRegistered(id lock.StrategyID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[id]

	return ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []lock.StrategyID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]lock.StrategyID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Info returns the registration details, sorted by id.
func (r *Registry) Info() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	return infos
}

// Count returns the number of registrations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// CleanUp clears the state of every registered strategy. Registrations are
// kept.
func (r *Registry) CleanUp() {
	for _, s := range r.strategies() {
		s.CleanUp()
	}
}

// CleanUpBoundary clears boundary in every registered strategy.
func (r *Registry) CleanUpBoundary(boundary lock.Boundary) {
	for _, s := range r.strategies() {
		s.CleanUpBoundary(boundary)
	}
}

// CurrentLocks returns the held locks of every registered strategy that holds
// at least one.
func (r *Registry) CurrentLocks() map[lock.StrategyID]map[lock.Boundary][]lock.Descriptor {
	locks := make(map[lock.StrategyID]map[lock.Boundary][]lock.Descriptor)

	for _, s := range r.strategies() {
		if held := s.CurrentLocks(); len(held) > 0 {
			locks[s.ID()] = held
		}
	}

	return locks
}

// strategies returns a snapshot so that strategy calls run without r.mu held.
func (r *Registry) strategies() []lock.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ss := make([]lock.Strategy, 0, len(r.entries))
	for _, e := range r.entries {
		ss = append(ss, e.strategy)
	}

	return ss
}
