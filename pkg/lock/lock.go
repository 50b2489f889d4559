// Package lock provides the coordination kernel for action-driven state machines.
//
// A caller describes each request with a Descriptor and a Boundary. A Strategy
// decides synchronously whether the request may proceed, may proceed after an
// existing lock is cancelled, or must be rejected. The decision is returned as
// an Outcome; strategies never return errors from a decision and never panic
// on missing state.
//
// The built-in strategies live in sub-packages (singleexec, priority,
// concurrency, group and composite). The registry package maps strategy ids to
// instances and the manager package ties everything together behind a
// per-boundary serialization lock.
package lock

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
)

// Boundary names a coordination domain. Locks held in different boundaries never
// interact with each other.
type Boundary string

// BoundaryOf derives a Boundary from any comparable value. Strings are used
// as-is; other values are qualified with their type so that, for example, the
// integer 1 and the string "1" name different boundaries.
func BoundaryOf(v any) Boundary {
	switch b := v.(type) {
	case Boundary:
		return b
	case string:
		return Boundary(b)
	case fmt.Stringer:
		return Boundary(fmt.Sprintf("%T:%s", v, b.String()))
	default:
		return Boundary(fmt.Sprintf("%T:%v", v, v))
	}
}

// String implements fmt.Stringer.
func (b Boundary) String() string { return string(b) }

// StrategyID identifies a Strategy within a registry.
type StrategyID string

// String implements fmt.Stringer.
func (id StrategyID) String() string { return string(id) }

// StrategyIDFor returns the stable id derived from the Go type T.
func StrategyIDFor[T any]() StrategyID {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return StrategyID(t.String())
}

// Descriptor describes a single lock request.
type Descriptor interface {
	// StrategyID returns the id of the strategy that resolves this descriptor.
	StrategyID() StrategyID

	// ActionID returns the grouping key used for conflict detection. It may be
	// empty.
	ActionID() string

	// UniqueID returns the token minted when the descriptor was created. Two
	// descriptors are the same request if and only if their unique ids match.
	UniqueID() uuid.UUID
}

// Equal reports whether a and b describe the same request instance.
func Equal(a, b Descriptor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.UniqueID() == b.UniqueID()
}

// Identity is the part shared by every descriptor. Concrete descriptors embed it.
type Identity struct {
	strategyID StrategyID
	actionID   string
	uniqueID   uuid.UUID
}

// IdentityOption configures an Identity at construction time.
type IdentityOption func(*Identity)

// WithStrategyID routes the descriptor to the strategy registered under id
// instead of the strategy's default id.
func WithStrategyID(id StrategyID) IdentityOption {
	return func(i *Identity) {
		if id != "" {
			i.strategyID = id
		}
	}
}

// NewIdentity returns an Identity with a freshly minted unique id.
func NewIdentity(strategyID StrategyID, actionID string, opts ...IdentityOption) Identity {
	i := Identity{
		strategyID: strategyID,
		actionID:   actionID,
		uniqueID:   uuid.New(),
	}

	for _, opt := range opts {
		opt(&i)
	}

	return i
}

// StrategyID implements Descriptor.
func (i Identity) StrategyID() StrategyID { return i.strategyID }

// ActionID implements Descriptor.
func (i Identity) ActionID() string { return i.actionID }

// UniqueID implements Descriptor.
func (i Identity) UniqueID() uuid.UUID { return i.uniqueID }

// Strategy implements one coordination policy.
//
// CanLock must not mutate state. Lock commits a request that CanLock accepted
// and does not validate it again. Unlock removes the exact descriptor instance
// and is a no-op when it is not held.
type Strategy interface {
	ID() StrategyID
	CanLock(boundary Boundary, d Descriptor) Outcome
	Lock(boundary Boundary, d Descriptor)
	Unlock(boundary Boundary, d Descriptor)
	CleanUp()
	CleanUpBoundary(boundary Boundary)
	CurrentLocks() map[Boundary][]Descriptor
}
