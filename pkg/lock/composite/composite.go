// Package composite implements a strategy that coordinates one request through
// two to five independent sub-strategies.
//
// CanLock asks every sub-strategy in order and stops at the first rejection;
// nothing is committed while deciding. Lock, Unlock and the cleanup methods
// are applied to every sub-strategy unconditionally.
package composite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalbasit/actionlock/pkg/lock"
)

const (
	// MinArity is the smallest number of sub-strategies.
	MinArity = 2

	// MaxArity is the largest number of sub-strategies.
	MaxArity = 5
)

// ErrInvalidArity is returned when fewer than MinArity or more than MaxArity
// parts are given.
var ErrInvalidArity = errors.New("composite arity must be between 2 and 5")

// Descriptor is a composite lock request. It has its own identity and holds
// one sub-descriptor per sub-strategy, in the same order.
type Descriptor struct {
	lock.Identity

	parts []lock.Descriptor
}

// NewDescriptor returns a request for actionID made of parts. The request is
// routed to strategyID, the id the matching Strategy is registered under.
func NewDescriptor(strategyID lock.StrategyID, actionID string, parts ...lock.Descriptor) (*Descriptor, error) {
	if len(parts) < MinArity || len(parts) > MaxArity {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidArity, len(parts))
	}

	return &Descriptor{
		Identity: lock.NewIdentity(strategyID, actionID),
		parts:    append([]lock.Descriptor(nil), parts...),
	}, nil
}

// Parts returns a copy of the sub-descriptors.
func (d *Descriptor) Parts() []lock.Descriptor { return append([]lock.Descriptor(nil), d.parts...) }

// Strategy implements lock.Strategy over sub-strategies.
type Strategy struct {
	*lock.Keeper[*Descriptor]

	strategies []lock.Strategy
}

var _ lock.Strategy = (*Strategy)(nil)

// New returns a Strategy over strategies. Its id is derived from the
// sub-strategy ids unless id is not empty.
func New(id lock.StrategyID, strategies ...lock.Strategy) (*Strategy, error) {
	if len(strategies) < MinArity || len(strategies) > MaxArity {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidArity, len(strategies))
	}

	if id == "" {
		id = StrategyIDFor(strategies...)
	}

	return &Strategy{
		Keeper:     lock.NewKeeper[*Descriptor](id),
		strategies: append([]lock.Strategy(nil), strategies...),
	}, nil
}

// StrategyIDFor returns the id a Strategy over strategies gets by default.
func StrategyIDFor(strategies ...lock.Strategy) lock.StrategyID {
	ids := make([]string, len(strategies))
	for i, s := range strategies {
		ids[i] = s.ID().String()
	}

	return lock.StrategyID(fmt.Sprintf("composite%d(%s)", len(strategies), strings.Join(ids, "+")))
}

// Strategies returns a copy of the sub-strategies.
func (s *Strategy) Strategies() []lock.Strategy {
	return append([]lock.Strategy(nil), s.strategies...)
}

// NewDescriptor returns a request for actionID routed to s.
func (s *Strategy) NewDescriptor(actionID string, parts ...lock.Descriptor) (*Descriptor, error) {
	if len(parts) != len(s.strategies) {
		return nil, fmt.Errorf("%w: strategy has %d parts, got %d", ErrInvalidArity, len(s.strategies), len(parts))
	}

	return NewDescriptor(s.ID(), actionID, parts...)
}

// CanLock implements lock.Strategy.
//
// The result is a rejection as soon as one sub-strategy rejects. Otherwise it
// is a success, upgraded to a success with preceding cancellation when any
// sub-strategy requires one; all cancellations and reasons are collected. A
// cancelled part of a request held by s cancels that whole request.
func (s *Strategy) CanLock(boundary lock.Boundary, d lock.Descriptor) lock.Outcome {
	cd, ok := d.(*Descriptor)
	if !ok || len(cd.parts) != len(s.strategies) {
		return lock.Unsupported(boundary, d)
	}

	var (
		reasons   []error
		preceding []lock.Cancellation
		cancelled = make(map[uuid.UUID]struct{})
	)

	held := s.Store().Locks(boundary)

	for i, sub := range s.strategies {
		outcome := sub.CanLock(boundary, cd.parts[i])

		switch outcome.Kind {
		case lock.OutcomeCancel:
			return outcome
		case lock.OutcomeSuccessWithPrecedingCancellation:
			if outcome.Reason != nil {
				reasons = append(reasons, outcome.Reason)
			}

			for _, p := range outcome.Preceding {
				c := s.owner(held, i, p)
				if _, ok := cancelled[c.Descriptor.UniqueID()]; ok {
					continue
				}

				cancelled[c.Descriptor.UniqueID()] = struct{}{}
				preceding = append(preceding, c)
			}
		case lock.OutcomeSuccess:
		}
	}

	if len(reasons) == 0 && len(preceding) == 0 {
		return lock.Succeed()
	}

	var reason error
	if len(reasons) == 1 {
		reason = reasons[0]
	} else {
		reason = errors.Join(reasons...)
	}

	return lock.SucceedCancelling(reason, preceding...)
}

// owner replaces a cancellation of part i by the held composite request that
// owns that part, so the whole request is released. Cancellations of locks
// held outside the composite are returned unchanged.
func (s *Strategy) owner(held []*Descriptor, i int, p lock.Cancellation) lock.Cancellation {
	for _, h := range held {
		if h.parts[i].UniqueID() == p.Descriptor.UniqueID() {
			return lock.Cancellation{Boundary: p.Boundary, Descriptor: h, Strategy: s}
		}
	}

	return p
}

// Lock implements lock.Strategy.
func (s *Strategy) Lock(boundary lock.Boundary, d lock.Descriptor) {
	cd, ok := d.(*Descriptor)
	if !ok || len(cd.parts) != len(s.strategies) {
		return
	}

	for i, sub := range s.strategies {
		sub.Lock(boundary, cd.parts[i])
	}

	s.Keeper.Lock(boundary, cd)
}

// Unlock implements lock.Strategy.
func (s *Strategy) Unlock(boundary lock.Boundary, d lock.Descriptor) {
	cd, ok := d.(*Descriptor)
	if !ok || len(cd.parts) != len(s.strategies) {
		return
	}

	for i, sub := range s.strategies {
		sub.Unlock(boundary, cd.parts[i])
	}

	s.Keeper.Unlock(boundary, cd)
}

// CleanUp implements lock.Strategy.
func (s *Strategy) CleanUp() {
	for _, sub := range s.strategies {
		sub.CleanUp()
	}

	s.Keeper.CleanUp()
}

// CleanUpBoundary implements lock.Strategy.
func (s *Strategy) CleanUpBoundary(boundary lock.Boundary) {
	for _, sub := range s.strategies {
		sub.CleanUpBoundary(boundary)
	}

	s.Keeper.CleanUpBoundary(boundary)
}
