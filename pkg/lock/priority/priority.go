// Package priority implements the priority-based coordination strategy.
//
// Each request carries a Priority made of a level (none, low, high) and, for
// low and high, a Behavior deciding how an equal-priority newcomer is treated.
// Ordering and equality only look at the level; Behavior never takes part in
// comparisons.
package priority

import (
	"github.com/kalbasit/actionlock/pkg/lock"
)

// Level is the ordered part of a Priority.
type Level int

const (
	// LevelNone opts out of priority coordination altogether.
	LevelNone Level = iota
	LevelLow
	LevelHigh
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Behavior decides what happens when a request meets a held lock of the same
// level. It is read from the held lock.
type Behavior int

const (
	// Exclusive rejects equal-priority newcomers.
	Exclusive Behavior = iota

	// Replaceable lets an equal-priority newcomer cancel the held lock.
	Replaceable
)

// String implements fmt.Stringer.
func (b Behavior) String() string {
	if b == Replaceable {
		return "replaceable"
	}

	return "exclusive"
}

// Priority is a level plus the same-level behavior.
type Priority struct {
	level    Level
	behavior Behavior
}

// None returns the priority that never conflicts.
func None() Priority { return Priority{level: LevelNone} }

// Low returns a low priority with behavior b.
func Low(b Behavior) Priority { return Priority{level: LevelLow, behavior: b} }

// High returns a high priority with behavior b.
func High(b Behavior) Priority { return Priority{level: LevelHigh, behavior: b} }

// Level returns the level of p.
func (p Priority) Level() Level { return p.level }

// Behavior returns the same-level behavior of p. It is meaningless for None.
func (p Priority) Behavior() Behavior { return p.behavior }

// Equal reports whether p and o have the same level.
func (p Priority) Equal(o Priority) bool { return p.level == o.level }

// Compare returns -1, 0 or +1 depending on whether p's level is lower than,
// equal to or higher than o's.
func (p Priority) Compare(o Priority) int {
	switch {
	case p.level < o.level:
		return -1
	case p.level > o.level:
		return 1
	default:
		return 0
	}
}

// Less reports whether p orders before o.
func (p Priority) Less(o Priority) bool { return p.Compare(o) < 0 }

// String implements fmt.Stringer.
func (p Priority) String() string {
	if p.level == LevelNone {
		return p.level.String()
	}

	return p.level.String() + "(" + p.behavior.String() + ")"
}

// StrategyID is the default id of Strategy.
//
//nolint:gochecknoglobals
var StrategyID = lock.StrategyIDFor[Strategy]()

// Descriptor is a priority-based lock request.
type Descriptor struct {
	lock.Identity

	priority         Priority
	blocksSameAction bool
}

// DescriptorOption configures a Descriptor.
type DescriptorOption func(*Descriptor)

// WithBlocksSameAction makes the lock reject any later request with the same
// action id, whatever its priority.
func WithBlocksSameAction() DescriptorOption {
	return func(d *Descriptor) { d.blocksSameAction = true }
}

// WithStrategyID routes the descriptor to the strategy registered under id.
func WithStrategyID(id lock.StrategyID) DescriptorOption {
	return func(d *Descriptor) { lock.WithStrategyID(id)(&d.Identity) }
}

// NewDescriptor returns a request for actionID at priority p.
func NewDescriptor(actionID string, p Priority, opts ...DescriptorOption) *Descriptor {
	d := &Descriptor{
		Identity: lock.NewIdentity(StrategyID, actionID),
		priority: p,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Priority returns the priority of the request.
func (d *Descriptor) Priority() Priority { return d.priority }

// BlocksSameAction reports whether the lock blocks requests with its action id.
func (d *Descriptor) BlocksSameAction() bool { return d.blocksSameAction }

// Strategy implements lock.Strategy for priority descriptors.
type Strategy struct {
	*lock.Keeper[*Descriptor]
}

var _ lock.Strategy = (*Strategy)(nil)

// Option configures a Strategy.
type Option func(*options)

type options struct {
	id lock.StrategyID
}

// WithID registers the strategy under id instead of StrategyID.
func WithID(id lock.StrategyID) Option {
	return func(o *options) { o.id = id }
}

// New returns a Strategy with no locks held.
func New(opts ...Option) *Strategy {
	o := options{id: StrategyID}
	for _, opt := range opts {
		opt(&o)
	}

	return &Strategy{Keeper: lock.NewKeeper[*Descriptor](o.id)}
}

// CanLock implements lock.Strategy.
//
// The request is compared with the highest-priority held lock of the
// boundary. A higher request cancels every held lock below it, a lower one is
// rejected, and an equal one is settled by the held lock's Behavior. Requests
// at LevelNone always succeed.
func (s *Strategy) CanLock(boundary lock.Boundary, d lock.Descriptor) lock.Outcome {
	pd, ok := d.(*Descriptor)
	if !ok {
		return lock.Unsupported(boundary, d)
	}

	held := s.Store().Locks(boundary)

	for _, h := range held {
		if h.blocksSameAction && h.ActionID() == pd.ActionID() {
			return lock.Reject(lock.Conflict(lock.ErrBlockedBySameAction, boundary, pd, h))
		}
	}

	if pd.priority.level == LevelNone {
		return lock.Succeed()
	}

	var top *Descriptor

	for _, h := range held {
		if h.priority.level == LevelNone {
			continue
		}

		// the earliest lock wins ties
		if top == nil || top.priority.Less(h.priority) {
			top = h
		}
	}

	if top == nil {
		return lock.Succeed()
	}

	switch pd.priority.Compare(top.priority) {
	case 1:
		return s.cancelBelow(boundary, pd, held, top, func(h *Descriptor) bool {
			return h.priority.Less(pd.priority)
		})
	case -1:
		return lock.Reject(lock.Conflict(lock.ErrHigherPriorityExists, boundary, pd, top))
	}

	for _, h := range held {
		if h.priority.Equal(pd.priority) && h.priority.behavior == Exclusive {
			return lock.Reject(lock.Conflict(lock.ErrSamePriorityConflict, boundary, pd, h))
		}
	}

	return s.cancelBelow(boundary, pd, held, top, func(h *Descriptor) bool {
		return !pd.priority.Less(h.priority)
	})
}

// cancelBelow builds the outcome cancelling every held non-none lock matched by
// displaced. The reason names top, the lock the request is measured against.
func (s *Strategy) cancelBelow(
	boundary lock.Boundary,
	pd *Descriptor,
	held []*Descriptor,
	top *Descriptor,
	displaced func(*Descriptor) bool,
) lock.Outcome {
	var preceding []lock.Cancellation

	for _, h := range held {
		if h.priority.level == LevelNone || !displaced(h) {
			continue
		}

		preceding = append(preceding, lock.Cancellation{
			Boundary:   boundary,
			Descriptor: h,
			Strategy:   s,
		})
	}

	return lock.SucceedCancelling(
		lock.Conflict(lock.ErrPrecedingActionCancelled, boundary, pd, top),
		preceding...,
	)
}
