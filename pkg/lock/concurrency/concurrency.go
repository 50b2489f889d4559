// Package concurrency implements the concurrency-limited coordination strategy.
//
// Requests sharing a concurrency id are admitted while fewer than the limit are
// held in the boundary; the rest are rejected. There is no queueing and no
// cancellation of held locks.
package concurrency

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kalbasit/actionlock/pkg/lock"
)

// ErrNegativeLimit is returned by ParseLimit for a limit below zero.
var ErrNegativeLimit = errors.New("concurrency limit must not be negative")

// Limit bounds the number of concurrently held locks. The zero value is
// Unlimited.
type Limit struct {
	n int
}

// Unlimited returns the limit that never rejects.
func Unlimited() Limit { return Limit{} }

// Limited returns a limit of n concurrent locks. Values below one are treated
// as one.
func Limited(n int) Limit {
	if n < 1 {
		n = 1
	}

	return Limit{n: n}
}

// ParseLimit returns Unlimited for zero and Limited(n) for a positive n. It
// rejects negative values rather than clamping them the way Limited does.
func ParseLimit(n int) (Limit, error) {
	switch {
	case n < 0:
		return Limit{}, fmt.Errorf("%w: %d", ErrNegativeLimit, n)
	case n == 0:
		return Unlimited(), nil
	default:
		return Limited(n), nil
	}
}

// IsUnlimited reports whether l never rejects.
func (l Limit) IsUnlimited() bool { return l.n == 0 }

// Max returns the maximum number of concurrent locks, zero when unlimited.
func (l Limit) Max() int { return l.n }

// Admits reports whether a request may be added to current held locks.
func (l Limit) Admits(current int) bool { return l.IsUnlimited() || current < l.n }

// String implements fmt.Stringer.
func (l Limit) String() string {
	if l.IsUnlimited() {
		return "unlimited"
	}

	return strconv.Itoa(l.n)
}

// Group is implemented by caller-defined named concurrency groups, typically an
// enum whose values map to a fixed limit.
type Group interface {
	ConcurrencyID() string
	Limit() Limit
}

// StrategyID is the default id of Strategy.
//
//nolint:gochecknoglobals
var StrategyID = lock.StrategyIDFor[Strategy]()

// Descriptor is a concurrency-limited lock request.
type Descriptor struct {
	lock.Identity

	concurrencyID string
	limit         Limit
}

// NewDescriptor returns a request for actionID counted against actionID itself
// with limit l.
func NewDescriptor(actionID string, l Limit, opts ...lock.IdentityOption) *Descriptor {
	return &Descriptor{
		Identity:      lock.NewIdentity(StrategyID, actionID, opts...),
		concurrencyID: actionID,
		limit:         l,
	}
}

// NewGroupDescriptor returns a request for actionID counted against group g.
func NewGroupDescriptor(actionID string, g Group, opts ...lock.IdentityOption) *Descriptor {
	return &Descriptor{
		Identity:      lock.NewIdentity(StrategyID, actionID, opts...),
		concurrencyID: g.ConcurrencyID(),
		limit:         g.Limit(),
	}
}

// ConcurrencyID returns the key locks are counted under.
func (d *Descriptor) ConcurrencyID() string { return d.concurrencyID }

// Limit returns the limit of the request.
func (d *Descriptor) Limit() Limit { return d.limit }

// Strategy implements lock.Strategy for concurrency descriptors.
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
func (s *Strategy) CanLock(boundary lock.Boundary, d lock.Descriptor) lock.Outcome {
	cd, ok := d.(*Descriptor)
	if !ok {
		return lock.Unsupported(boundary, d)
	}

	if cd.limit.IsUnlimited() {
		return lock.Succeed()
	}

	current := s.CurrentCount(boundary, cd.concurrencyID)
	if cd.limit.Admits(current) {
		return lock.Succeed()
	}

	conflict := lock.Conflict(lock.ErrConcurrencyLimitReached, boundary, cd, nil)
	conflict.CurrentCount = current
	conflict.Limit = cd.limit.Max()

	return lock.Reject(conflict)
}

// CurrentCount returns the number of locks held in boundary under
// concurrencyID.
func (s *Strategy) CurrentCount(boundary lock.Boundary, concurrencyID string) int {
	var n int

	for _, h := range s.Store().Locks(boundary) {
		if h.concurrencyID == concurrencyID {
			n++
		}
	}

	return n
}
