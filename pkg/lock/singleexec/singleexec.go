// Package singleexec implements the single-execution coordination strategy.
//
// Requests are admitted first-come-first-served; a rejected request never
// displaces the lock it conflicts with.
package singleexec

import (
	"github.com/kalbasit/actionlock/pkg/lock"
)

// Mode selects what a lock excludes.
type Mode int

const (
	// ModeNone never conflicts.
	ModeNone Mode = iota

	// ModeBoundary allows at most one lock of any action id per boundary.
	ModeBoundary

	// ModeAction allows at most one lock per action id per boundary.
	ModeAction
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeBoundary:
		return "boundary"
	case ModeAction:
		return "action"
	default:
		return "unknown"
	}
}

// ParseMode parses the result of Mode.String.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "none":
		return ModeNone, true
	case "boundary":
		return ModeBoundary, true
	case "action":
		return ModeAction, true
	default:
		return ModeNone, false
	}
}

// StrategyID is the default id of Strategy.
//
//nolint:gochecknoglobals
var StrategyID = lock.StrategyIDFor[Strategy]()

// Descriptor is a single-execution lock request.
type Descriptor struct {
	lock.Identity

	mode Mode
}

// NewDescriptor returns a request for actionID in mode.
func NewDescriptor(actionID string, mode Mode, opts ...lock.IdentityOption) *Descriptor {
	return &Descriptor{
		Identity: lock.NewIdentity(StrategyID, actionID, opts...),
		mode:     mode,
	}
}

// Mode returns the execution mode of the request.
func (d *Descriptor) Mode() Mode { return d.mode }

// Strategy implements lock.Strategy for single-execution descriptors.
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
	sd, ok := d.(*Descriptor)
	if !ok {
		return lock.Unsupported(boundary, d)
	}

	switch sd.mode {
	case ModeBoundary:
		if held := s.Store().Locks(boundary); len(held) > 0 {
			return lock.Reject(lock.Conflict(lock.ErrBoundaryAlreadyLocked, boundary, sd, held[0]))
		}
	case ModeAction:
		if held := s.Store().ActionLocks(boundary, sd.ActionID()); len(held) > 0 {
			return lock.Reject(lock.Conflict(lock.ErrActionAlreadyRunning, boundary, sd, held[0]))
		}
	case ModeNone:
	}

	return lock.Succeed()
}
