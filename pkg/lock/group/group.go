// Package group implements the group-coordination strategy.
//
// A request names one or more groups and a role. Leaders start groups and
// members join groups that already have participants. A request touching
// several groups must be admissible in every one of them.
package group

import (
	"errors"

	"github.com/kalbasit/actionlock/pkg/lock"
)

// ErrNoGroups is returned by NewDescriptor when no group id is given.
var ErrNoGroups = errors.New("at least one group id is required")

// Role is the part a request plays in its groups.
type Role int

const (
	// RoleNone joins any group unconditionally.
	RoleNone Role = iota

	// RoleLeader starts a group, subject to its EntryPolicy.
	RoleLeader

	// RoleMember joins a group that already has a participant.
	RoleMember
)

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleLeader:
		return "leader"
	case RoleMember:
		return "member"
	default:
		return "unknown"
	}
}

// EntryPolicy restricts which groups a leader may enter.
type EntryPolicy int

const (
	// EntryEmptyGroup only lets a leader start an empty group.
	EntryEmptyGroup EntryPolicy = iota

	// EntryWithoutMembers lets a leader join a group that has no members.
	EntryWithoutMembers

	// EntryWithoutLeader lets a leader join a group that has no leader.
	EntryWithoutLeader
)

// String implements fmt.Stringer.
func (p EntryPolicy) String() string {
	switch p {
	case EntryEmptyGroup:
		return "empty-group"
	case EntryWithoutMembers:
		return "without-members"
	case EntryWithoutLeader:
		return "without-leader"
	default:
		return "unknown"
	}
}

// StrategyID is the default id of Strategy.
//
//nolint:gochecknoglobals
var StrategyID = lock.StrategyIDFor[Strategy]()

// Descriptor is a group-coordination lock request.
type Descriptor struct {
	lock.Identity

	groupIDs    []string
	role        Role
	entryPolicy EntryPolicy
}

// DescriptorOption configures a Descriptor.
type DescriptorOption func(*Descriptor)

// WithEntryPolicy sets the entry policy used when the role is RoleLeader.
func WithEntryPolicy(p EntryPolicy) DescriptorOption {
	return func(d *Descriptor) { d.entryPolicy = p }
}

// WithStrategyID routes the descriptor to the strategy registered under id.
func WithStrategyID(id lock.StrategyID) DescriptorOption {
	return func(d *Descriptor) { lock.WithStrategyID(id)(&d.Identity) }
}

// NewDescriptor returns a request for actionID playing role in groupIDs.
// Duplicate group ids are collapsed.
func NewDescriptor(actionID string, role Role, groupIDs []string, opts ...DescriptorOption) (*Descriptor, error) {
	seen := make(map[string]struct{}, len(groupIDs))
	ids := make([]string, 0, len(groupIDs))

	for _, id := range groupIDs {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, ErrNoGroups
	}

	d := &Descriptor{
		Identity: lock.NewIdentity(StrategyID, actionID),
		groupIDs: ids,
		role:     role,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// GroupIDs returns a copy of the groups named by the request.
func (d *Descriptor) GroupIDs() []string { return append([]string(nil), d.groupIDs...) }

// Role returns the role of the request.
func (d *Descriptor) Role() Role { return d.role }

// EntryPolicy returns the leader entry policy of the request.
func (d *Descriptor) EntryPolicy() EntryPolicy { return d.entryPolicy }

func (d *Descriptor) inGroup(groupID string) bool {
	for _, id := range d.groupIDs {
		if id == groupID {
			return true
		}
	}

	return false
}

// Strategy implements lock.Strategy for group descriptors.
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
	gd, ok := d.(*Descriptor)
	if !ok {
		return lock.Unsupported(boundary, d)
	}

	held := s.Store().Locks(boundary)

	for _, groupID := range gd.groupIDs {
		if err := admit(boundary, gd, groupID, held); err != nil {
			return lock.Reject(err)
		}
	}

	return lock.Succeed()
}

// Participants returns the locks of boundary taking part in groupID.
func (s *Strategy) Participants(boundary lock.Boundary, groupID string) []*Descriptor {
	var participants []*Descriptor

	for _, h := range s.Store().Locks(boundary) {
		if h.inGroup(groupID) {
			participants = append(participants, h)
		}
	}

	return participants
}

// admit checks the request against a single group.
func admit(boundary lock.Boundary, gd *Descriptor, groupID string, held []*Descriptor) *lock.ConflictError {
	var (
		first  *Descriptor
		leader *Descriptor
		member *Descriptor
	)

	for _, h := range held {
		if !h.inGroup(groupID) {
			continue
		}

		if h.ActionID() == gd.ActionID() {
			return groupConflict(lock.ErrActionAlreadyInGroup, boundary, gd, h, groupID)
		}

		if first == nil {
			first = h
		}

		switch h.role {
		case RoleLeader:
			if leader == nil {
				leader = h
			}
		case RoleMember:
			if member == nil {
				member = h
			}
		case RoleNone:
		}
	}

	switch gd.role {
	case RoleLeader:
		var blocker *Descriptor

		switch gd.entryPolicy {
		case EntryEmptyGroup:
			blocker = first
		case EntryWithoutMembers:
			blocker = member
		case EntryWithoutLeader:
			blocker = leader
		}

		if blocker != nil {
			return groupConflict(lock.ErrLeaderCannotJoinNonEmptyGroup, boundary, gd, blocker, groupID)
		}
	case RoleMember:
		if first == nil {
			return groupConflict(lock.ErrMemberCannotJoinEmptyGroup, boundary, gd, nil, groupID)
		}
	case RoleNone:
	}

	return nil
}

func groupConflict(
	err error,
	boundary lock.Boundary,
	requested, existing *Descriptor,
	groupID string,
) *lock.ConflictError {
	var c *lock.ConflictError
	if existing != nil {
		c = lock.Conflict(err, boundary, requested, existing)
	} else {
		c = lock.Conflict(err, boundary, requested, nil)
	}

	c.GroupID = groupID

	return c
}
