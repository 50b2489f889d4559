package server

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalbasit/actionlock/pkg/lock"
	"github.com/kalbasit/actionlock/pkg/lock/concurrency"
	"github.com/kalbasit/actionlock/pkg/lock/group"
	"github.com/kalbasit/actionlock/pkg/lock/priority"
	"github.com/kalbasit/actionlock/pkg/lock/singleexec"
)

var (
	// ErrUnknownStrategyKind is returned for a lock request naming a strategy
	// kind the server cannot build descriptors for.
	ErrUnknownStrategyKind = errors.New("unknown strategy kind")

	// ErrInvalidField is returned for a lock request with a malformed field.
	ErrInvalidField = errors.New("invalid field")
)

// lockRequest is the body of POST /boundaries/{boundary}/locks.
type lockRequest struct {
	// Strategy is one of singleexec, priority, concurrency or group.
	Strategy string `json:"strategy"`

	// StrategyID routes the descriptor to a strategy registered under a
	// custom id.
	StrategyID string `json:"strategyId,omitempty"`

	ActionID string `json:"actionId"`

	// singleexec
	Mode string `json:"mode,omitempty"`

	// priority
	Priority         string `json:"priority,omitempty"`
	Behavior         string `json:"behavior,omitempty"`
	BlocksSameAction bool   `json:"blocksSameAction,omitempty"`

	// concurrency; Limit zero is unlimited
	Limit            int    `json:"limit,omitempty"`
	ConcurrencyGroup string `json:"concurrencyGroup,omitempty"`

	// group
	Role        string   `json:"role,omitempty"`
	Groups      []string `json:"groups,omitempty"`
	EntryPolicy string   `json:"entryPolicy,omitempty"`
}

// namedGroup is a concurrency group declared by a request.
type namedGroup struct {
	id    string
	limit concurrency.Limit
}

func (g namedGroup) ConcurrencyID() string { return g.id }

func (g namedGroup) Limit() concurrency.Limit { return g.limit }

func (req lockRequest) descriptor() (lock.Descriptor, error) {
	sid := lock.StrategyID(req.StrategyID)

	switch req.Strategy {
	case "singleexec":
		mode, ok := singleexec.ParseMode(req.Mode)
		if !ok {
			return nil, fmt.Errorf("%w: mode %q", ErrInvalidField, req.Mode)
		}

		return singleexec.NewDescriptor(req.ActionID, mode, lock.WithStrategyID(sid)), nil
	case "priority":
		p, err := parsePriority(req.Priority, req.Behavior)
		if err != nil {
			return nil, err
		}

		opts := []priority.DescriptorOption{priority.WithStrategyID(sid)}
		if req.BlocksSameAction {
			opts = append(opts, priority.WithBlocksSameAction())
		}

		return priority.NewDescriptor(req.ActionID, p, opts...), nil
	case "concurrency":
		limit, err := concurrency.ParseLimit(req.Limit)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidField, err)
		}

		if req.ConcurrencyGroup != "" {
			g := namedGroup{id: req.ConcurrencyGroup, limit: limit}

			return concurrency.NewGroupDescriptor(req.ActionID, g, lock.WithStrategyID(sid)), nil
		}

		return concurrency.NewDescriptor(req.ActionID, limit, lock.WithStrategyID(sid)), nil
	case "group":
		role, err := parseRole(req.Role)
		if err != nil {
			return nil, err
		}

		policy, err := parseEntryPolicy(req.EntryPolicy)
		if err != nil {
			return nil, err
		}

		gd, err := group.NewDescriptor(req.ActionID, role, req.Groups,
			group.WithEntryPolicy(policy),
			group.WithStrategyID(sid),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidField, err)
		}

		return gd, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategyKind, req.Strategy)
	}
}

func parsePriority(level, behavior string) (priority.Priority, error) {
	b := priority.Exclusive

	switch behavior {
	case "", "exclusive":
	case "replaceable":
		b = priority.Replaceable
	default:
		return priority.Priority{}, fmt.Errorf("%w: behavior %q", ErrInvalidField, behavior)
	}

	switch level {
	case "", "none":
		return priority.None(), nil
	case "low":
		return priority.Low(b), nil
	case "high":
		return priority.High(b), nil
	default:
		return priority.Priority{}, fmt.Errorf("%w: priority %q", ErrInvalidField, level)
	}
}

func parseRole(s string) (group.Role, error) {
	for _, r := range []group.Role{group.RoleNone, group.RoleLeader, group.RoleMember} {
		if r.String() == s {
			return r, nil
		}
	}

	if s == "" {
		return group.RoleNone, nil
	}

	return group.RoleNone, fmt.Errorf("%w: role %q", ErrInvalidField, s)
}

func parseEntryPolicy(s string) (group.EntryPolicy, error) {
	if s == "" {
		return group.EntryEmptyGroup, nil
	}

	for _, p := range []group.EntryPolicy{group.EntryEmptyGroup, group.EntryWithoutMembers, group.EntryWithoutLeader} {
		if p.String() == s {
			return p, nil
		}
	}

	return group.EntryEmptyGroup, fmt.Errorf("%w: entry policy %q", ErrInvalidField, s)
}

// lockView is the JSON rendering of a held descriptor.
type lockView struct {
	StrategyID lock.StrategyID `json:"strategyId"`
	ActionID   string          `json:"actionId"`
	UniqueID   uuid.UUID       `json:"uniqueId"`

	Mode          string   `json:"mode,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	ConcurrencyID string   `json:"concurrencyId,omitempty"`
	Limit         string   `json:"limit,omitempty"`
	Role          string   `json:"role,omitempty"`
	Groups        []string `json:"groups,omitempty"`
}

func newLockView(d lock.Descriptor) lockView {
	v := lockView{
		StrategyID: d.StrategyID(),
		ActionID:   d.ActionID(),
		UniqueID:   d.UniqueID(),
	}

	switch td := d.(type) {
	case *singleexec.Descriptor:
		v.Mode = td.Mode().String()
	case *priority.Descriptor:
		v.Priority = td.Priority().String()
	case *concurrency.Descriptor:
		v.ConcurrencyID = td.ConcurrencyID()
		v.Limit = td.Limit().String()
	case *group.Descriptor:
		v.Role = td.Role().String()
		v.Groups = td.GroupIDs()
	}

	return v
}

type cancelledView struct {
	Boundary lock.Boundary `json:"boundary"`
	ActionID string        `json:"actionId"`
	UniqueID uuid.UUID     `json:"uniqueId"`
}

// lockResponse is the reply of POST /boundaries/{boundary}/locks.
type lockResponse struct {
	Outcome   string          `json:"outcome"`
	UniqueID  uuid.UUID       `json:"uniqueId"`
	Reason    string          `json:"reason,omitempty"`
	Cancelled []cancelledView `json:"cancelled,omitempty"`
}

func newLockResponse(d lock.Descriptor, outcome lock.Outcome) lockResponse {
	resp := lockResponse{
		Outcome:  outcome.Kind.String(),
		UniqueID: d.UniqueID(),
	}

	if outcome.Reason != nil {
		resp.Reason = outcome.Reason.Error()
	}

	for _, p := range outcome.Preceding {
		resp.Cancelled = append(resp.Cancelled, cancelledView{
			Boundary: p.Boundary,
			ActionID: p.Descriptor.ActionID(),
			UniqueID: p.Descriptor.UniqueID(),
		})
	}

	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}
