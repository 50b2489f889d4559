package lock

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Conflict errors carried inside outcomes. Match them with errors.Is.
var (
	// ErrBoundaryAlreadyLocked is reported by single-execution in boundary mode.
	ErrBoundaryAlreadyLocked = errors.New("boundary already locked")

	// ErrActionAlreadyRunning is reported by single-execution in action mode.
	ErrActionAlreadyRunning = errors.New("action already running")

	// ErrHigherPriorityExists is reported when a lock of higher priority is held.
	ErrHigherPriorityExists = errors.New("higher priority action exists")

	// ErrSamePriorityConflict is reported when an exclusive lock of the same
	// priority is held.
	ErrSamePriorityConflict = errors.New("same priority action is exclusive")

	// ErrPrecedingActionCancelled describes the lock cancelled to make room for
	// a new request.
	ErrPrecedingActionCancelled = errors.New("preceding action cancelled")

	// ErrBlockedBySameAction is reported when a held lock blocks requests
	// sharing its action id.
	ErrBlockedBySameAction = errors.New("blocked by same action")

	// ErrConcurrencyLimitReached is reported when a concurrency group is full.
	ErrConcurrencyLimitReached = errors.New("concurrency limit reached")

	// ErrLeaderCannotJoinNonEmptyGroup is reported when a leader targets a group
	// its entry policy does not allow it to join.
	ErrLeaderCannotJoinNonEmptyGroup = errors.New("leader cannot join non-empty group")

	// ErrMemberCannotJoinEmptyGroup is reported when a member targets a group
	// without participants.
	ErrMemberCannotJoinEmptyGroup = errors.New("member cannot join empty group")

	// ErrActionAlreadyInGroup is reported when the action id already
	// participates in a target group.
	ErrActionAlreadyInGroup = errors.New("action already in group")

	// ErrUnsupportedDescriptor is reported when a strategy receives a
	// descriptor of a type it does not handle.
	ErrUnsupportedDescriptor = errors.New("unsupported descriptor")
)

// ErrUnknownUnlockPolicy is returned by ParseUnlockPolicy.
var ErrUnknownUnlockPolicy = errors.New("unknown unlock policy")

// ConflictError carries the structured detail of a conflict.
type ConflictError struct {
	// Err is one of the sentinel errors declared in this package.
	Err error

	Boundary  Boundary
	Requested Descriptor

	// Existing is the held lock that caused the conflict, if any.
	Existing Descriptor

	// CurrentCount and Limit are set for ErrConcurrencyLimitReached.
	CurrentCount int
	Limit        int

	// GroupID is set for group-coordination conflicts.
	GroupID string
}

// Error implements error.
func (e *ConflictError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Err.Error())
	fmt.Fprintf(&sb, ": boundary=%q", e.Boundary)

	if e.Existing != nil {
		fmt.Fprintf(&sb, " existing=%q", e.Existing.ActionID())
	}

	if e.GroupID != "" {
		fmt.Fprintf(&sb, " group=%q", e.GroupID)
	}

	if errors.Is(e.Err, ErrConcurrencyLimitReached) {
		fmt.Fprintf(&sb, " current=%d limit=%d", e.CurrentCount, e.Limit)
	}

	return sb.String()
}

// Unwrap returns the sentinel error.
func (e *ConflictError) Unwrap() error { return e.Err }

// Conflict returns a ConflictError for err in boundary.
func Conflict(err error, boundary Boundary, requested, existing Descriptor) *ConflictError {
	return &ConflictError{
		Err:       err,
		Boundary:  boundary,
		Requested: requested,
		Existing:  existing,
	}
}

// CancellationError wraps a conflict together with the requesting action's
// context. It is handed to failure handlers.
type CancellationError struct {
	ActionID string
	UniqueID uuid.UUID
	Boundary Boundary
	Err      error
}

// NewCancellationError wraps err for the request d in boundary.
func NewCancellationError(boundary Boundary, d Descriptor, err error) *CancellationError {
	return &CancellationError{
		ActionID: d.ActionID(),
		UniqueID: d.UniqueID(),
		Boundary: boundary,
		Err:      err,
	}
}

// Error implements error.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("action %q in boundary %q cancelled: %v", e.ActionID, e.Boundary, e.Err)
}

// Unwrap returns the wrapped conflict.
func (e *CancellationError) Unwrap() error { return e.Err }
