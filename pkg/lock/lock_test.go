package lock_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/actionlock/pkg/lock"
)

type testDescriptor struct {
	lock.Identity
}

func newTestDescriptor(actionID string) *testDescriptor {
	return &testDescriptor{Identity: lock.NewIdentity("test", actionID)}
}

type otherDescriptor struct {
	lock.Identity
}

type stringer struct{ name string }

func (s stringer) String() string { return s.name }

func TestBoundaryOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want lock.Boundary
	}{
		{"boundary", lock.Boundary("b"), "b"},
		{"string", "orders", "orders"},
		{"int", 1, "int:1"},
		{"stringer", stringer{"cart"}, "lock_test.stringer:cart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, lock.BoundaryOf(tt.in))
		})
	}

	t.Run("int and string differ", func(t *testing.T) {
		t.Parallel()

		assert.NotEqual(t, lock.BoundaryOf(1), lock.BoundaryOf("1"))
	})
}

func TestStrategyIDFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, lock.StrategyID("lock_test.testDescriptor"), lock.StrategyIDFor[testDescriptor]())
	assert.Equal(t, lock.StrategyIDFor[testDescriptor](), lock.StrategyIDFor[*testDescriptor]())
	assert.NotEqual(t, lock.StrategyIDFor[testDescriptor](), lock.StrategyIDFor[otherDescriptor]())
}

func TestNewIdentity(t *testing.T) {
	t.Parallel()

	t.Run("unique ids are distinct", func(t *testing.T) {
		t.Parallel()

		seen := make(map[string]struct{})

		for range 1000 {
			d := newTestDescriptor("same")

			_, dup := seen[d.UniqueID().String()]
			require.False(t, dup)

			seen[d.UniqueID().String()] = struct{}{}
		}
	})

	t.Run("unique ids are distinct under concurrent creation", func(t *testing.T) {
		t.Parallel()

		const (
			workers   = 50
			perWorker = 100
		)

		var (
			mu  sync.Mutex
			ids = make([]uuid.UUID, 0, workers*perWorker)
			wg  sync.WaitGroup
		)

		for range workers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				local := make([]uuid.UUID, 0, perWorker)
				for range perWorker {
					local = append(local, newTestDescriptor("same").UniqueID())
				}

				mu.Lock()
				ids = append(ids, local...)
				mu.Unlock()
			}()
		}

		wg.Wait()

		seen := make(map[uuid.UUID]struct{}, len(ids))
		for _, id := range ids {
			seen[id] = struct{}{}
		}

		assert.Len(t, ids, workers*perWorker)
		assert.Len(t, seen, workers*perWorker)
	})

	t.Run("fields are kept", func(t *testing.T) {
		t.Parallel()

		d := newTestDescriptor("checkout")

		assert.Equal(t, lock.StrategyID("test"), d.StrategyID())
		assert.Equal(t, "checkout", d.ActionID())
	})

	t.Run("strategy id override", func(t *testing.T) {
		t.Parallel()

		i := lock.NewIdentity("test", "a", lock.WithStrategyID("custom"))
		assert.Equal(t, lock.StrategyID("custom"), i.StrategyID())

		i = lock.NewIdentity("test", "a", lock.WithStrategyID(""))
		assert.Equal(t, lock.StrategyID("test"), i.StrategyID())
	})

	t.Run("empty action id is allowed", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, newTestDescriptor("").ActionID())
	})
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := newTestDescriptor("same")
	b := newTestDescriptor("same")

	assert.True(t, lock.Equal(a, a))
	assert.False(t, lock.Equal(a, b), "same action id is not the same request")
	assert.True(t, lock.Equal(nil, nil))
	assert.False(t, lock.Equal(a, nil))
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		o := lock.Succeed()

		assert.True(t, o.Allowed())
		assert.True(t, o.IsSuccess())
		assert.False(t, o.CancelsPreceding())
		assert.Equal(t, "success", o.Kind.String())
	})

	t.Run("success with preceding cancellation", func(t *testing.T) {
		t.Parallel()

		held := newTestDescriptor("old")
		o := lock.SucceedCancelling(lock.ErrPrecedingActionCancelled, lock.Cancellation{Boundary: "b", Descriptor: held})

		assert.True(t, o.Allowed())
		assert.False(t, o.IsSuccess())
		assert.True(t, o.CancelsPreceding())
		assert.Len(t, o.Preceding, 1)
		assert.Equal(t, "success_with_preceding_cancellation", o.Kind.String())
	})

	t.Run("cancel", func(t *testing.T) {
		t.Parallel()

		o := lock.Reject(lock.ErrBoundaryAlreadyLocked)

		assert.False(t, o.Allowed())
		assert.True(t, o.IsCancel())
		require.ErrorIs(t, o.Reason, lock.ErrBoundaryAlreadyLocked)
		assert.Equal(t, "cancel", o.Kind.String())
	})
}

func TestConflictError(t *testing.T) {
	t.Parallel()

	requested := newTestDescriptor("new")
	existing := newTestDescriptor("old")

	t.Run("unwraps to the sentinel", func(t *testing.T) {
		t.Parallel()

		err := lock.Conflict(lock.ErrBoundaryAlreadyLocked, "b", requested, existing)

		require.ErrorIs(t, err, lock.ErrBoundaryAlreadyLocked)
		assert.Equal(t, `boundary already locked: boundary="b" existing="old"`, err.Error())
	})

	t.Run("concurrency detail", func(t *testing.T) {
		t.Parallel()

		err := lock.Conflict(lock.ErrConcurrencyLimitReached, "b", requested, nil)
		err.CurrentCount = 2
		err.Limit = 2

		assert.Equal(t, `concurrency limit reached: boundary="b" current=2 limit=2`, err.Error())
	})

	t.Run("group detail", func(t *testing.T) {
		t.Parallel()

		err := lock.Conflict(lock.ErrMemberCannotJoinEmptyGroup, "b", requested, nil)
		err.GroupID = "g1"

		assert.Equal(t, `member cannot join empty group: boundary="b" group="g1"`, err.Error())
	})

	t.Run("cancellation error wraps the conflict", func(t *testing.T) {
		t.Parallel()

		conflict := lock.Conflict(lock.ErrHigherPriorityExists, "b", requested, existing)
		err := lock.NewCancellationError("b", requested, conflict)

		assert.Equal(t, "new", err.ActionID)
		assert.Equal(t, requested.UniqueID(), err.UniqueID)
		require.ErrorIs(t, err, lock.ErrHigherPriorityExists)

		var ce *lock.ConflictError

		require.True(t, errors.As(err, &ce))
		assert.Same(t, conflict, ce)
	})
}
