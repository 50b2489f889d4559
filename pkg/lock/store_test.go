package lock_test

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalbasit/actionlock/pkg/lock"
)

func TestStore_AddAndLocks(t *testing.T) {
	t.Parallel()

	s := lock.NewStore[*testDescriptor]()

	a := newTestDescriptor("a")
	b := newTestDescriptor("b")
	a2 := newTestDescriptor("a")

	s.Add("x", a)
	s.Add("x", b)
	s.Add("x", a2)

	assert.Equal(t, []*testDescriptor{a, b, a2}, s.Locks("x"))
	assert.Equal(t, []*testDescriptor{a, a2}, s.ActionLocks("x", "a"))
	assert.Equal(t, 3, s.Count("x"))
	assert.Equal(t, 2, s.ActiveLockCount("x", "a"))
	assert.True(t, s.HasActiveLocks("x", "b"))
	assert.False(t, s.HasActiveLocks("x", "c"))
	assert.Equal(t, []string{"a", "b"}, s.ActiveKeys("x"))

	t.Run("other boundaries are independent", func(t *testing.T) {
		t.Parallel()

		assert.Empty(t, s.Locks("y"))
		assert.Zero(t, s.Count("y"))
		assert.Nil(t, s.ActiveKeys("y"))
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := lock.NewStore[*testDescriptor]()
	a := newTestDescriptor("a")

	s.Add("x", a)

	locks := s.Locks("x")
	locks[0] = newTestDescriptor("z")

	assert.Same(t, a, s.Locks("x")[0])

	snapshot := s.Snapshot()
	snapshot["x"] = nil

	assert.Len(t, s.Snapshot()["x"], 1)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	t.Run("removes by unique id and keeps order", func(t *testing.T) {
		t.Parallel()

		s := lock.NewStore[*testDescriptor]()

		ds := make([]*testDescriptor, 5)
		for i := range ds {
			ds[i] = newTestDescriptor("a")
			s.Add("x", ds[i])
		}

		s.Remove("x", ds[2])

		assert.Equal(t, []*testDescriptor{ds[0], ds[1], ds[3], ds[4]}, s.Locks("x"))
		assert.Equal(t, []*testDescriptor{ds[0], ds[1], ds[3], ds[4]}, s.ActionLocks("x", "a"))
	})

	t.Run("same action id different instance is not removed", func(t *testing.T) {
		t.Parallel()

		s := lock.NewStore[*testDescriptor]()

		s.Add("x", newTestDescriptor("a"))
		s.Remove("x", newTestDescriptor("a"))

		assert.Equal(t, 1, s.Count("x"))
	})

	t.Run("absent descriptor is a no-op", func(t *testing.T) {
		t.Parallel()

		s := lock.NewStore[*testDescriptor]()

		assert.NotPanics(t, func() { s.Remove("nothing", newTestDescriptor("a")) })
	})

	t.Run("empty boundaries are dropped", func(t *testing.T) {
		t.Parallel()

		s := lock.NewStore[*testDescriptor]()
		a := newTestDescriptor("a")

		s.Add("x", a)
		s.Remove("x", a)

		assert.Empty(t, s.Boundaries())
		assert.Empty(t, s.Snapshot())
	})
}

func TestStore_RemoveAction(t *testing.T) {
	t.Parallel()

	s := lock.NewStore[*testDescriptor]()

	a1 := newTestDescriptor("a")
	b := newTestDescriptor("b")
	a2 := newTestDescriptor("a")

	s.Add("x", a1)
	s.Add("x", b)
	s.Add("x", a2)

	s.RemoveAction("x", "a")

	assert.Equal(t, []*testDescriptor{b}, s.Locks("x"))
	assert.False(t, s.HasActiveLocks("x", "a"))

	s.RemoveAction("x", "missing")
	assert.Equal(t, 1, s.Count("x"))

	s.RemoveAction("x", "b")
	assert.Empty(t, s.Boundaries())
}

func TestStore_RemoveBoundaryAndAll(t *testing.T) {
	t.Parallel()

	s := lock.NewStore[*testDescriptor]()

	s.Add("x", newTestDescriptor("a"))
	s.Add("y", newTestDescriptor("a"))
	s.Add("z", newTestDescriptor("a"))

	assert.Equal(t, []lock.Boundary{"x", "y", "z"}, s.Boundaries())

	s.RemoveBoundary("y")
	assert.Equal(t, []lock.Boundary{"x", "z"}, s.Boundaries())

	s.RemoveAll()
	assert.Empty(t, s.Boundaries())
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := lock.NewStore[*testDescriptor]()

	const (
		workers = 16
		perWork = 200
	)

	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			boundary := lock.Boundary("b" + strconv.Itoa(w%4))

			for range perWork {
				d := newTestDescriptor(strconv.Itoa(w))

				s.Add(boundary, d)
				_ = s.Locks(boundary)
				_ = s.Snapshot()
				s.Remove(boundary, d)
			}
		}()
	}

	wg.Wait()

	require.Empty(t, s.Boundaries())
}

func TestKeeper(t *testing.T) {
	t.Parallel()

	k := lock.NewKeeper[*testDescriptor]("test")

	d := newTestDescriptor("a")

	k.Lock("x", d)
	k.Lock("x", &otherDescriptor{Identity: lock.NewIdentity("test", "a")})

	assert.Equal(t, lock.StrategyID("test"), k.ID())
	assert.Equal(t, map[lock.Boundary][]lock.Descriptor{"x": {d}}, k.CurrentLocks())

	k.Unlock("x", &otherDescriptor{Identity: lock.NewIdentity("test", "a")})
	assert.Equal(t, 1, k.Store().Count("x"))

	k.Lock("y", newTestDescriptor("b"))
	k.CleanUpBoundary("x")
	assert.Equal(t, []lock.Boundary{"y"}, k.Store().Boundaries())

	k.CleanUp()
	assert.Empty(t, k.CurrentLocks())
}

func TestUnsupported(t *testing.T) {
	t.Parallel()

	o := lock.Unsupported("x", newTestDescriptor("a"))

	assert.True(t, o.IsCancel())
	require.ErrorIs(t, o.Reason, lock.ErrUnsupportedDescriptor)
}
