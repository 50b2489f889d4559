package lock

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// numShards is the number of independently locked partitions of a Store.
// Must be a power of two.
const numShards = 32

// Store is a concurrent map from Boundary to the locks held in it, with a
// secondary index by action id. Boundaries are spread over shards so that
// callers working on different boundaries rarely contend.
//
// Every read returns a copy in insertion order; no method returns a live view.
// The zero value is not usable, create one with NewStore.
type Store[D Descriptor] struct {
	shards [numShards]storeShard[D]
}

type storeShard[D Descriptor] struct {
	mu         sync.RWMutex
	boundaries map[Boundary]*boundaryLocks[D]
}

// boundaryLocks holds the locks of one boundary. order keeps insertion order
// across all action ids; byAction keeps it per action id.
type boundaryLocks[D Descriptor] struct {
	order    []D
	byAction map[string][]D
}

// NewStore returns an empty Store.
func NewStore[D Descriptor]() *Store[D] {
	s := &Store[D]{}
	for i := range s.shards {
		s.shards[i].boundaries = make(map[Boundary]*boundaryLocks[D])
	}

	return s
}

func (s *Store[D]) shard(boundary Boundary) *storeShard[D] {
	return &s.shards[xxhash.Sum64String(string(boundary))&(numShards-1)]
}

// Add inserts d into boundary.
func (s *Store[D]) Add(boundary Boundary, d D) {
	sh := s.shard(boundary)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		bl = &boundaryLocks[D]{byAction: make(map[string][]D)}
		sh.boundaries[boundary] = bl
	}

	bl.order = append(bl.order, d)
	bl.byAction[d.ActionID()] = append(bl.byAction[d.ActionID()], d)
}

// Remove removes the descriptor with the unique id of d from boundary. It is a
// no-op if no such descriptor is held.
func (s *Store[D]) Remove(boundary Boundary, d D) {
	sh := s.shard(boundary)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return
	}

	idx := indexOf(bl.order, d)
	if idx < 0 {
		return
	}

	// the stored value carries the action id used for indexing
	stored := bl.order[idx]
	bl.order = deleteAt(bl.order, idx)

	actionID := stored.ActionID()
	if bucket := bl.byAction[actionID]; len(bucket) > 0 {
		if i := indexOf(bucket, d); i >= 0 {
			bucket = deleteAt(bucket, i)
		}

		if len(bucket) == 0 {
			delete(bl.byAction, actionID)
		} else {
			bl.byAction[actionID] = bucket
		}
	}

	if len(bl.order) == 0 {
		delete(sh.boundaries, boundary)
	}
}

// RemoveAction removes every descriptor of boundary whose action id is
// actionID. Descriptors with other action ids are kept.
func (s *Store[D]) RemoveAction(boundary Boundary, actionID string) {
	sh := s.shard(boundary)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return
	}

	if _, ok := bl.byAction[actionID]; !ok {
		return
	}

	delete(bl.byAction, actionID)

	kept := bl.order[:0]
	for _, d := range bl.order {
		if d.ActionID() != actionID {
			kept = append(kept, d)
		}
	}

	clearTail(bl.order, len(kept))
	bl.order = kept

	if len(bl.order) == 0 {
		delete(sh.boundaries, boundary)
	}
}

// RemoveBoundary removes every descriptor held in boundary.
func (s *Store[D]) RemoveBoundary(boundary Boundary) {
	sh := s.shard(boundary)

	sh.mu.Lock()
	delete(sh.boundaries, boundary)
	sh.mu.Unlock()
}

// RemoveAll empties the store.
func (s *Store[D]) RemoveAll() {
	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()
		sh.boundaries = make(map[Boundary]*boundaryLocks[D])
		sh.mu.Unlock()
	}
}

// Locks returns the descriptors held in boundary in insertion order.
func (s *Store[D]) Locks(boundary Boundary) []D {
	sh := s.shard(boundary)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return nil
	}

	return append([]D(nil), bl.order...)
}

// ActionLocks returns the descriptors of boundary with the given action id in
// insertion order.
func (s *Store[D]) ActionLocks(boundary Boundary, actionID string) []D {
	sh := s.shard(boundary)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return nil
	}

	return append([]D(nil), bl.byAction[actionID]...)
}

// HasActiveLocks reports whether boundary holds a descriptor with actionID.
func (s *Store[D]) HasActiveLocks(boundary Boundary, actionID string) bool {
	return s.ActiveLockCount(boundary, actionID) > 0
}

// ActiveLockCount returns the number of descriptors of boundary with actionID.
func (s *Store[D]) ActiveLockCount(boundary Boundary, actionID string) int {
	sh := s.shard(boundary)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return 0
	}

	return len(bl.byAction[actionID])
}

// Count returns the number of descriptors held in boundary.
func (s *Store[D]) Count(boundary Boundary) int {
	sh := s.shard(boundary)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return 0
	}

	return len(bl.order)
}

// ActiveKeys returns the distinct action ids held in boundary, sorted.
func (s *Store[D]) ActiveKeys(boundary Boundary) []string {
	sh := s.shard(boundary)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	bl, ok := sh.boundaries[boundary]
	if !ok {
		return nil
	}

	keys := make([]string, 0, len(bl.byAction))
	for k := range bl.byAction {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Boundaries returns every boundary holding at least one descriptor, sorted.
func (s *Store[D]) Boundaries() []Boundary {
	var boundaries []Boundary

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()
		for b := range sh.boundaries {
			boundaries = append(boundaries, b)
		}
		sh.mu.RUnlock()
	}

	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] })

	return boundaries
}

// Snapshot returns a copy of every boundary's descriptors.
func (s *Store[D]) Snapshot() map[Boundary][]D {
	snapshot := make(map[Boundary][]D)

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()
		for b, bl := range sh.boundaries {
			snapshot[b] = append([]D(nil), bl.order...)
		}
		sh.mu.RUnlock()
	}

	return snapshot
}

func indexOf[D Descriptor](ds []D, d D) int {
	id := d.UniqueID()
	for i := range ds {
		if ds[i].UniqueID() == id {
			return i
		}
	}

	return -1
}

// deleteAt removes index i preserving order and zeroes the freed slot.
func deleteAt[D any](ds []D, i int) []D {
	copy(ds[i:], ds[i+1:])

	var zero D

	ds[len(ds)-1] = zero

	return ds[:len(ds)-1]
}

func clearTail[D any](ds []D, from int) {
	var zero D
	for i := from; i < len(ds); i++ {
		ds[i] = zero
	}
}
