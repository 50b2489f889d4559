package lock

// Keeper implements the state-handling half of Strategy on top of a Store.
// Strategies embed a *Keeper and add their own CanLock.
//
// Descriptors of any type other than D are ignored by Lock and Unlock.
type Keeper[D Descriptor] struct {
	id    StrategyID
	store *Store[D]
}

// NewKeeper returns a Keeper identified by id with an empty Store.
func NewKeeper[D Descriptor](id StrategyID) *Keeper[D] {
	return &Keeper[D]{
		id:    id,
		store: NewStore[D](),
	}
}

// ID returns the strategy id.
func (k *Keeper[D]) ID() StrategyID { return k.id }

// Store returns the underlying Store.
func (k *Keeper[D]) Store() *Store[D] { return k.store }

// Lock adds d to boundary.
func (k *Keeper[D]) Lock(boundary Boundary, d Descriptor) {
	if td, ok := d.(D); ok {
		k.store.Add(boundary, td)
	}
}

// Unlock removes d from boundary.
func (k *Keeper[D]) Unlock(boundary Boundary, d Descriptor) {
	if td, ok := d.(D); ok {
		k.store.Remove(boundary, td)
	}
}

// CleanUp removes every lock held by the strategy.
func (k *Keeper[D]) CleanUp() { k.store.RemoveAll() }

// CleanUpBoundary removes every lock held by the strategy in boundary.
func (k *Keeper[D]) CleanUpBoundary(boundary Boundary) { k.store.RemoveBoundary(boundary) }

// CurrentLocks returns a type-erased snapshot of every boundary.
func (k *Keeper[D]) CurrentLocks() map[Boundary][]Descriptor {
	snapshot := k.store.Snapshot()

	locks := make(map[Boundary][]Descriptor, len(snapshot))
	for b, ds := range snapshot {
		erased := make([]Descriptor, len(ds))
		for i, d := range ds {
			erased[i] = d
		}

		locks[b] = erased
	}

	return locks
}

// Unsupported returns the rejection used when a strategy receives a descriptor
// it cannot decide on.
func Unsupported(boundary Boundary, d Descriptor) Outcome {
	return Reject(Conflict(ErrUnsupportedDescriptor, boundary, d, nil))
}
