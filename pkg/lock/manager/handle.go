package manager

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/kalbasit/actionlock/pkg/lock"
)

// Handle is a committed lock returned by Manager.Acquire.
type Handle struct {
	manager    *Manager
	strategy   lock.Strategy
	boundary   lock.Boundary
	descriptor lock.Descriptor
	acquiredAt time.Time

	released atomic.Bool
}

// Boundary returns the boundary the lock is held in.
func (h *Handle) Boundary() lock.Boundary { return h.boundary }

// Descriptor returns the held descriptor.
func (h *Handle) Descriptor() lock.Descriptor { return h.descriptor }

// AcquiredAt returns the time the lock was committed.
func (h *Handle) AcquiredAt() time.Time { return h.acquiredAt }

// Release releases the lock with the process-wide unlock policy. Only the
// first call has an effect.
func (h *Handle) Release(ctx context.Context) {
	h.ReleaseWith(ctx, lock.CurrentConfig().UnlockPolicy)
}

// ReleaseWith releases the lock with policy. Only the first call has an
// effect.
func (h *Handle) ReleaseWith(ctx context.Context, policy lock.UnlockPolicy) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}

	h.manager.release(ctx, h.strategy, h.boundary, h.descriptor, policy, h.acquiredAt)
}

// CurrentLocks returns the held locks of every strategy in the registry used
// for ctx.
func (m *Manager) CurrentLocks(ctx context.Context) map[lock.StrategyID]map[lock.Boundary][]lock.Descriptor {
	return m.Registry(ctx).CurrentLocks()
}

// PrintCurrentLocks writes a table of the held locks to w, sorted by strategy
// then boundary, in acquisition order within a boundary.
func (m *Manager) PrintCurrentLocks(ctx context.Context, w io.Writer) error {
	locks := m.CurrentLocks(ctx)

	strategies := make([]lock.StrategyID, 0, len(locks))
	for id := range locks {
		strategies = append(strategies, id)
	}

	sort.Slice(strategies, func(i, j int) bool { return strategies[i] < strategies[j] })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "STRATEGY\tBOUNDARY\tACTION\tUNIQUE ID"); err != nil {
		return fmt.Errorf("error writing the header: %w", err)
	}

	for _, id := range strategies {
		boundaries := make([]lock.Boundary, 0, len(locks[id]))
		for b := range locks[id] {
			boundaries = append(boundaries, b)
		}

		sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] })

		for _, b := range boundaries {
			for _, d := range locks[id][b] {
				if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, b, d.ActionID(), d.UniqueID()); err != nil {
					return fmt.Errorf("error writing a lock: %w", err)
				}
			}
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("error flushing the table: %w", err)
	}

	return nil
}
