package lock

import (
	"fmt"
	"sync/atomic"
	"time"
)

// UnlockMode selects when a released lock is removed from its strategy.
type UnlockMode int

const (
	// UnlockModeImmediate removes the lock before Release returns.
	UnlockModeImmediate UnlockMode = iota

	// UnlockModeNextTick schedules the removal on a new goroutine.
	UnlockModeNextTick

	// UnlockModeDelayed schedules the removal after UnlockPolicy.Delay.
	UnlockModeDelayed
)

// UnlockPolicy describes how a release is committed.
type UnlockPolicy struct {
	Mode  UnlockMode
	Delay time.Duration
}

// UnlockImmediately returns the policy releasing locks synchronously.
func UnlockImmediately() UnlockPolicy { return UnlockPolicy{Mode: UnlockModeImmediate} }

// UnlockOnNextTick returns the policy deferring releases to a new goroutine.
func UnlockOnNextTick() UnlockPolicy { return UnlockPolicy{Mode: UnlockModeNextTick} }

// UnlockAfter returns the policy deferring releases by d. A non-positive d
// behaves like UnlockImmediately.
func UnlockAfter(d time.Duration) UnlockPolicy {
	if d <= 0 {
		return UnlockImmediately()
	}

	return UnlockPolicy{Mode: UnlockModeDelayed, Delay: d}
}

// ParseUnlockPolicy parses "immediate", "next-tick" or "delayed". delay is only
// used by "delayed".
func ParseUnlockPolicy(s string, delay time.Duration) (UnlockPolicy, error) {
	switch s {
	case "", "immediate":
		return UnlockImmediately(), nil
	case "next-tick":
		return UnlockOnNextTick(), nil
	case "delayed":
		return UnlockAfter(delay), nil
	default:
		return UnlockPolicy{}, fmt.Errorf("%w: %q", ErrUnknownUnlockPolicy, s)
	}
}

// String implements fmt.Stringer.
func (p UnlockPolicy) String() string {
	switch p.Mode {
	case UnlockModeImmediate:
		return "immediate"
	case UnlockModeNextTick:
		return "next-tick"
	case UnlockModeDelayed:
		return "delayed(" + p.Delay.String() + ")"
	default:
		return "unknown"
	}
}

// Config holds the process-wide settings of the coordination layer.
type Config struct {
	// UnlockPolicy is applied by releases that do not override it.
	UnlockPolicy UnlockPolicy

	// SurfaceCancellationErrors controls whether cancelled preceding locks are
	// reported to failure handlers in addition to rejected requests.
	SurfaceCancellationErrors bool

	// Debug logs every lock decision at info level instead of debug level.
	Debug bool
}

// DefaultConfig returns the settings in effect until SetConfig is called.
func DefaultConfig() Config {
	return Config{
		UnlockPolicy:              UnlockImmediately(),
		SurfaceCancellationErrors: true,
		Debug:                     false,
	}
}

//nolint:gochecknoglobals
var current atomic.Pointer[Config]

// CurrentConfig returns a copy of the process-wide settings.
func CurrentConfig() Config {
	if cfg := current.Load(); cfg != nil {
		return *cfg
	}

	return DefaultConfig()
}

// SetConfig replaces the process-wide settings.
func SetConfig(cfg Config) { current.Store(&cfg) }

// UpdateConfig applies fn to the process-wide settings atomically with respect
// to other UpdateConfig calls.
func UpdateConfig(fn func(*Config)) {
	for {
		old := current.Load()

		var next Config
		if old != nil {
			next = *old
		} else {
			next = DefaultConfig()
		}

		fn(&next)

		if current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// ResetConfig restores DefaultConfig.
func ResetConfig() { current.Store(nil) }
