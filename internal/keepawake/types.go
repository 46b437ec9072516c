// Package keepawake holds a system sleep inhibitor while the daemon
// runs, so reader polling and the companion feed survive an otherwise
// idle host. The inhibitor is process-scoped: a crashed daemon never
// leaves the machine pinned awake.
package keepawake

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported reports that this host has no usable sleep inhibitor.
var ErrUnsupported = errors.New("keep-awake is not supported")

// State is the inhibitor lifecycle state.
type State string

const (
	// StateOff means no inhibitor is held and none is wanted.
	StateOff State = "off"

	// StatePending means an inhibitor acquire is in flight.
	StatePending State = "pending"

	// StateOn means the inhibitor is active.
	StateOn State = "on"

	// StateDegraded means keep-awake is wanted but could not be
	// established or kept; the host may sleep.
	StateDegraded State = "degraded"
)

// Reason says why keep-awake is degraded.
type Reason string

const (
	// ReasonUnsupported means the platform has no inhibitor path.
	ReasonUnsupported Reason = "unsupported"

	// ReasonAcquireFailed means starting the inhibitor failed.
	ReasonAcquireFailed Reason = "acquire_failed"

	// ReasonInhibitorExited means a held inhibitor died unexpectedly.
	ReasonInhibitorExited Reason = "inhibitor_exited"
)

// Status is a snapshot of the manager's state.
type Status struct {
	State State

	// Reason is set while State is degraded.
	Reason Reason

	// LastError is the most recent lifecycle failure, if any.
	LastError string

	UpdatedAt time.Time
}

// Handle is one acquired sleep inhibitor.
type Handle interface {
	// Done is closed when the inhibitor exits, expectedly or not.
	Done() <-chan struct{}

	// Err returns the inhibitor's exit error once Done is closed.
	// A released inhibitor exits with a nil error.
	Err() error

	// Release shuts the inhibitor down, escalating if the context
	// expires first.
	Release(ctx context.Context) error
}

// Adapter acquires platform-specific sleep inhibitors.
type Adapter interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Options configures a Manager.
type Options struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// PowerSnapshot is a point-in-time reading of the host power source.
// Nil fields mean the reading is unavailable on this platform.
type PowerSnapshot struct {
	OnBattery      *bool
	ExternalPower  *bool
	BatteryPercent *int
}

// PowerProvider reads the host power source.
type PowerProvider interface {
	Snapshot() PowerSnapshot
}
