package keepawake

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Manager owns the inhibitor lifecycle: one held handle at most, with a
// watcher that notices the inhibitor dying out from under us.
type Manager struct {
	mu sync.Mutex

	adapter Adapter
	now     func() time.Time

	status  Status
	enabled bool
	handle  Handle
	closed  bool

	// gen invalidates stale watchers after a release or reacquire.
	gen uint64
}

// NewManager creates a manager around the given adapter.
func NewManager(adapter Adapter, opts Options) *Manager {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		adapter: adapter,
		now:     nowFn,
		status: Status{
			State:     StateOff,
			UpdatedAt: nowFn(),
		},
	}
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Enable acquires the inhibitor. Calling it again while the inhibitor
// is healthy is a no-op; calling it after the inhibitor died reacquires.
func (m *Manager) Enable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}

	if m.enabled && m.handle != nil {
		select {
		case <-m.handle.Done():
			msg := "sleep inhibitor exited unexpectedly"
			if err := m.handle.Err(); err != nil {
				msg = err.Error()
			}
			m.handle = nil
			m.gen++
			m.transitionLocked(StateDegraded, ReasonInhibitorExited, msg)
		default:
			defer m.mu.Unlock()
			return m.status
		}
	}

	m.enabled = true
	m.transitionLocked(StatePending, "", "")
	m.mu.Unlock()

	handle, err := m.adapter.Acquire(ctx)
	if err != nil {
		reason := ReasonAcquireFailed
		if errors.Is(err, ErrUnsupported) {
			reason = ReasonUnsupported
		}
		m.mu.Lock()
		m.transitionLocked(StateDegraded, reason, err.Error())
		st := m.status
		m.mu.Unlock()
		return st
	}

	m.mu.Lock()
	if !m.enabled || m.closed || m.handle != nil {
		// Disabled, closed, or beaten by a concurrent enable while the
		// acquire was in flight. Whoever changed the state also set the
		// status; our handle just goes away again.
		m.mu.Unlock()
		_ = handle.Release(context.Background())
		m.mu.Lock()
		st := m.status
		m.mu.Unlock()
		return st
	}

	m.handle = handle
	m.gen++
	gen := m.gen
	m.transitionLocked(StateOn, "", "")
	st := m.status
	m.mu.Unlock()

	go m.watchHandle(handle, gen)
	return st
}

// Disable releases the inhibitor, if held.
func (m *Manager) Disable(ctx context.Context) Status {
	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}

	m.enabled = false
	handle := m.handle
	m.handle = nil
	m.gen++
	m.transitionLocked(StateOff, "", "")
	st := m.status
	m.mu.Unlock()

	if handle == nil {
		return st
	}

	if err := handle.Release(ctx); err != nil {
		m.mu.Lock()
		m.status.LastError = err.Error()
		m.status.UpdatedAt = m.now()
		st = m.status
		m.mu.Unlock()
	}
	return st
}

// Close releases any held inhibitor and shuts the manager down.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.enabled = false
	handle := m.handle
	m.handle = nil
	m.gen++
	m.transitionLocked(StateOff, "", "")
	m.mu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.Release(ctx)
}

// watchHandle marks the state degraded when the held inhibitor exits
// while still wanted. The generation check discards watchers whose
// handle was already released or replaced.
func (m *Manager) watchHandle(handle Handle, gen uint64) {
	<-handle.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle != handle || m.gen != gen {
		return
	}
	if !m.enabled || m.closed {
		return
	}

	msg := "sleep inhibitor exited unexpectedly"
	if err := handle.Err(); err != nil {
		msg = err.Error()
	}

	m.handle = nil
	m.transitionLocked(StateDegraded, ReasonInhibitorExited, msg)
}

func (m *Manager) transitionLocked(next State, reason Reason, lastErr string) {
	m.status.State = next
	m.status.Reason = reason
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
}
