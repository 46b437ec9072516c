//go:build darwin

package keepawake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// NewDefaultAdapter returns the macOS adapter, which runs caffeinate
// for the daemon's lifetime.
func NewDefaultAdapter() Adapter {
	return &darwinAdapter{
		hostPID: os.Getpid(),
		execCmd: exec.Command,
	}
}

type darwinAdapter struct {
	hostPID int
	execCmd func(name string, args ...string) *exec.Cmd
}

func (a *darwinAdapter) Acquire(ctx context.Context) (Handle, error) {
	// Idle-sleep inhibit only; display sleep stays untouched. The -w
	// flag ties caffeinate's lifetime to the daemon PID, so a crashed
	// daemon takes its inhibitor down with it.
	cmd := a.execCmd("caffeinate", "-i", "-w", strconv.Itoa(a.hostPID))
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: caffeinate is unavailable", ErrUnsupported)
		}
		return nil, fmt.Errorf("failed to start caffeinate: %w", err)
	}

	h := &darwinHandle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

type darwinHandle struct {
	cmd *exec.Cmd

	mu       sync.Mutex
	done     chan struct{}
	err      error
	released bool
	once     sync.Once
}

func (h *darwinHandle) wait() {
	err := h.cmd.Wait()

	h.mu.Lock()
	if h.released {
		// Exit caused by our own SIGTERM is not a failure.
		err = nil
	}
	h.err = err
	h.mu.Unlock()

	close(h.done)
}

func (h *darwinHandle) Done() <-chan struct{} {
	return h.done
}

func (h *darwinHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *darwinHandle) Release(ctx context.Context) error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	})

	select {
	case <-ctx.Done():
		// Escalate so an unkillable caffeinate cannot outlive us.
		_ = h.cmd.Process.Kill()
		select {
		case <-h.done:
		case <-time.After(200 * time.Millisecond):
		}
		return fmt.Errorf("release timed out waiting for caffeinate exit: %w", ctx.Err())
	case <-h.done:
		return nil
	}
}
