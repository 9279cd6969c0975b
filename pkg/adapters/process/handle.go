package process

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Handle owns one server process. It implements ports.ServerHandle.
type Handle struct {
	cmd         *exec.Cmd
	pid         int
	exited      chan struct{}
	waitErr     error
	signal      os.Signal
	stopTimeout time.Duration
	killTimeout time.Duration
	logger      *slog.Logger

	once    sync.Once
	stopErr error
}

// PID returns the process id, or 0 if the process never started.
func (h *Handle) PID() int {
	if h == nil {
		return 0
	}
	return h.pid
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	if h == nil || h.exited == nil {
		return true
	}
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error of an exited process. A crash shows up here as
// "signal: segmentation fault" or a non-zero exit status.
func (h *Handle) ExitErr() error {
	if h == nil || !h.Exited() {
		return nil
	}
	return h.waitErr
}

// Stop sends the stop signal, waits up to the stop timeout, then kills and reaps.
// It is idempotent and safe on a nil handle or an already exited process.
func (h *Handle) Stop() error {
	if h == nil || h.cmd == nil {
		return nil
	}
	h.once.Do(func() {
		h.stopErr = h.stop()
	})
	return h.stopErr
}

func (h *Handle) stop() error {
	if h.Exited() {
		return nil
	}

	if err := h.cmd.Process.Signal(h.signal); err != nil {
		// Already gone between the check and the signal.
		if h.wait(h.killTimeout) {
			return nil
		}
	} else if h.wait(h.stopTimeout) {
		return nil
	}

	h.logger.Warn("Server ignored stop signal, killing", "pid", h.pid, "signal", h.signal)
	if err := h.cmd.Process.Kill(); err != nil && !h.Exited() {
		return fmt.Errorf("failed to kill server %d: %w", h.pid, err)
	}
	if !h.wait(h.killTimeout) {
		return fmt.Errorf("server %d did not exit after kill", h.pid)
	}
	return nil
}

func (h *Handle) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-h.exited:
		return true
	case <-t.C:
		return false
	}
}
