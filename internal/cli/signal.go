package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled by the first SIGINT or SIGTERM, which lets the trial in
// flight finish its teardown. A second signal calls Force, which by default exits
// the process with ExitInterrupted.
type SignalContext struct {
	context.Context
	Cancel func()

	// Force runs on the second signal. It is read once, when that signal arrives.
	Force func(os.Signal)

	sigCh  chan os.Signal
	done   chan struct{}
	stop   sync.Once
	mu     sync.Mutex
	sigVal os.Signal
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// Call Stop to release the signal handler.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		Force:   func(os.Signal) { os.Exit(ExitInterrupted) },
		sigCh:   make(chan os.Signal, 2),
		done:    make(chan struct{}),
	}
	signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
	go sc.loop()
	return sc
}

func (sc *SignalContext) loop() {
	select {
	case sig := <-sc.sigCh:
		sc.mu.Lock()
		sc.sigVal = sig
		force := sc.Force
		sc.mu.Unlock()
		sc.Cancel()

		select {
		case sig := <-sc.sigCh:
			if force != nil {
				force(sig)
			}
		case <-sc.done:
		}
	case <-sc.done:
	}
}

// Stop cancels the context and releases the signal handler. Safe to call twice.
func (sc *SignalContext) Stop() {
	sc.stop.Do(func() {
		signal.Stop(sc.sigCh)
		sc.Cancel()
		close(sc.done)
	})
}

// Signal returns the first signal received, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}
