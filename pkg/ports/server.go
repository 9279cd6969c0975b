package ports

import "context"

// ServerHandle is an owned server process.
type ServerHandle interface {
	// Stop terminates and reaps the process. It is idempotent.
	Stop() error

	// PID returns the process id, or 0 if the process never started.
	PID() int
}

// Launcher boots a fresh instrumented server.
type Launcher interface {
	// Start launches a server and waits until it accepts connections.
	// On failure the returned handle, if non-nil, is already stopped.
	Start(ctx context.Context, label string) (ServerHandle, error)
}
