package domain

import "errors"

// ErrPortInUse is returned when the target address is already bound before launch.
var ErrPortInUse = errors.New("target address already in use")

// ErrLaunchFailure is returned when the server process cannot be created.
var ErrLaunchFailure = errors.New("server launch failed")

// ErrNotReady is returned when the readiness probe exhausts its attempts.
var ErrNotReady = errors.New("server not ready")

// ErrConnection is returned when the driver cannot open its transport connection.
var ErrConnection = errors.New("connection failed")

// ErrTimeout is returned when no response arrives within the per-message timeout.
var ErrTimeout = errors.New("no response before timeout")

// ErrMissingPayload is returned when a recorded message file does not exist.
var ErrMissingPayload = errors.New("recorded payload not found")

// ErrMissingMutation is returned when a mutation file disappeared before it was read.
var ErrMissingMutation = errors.New("mutation file not found")

// ErrTranscript is returned when a transcript cannot be loaded or is malformed.
var ErrTranscript = errors.New("invalid transcript")

// ErrNotFound is returned by ledgers and stores for unknown keys.
var ErrNotFound = errors.New("not found")

// ErrLockAcquire is returned when the target address lock cannot be taken.
var ErrLockAcquire = errors.New("failed to acquire target lock")
