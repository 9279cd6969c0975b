package cli

import (
	"context"
	"errors"

	"github.com/aretw0/replayfuzz/internal/config"
	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitGeneric     = 1
	ExitConfig      = 2
	ExitTranscript  = 3
	ExitBackend     = 4
	ExitInterrupted = 130
)

// ErrBackend is returned when the ledger or lock backend cannot be used.
var ErrBackend = errors.New("ledger backend unavailable")

// ErrInterrupted is returned when a signal stopped the run.
var ErrInterrupted = errors.New("interrupted")

// ExitCode maps an error returned by this package to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, config.ErrInvalid):
		return ExitConfig
	case errors.Is(err, domain.ErrTranscript):
		return ExitTranscript
	case errors.Is(err, ErrBackend), errors.Is(err, domain.ErrLockAcquire):
		return ExitBackend
	}
	return ExitGeneric
}
