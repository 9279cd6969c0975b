package file

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/replayfuzz/internal/logging"
	"github.com/aretw0/replayfuzz/pkg/domain"
)

// FallbackPolicy decides what happens when the transcript file cannot be used.
type FallbackPolicy string

const (
	// FallbackDefault logs the error and continues with the fallback transcript.
	FallbackDefault FallbackPolicy = "default"
	// FallbackAbort returns the error.
	FallbackAbort FallbackPolicy = "abort"
)

type transcriptConfig struct {
	policy   FallbackPolicy
	fallback domain.Transcript
	logger   *slog.Logger
}

// TranscriptOption configures LoadTranscript.
type TranscriptOption func(*transcriptConfig)

// WithFallback sets the transcript used under FallbackDefault.
func WithFallback(tr domain.Transcript) TranscriptOption {
	return func(c *transcriptConfig) {
		c.fallback = tr
	}
}

// WithPolicy sets the fallback policy.
func WithPolicy(p FallbackPolicy) TranscriptOption {
	return func(c *transcriptConfig) {
		c.policy = p
	}
}

// WithTranscriptLogger logs fallback decisions.
func WithTranscriptLogger(logger *slog.Logger) TranscriptOption {
	return func(c *transcriptConfig) {
		c.logger = logger
	}
}

// LoadTranscript reads a JSON array of [state, expect] pairs.
// Errors wrap domain.ErrTranscript. Under FallbackDefault with a non-empty
// fallback, the error is logged and the fallback returned instead.
func LoadTranscript(path string, opts ...TranscriptOption) (domain.Transcript, error) {
	cfg := transcriptConfig{
		policy: FallbackDefault,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	tr, err := ParseTranscriptFile(path)
	if err == nil {
		return tr, nil
	}

	if cfg.policy == FallbackAbort || len(cfg.fallback) == 0 {
		return nil, err
	}
	cfg.logger.Error("Transcript unusable, using default", "path", path, "err", err, "states", cfg.fallback.States())
	return cfg.fallback, nil
}

// ParseTranscriptFile reads and validates a transcript without any fallback.
func ParseTranscriptFile(path string) (domain.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTranscript, err)
	}
	return ParseTranscript(data)
}

// ParseTranscript decodes and validates transcript bytes.
func ParseTranscript(data []byte) (domain.Transcript, error) {
	var tr domain.Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTranscript, err)
	}
	if len(tr) == 0 {
		return nil, fmt.Errorf("%w: transcript is empty", domain.ErrTranscript)
	}
	return tr, nil
}
