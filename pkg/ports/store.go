package ports

import (
	"context"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// MessageStore resolves recorded, unmutated payloads.
type MessageStore interface {
	// Payload returns the raw bytes recorded for state under the given media variant.
	// Returns domain.ErrMissingPayload if no file exists.
	Payload(state, media string) ([]byte, error)
}

// Corpus is the mutation candidate tree that an external pipeline keeps filling.
// Files may appear or disappear at any moment.
type Corpus interface {
	// List returns candidate paths for a pair, in a stable order.
	// A missing directory yields an empty list, not an error.
	List(ctx context.Context, key domain.PairKey) ([]string, error)

	// Read loads a candidate. Returns domain.ErrMissingMutation if it vanished.
	Read(path string) ([]byte, error)

	// Consume removes a candidate after its single attempt. Missing files are not an error.
	Consume(path string) error
}

// Ledger persists which trials were consumed and the per-pair quota counters.
type Ledger interface {
	// Consumed reports whether path was already attempted in this run.
	Consumed(ctx context.Context, path string) (bool, error)

	// Record marks the trial consumed and increments the quota counter of its pair.
	Record(ctx context.Context, rec domain.TrialRecord) error

	// PairCount returns the quota counter of a pair in the current cycle.
	PairCount(ctx context.Context, key domain.PairKey) (int, error)

	// ResetPair sets the quota counter of a pair back to zero.
	ResetPair(ctx context.Context, key domain.PairKey) error

	// Stats summarizes every record.
	Stats(ctx context.Context) (domain.RunStats, error)
}

// Collector claims the coverage artifact produced by the last server instance.
type Collector interface {
	// Claim archives the newest artifact under label. Returns "" when there is none.
	Claim(label string) (string, error)
}
