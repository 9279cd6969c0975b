package memory

import (
	"fmt"
	"sync"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Store implements ports.MessageStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory message store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// NewStoreFrom creates a store seeded with payloads keyed by state name.
// Keys may also use the "STATE_media" form for media-specific payloads.
func NewStoreFrom(payloads map[string]string) *Store {
	s := NewStore()
	for k, v := range payloads {
		s.data[k] = []byte(v)
	}
	return s
}

// Put registers a payload. An empty media makes it the generic payload of state.
func (s *Store) Put(state, media string, payload []byte) {
	key := state
	if media != "" {
		key = state + "_" + media
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = copied
}

// Payload returns the payload for state, preferring the media-specific one.
func (s *Store) Payload(state, media string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if media != "" {
		if p, ok := s.data[state+"_"+media]; ok {
			return clone(p), nil
		}
	}
	if p, ok := s.data[state]; ok {
		return clone(p), nil
	}
	return nil, fmt.Errorf("%s (media %q): %w", state, media, domain.ErrMissingPayload)
}

// Create a copy on read so callers can't mutate store state.
func clone(p []byte) []byte {
	ret := make([]byte, len(p))
	copy(ret, p)
	return ret
}
