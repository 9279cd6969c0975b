package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// DefaultExt is the extension of recorded and mutated message files.
const DefaultExt = ".raw"

// Store implements ports.MessageStore over a directory of recorded messages named
// STATE_media.raw, with STATE.raw as the media independent fallback.
// Payloads are immutable during a run, so successful reads are cached.
type Store struct {
	BasePath string
	Ext      string

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewStore creates a message store rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{
		BasePath: basePath,
		Ext:      DefaultExt,
		cache:    make(map[string][]byte),
	}
}

// Payload returns the recorded bytes for state.
func (s *Store) Payload(state, media string) ([]byte, error) {
	var candidates []string
	if media != "" {
		candidates = append(candidates, filepath.Join(s.BasePath, state+"_"+media+s.Ext))
	}
	candidates = append(candidates, filepath.Join(s.BasePath, state+s.Ext))

	for _, path := range candidates {
		data, err := s.read(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read payload %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("%s (media %q) in %s: %w", state, media, s.BasePath, domain.ErrMissingPayload)
}

func (s *Store) read(path string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.cache[path]
	s.mu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[path] = data
	s.mu.Unlock()
	return data, nil
}
