package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Corpus implements ports.Corpus over the tree the mutation pipeline writes into:
// <root>/<media>/<STATE>/*.raw, or <root>/<STATE>/*.raw for a media-less corpus.
type Corpus struct {
	Root string
	Ext  string
}

// NewCorpus creates a corpus rooted at root.
func NewCorpus(root string) *Corpus {
	return &Corpus{Root: root, Ext: DefaultExt}
}

// Dir returns the directory holding the candidates of a pair.
func (c *Corpus) Dir(key domain.PairKey) string {
	if key.Media == "" {
		return filepath.Join(c.Root, key.State)
	}
	return filepath.Join(c.Root, key.Media, key.State)
}

// List returns candidate paths sorted by name.
func (c *Corpus) List(ctx context.Context, key domain.PairKey) ([]string, error) {
	dir := c.Dir(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list corpus %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if c.Ext != "" && filepath.Ext(entry.Name()) != c.Ext {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Read loads a mutation file.
func (c *Corpus) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrMissingMutation)
		}
		return nil, fmt.Errorf("failed to read mutation file: %w", err)
	}
	return data, nil
}

// Consume deletes a mutation file. A file that is already gone is not an error.
func (c *Corpus) Consume(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete mutation file: %w", err)
	}
	return nil
}
