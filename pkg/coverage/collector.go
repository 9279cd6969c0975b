// Package coverage archives the coverage dump a server writes when it exits.
//
// Identification is by newest modification time among files matching the server's
// dump pattern. That is only correct while one server instance runs at a time: a
// concurrent writer can make the collector claim another instance's dump.
package coverage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aretw0/replayfuzz/internal/logging"
)

// Collector implements ports.Collector.
type Collector struct {
	dir     string
	pattern string
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the Collector.
type Option func(*Collector)

// WithLogger configures a logger for the Collector.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithClock replaces the time source used in archive names.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// New creates a collector for dumps matching pattern (e.g. "live555MediaServer.*.sancov")
// inside dir. Archived names start with the trial label, so they never match again.
func New(dir, pattern string, opts ...Option) *Collector {
	c := &Collector{
		dir:     dir,
		pattern: pattern,
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the coverage directory.
func (c *Collector) Dir() string {
	return c.dir
}

// Claim renames the newest dump to <label>_<YYYYmmdd_HHMMSS><ext> and returns the
// new path. It returns "" when there is nothing to claim.
func (c *Collector) Claim(label string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, c.pattern))
	if err != nil {
		return "", fmt.Errorf("invalid coverage pattern %q: %w", c.pattern, err)
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest, newestMod = m, info.ModTime()
		}
	}
	if newest == "" {
		c.logger.Info("No coverage file found to rename", "label", label)
		return "", nil
	}

	ext := filepath.Ext(newest)
	base := fmt.Sprintf("%s_%s", label, c.now().Format("20060102_150405"))
	dest := filepath.Join(c.dir, base+ext)
	for i := 1; exists(dest); i++ {
		dest = filepath.Join(c.dir, base+"_"+strconv.Itoa(i)+ext)
	}

	if err := os.Rename(newest, dest); err != nil {
		return "", fmt.Errorf("failed to archive coverage file: %w", err)
	}
	c.logger.Info("Renamed coverage file", "from", filepath.Base(newest), "to", dest)
	return dest, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
