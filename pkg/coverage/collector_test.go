package coverage_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/replayfuzz/pkg/coverage"
	"github.com/aretw0/replayfuzz/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Collector = (*coverage.Collector)(nil)

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("cov"), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestClaim_NewestByMtime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	touch(t, filepath.Join(dir, "live555MediaServer.100.sancov"), base)
	touch(t, filepath.Join(dir, "live555MediaServer.200.sancov"), base.Add(time.Minute))
	touch(t, filepath.Join(dir, "other.300.sancov"), base.Add(2*time.Minute))

	c := coverage.New(dir, "live555MediaServer.*.sancov", coverage.WithClock(fixedClock))
	path, err := c.Claim("SETUP_mp3_pos3_v7")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "SETUP_mp3_pos3_v7_20250314_150926.sancov"), path)
	assert.NoFileExists(t, filepath.Join(dir, "live555MediaServer.200.sancov"))
	assert.FileExists(t, filepath.Join(dir, "live555MediaServer.100.sancov"), "older dumps are left alone")
	assert.FileExists(t, filepath.Join(dir, "other.300.sancov"))
}

func TestClaim_NothingToClaim(t *testing.T) {
	c := coverage.New(t.TempDir(), "mosquitto.*.sancov")
	path, err := c.Claim("CONNECT")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestClaim_CollisionSuffix(t *testing.T) {
	dir := t.TempDir()
	c := coverage.New(dir, "fftp.*.sancov", coverage.WithClock(fixedClock))

	touch(t, filepath.Join(dir, "fftp.1.sancov"), time.Now())
	first, err := c.Claim("USER")
	require.NoError(t, err)

	touch(t, filepath.Join(dir, "fftp.2.sancov"), time.Now())
	second, err := c.Claim("USER")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "USER_20250314_150926_1.sancov"), second)
}

func TestClaim_ArchivedNeverRematch(t *testing.T) {
	dir := t.TempDir()
	c := coverage.New(dir, "srv.*.sancov")

	touch(t, filepath.Join(dir, "srv.9.sancov"), time.Now())
	_, err := c.Claim("PLAY")
	require.NoError(t, err)

	again, err := c.Claim("PLAY")
	require.NoError(t, err)
	assert.Empty(t, again)
}
