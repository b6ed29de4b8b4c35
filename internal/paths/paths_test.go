package paths

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDir(t *testing.T) {
	base := t.TempDir()

	t.Run("empty returns base", func(t *testing.T) {
		got, err := ResolveDir("", base)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})

	t.Run("relative joins under base", func(t *testing.T) {
		got, err := ResolveDir("music/new", base)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "music", "new"), got)
	})

	t.Run("absolute inside base accepted", func(t *testing.T) {
		got, err := ResolveDir(filepath.Join(base, "sub"), base)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "sub"), got)
	})

	t.Run("traversal escape rejected", func(t *testing.T) {
		_, err := ResolveDir("../outside", base)
		assert.Error(t, err)
	})

	t.Run("absolute escape rejected", func(t *testing.T) {
		_, err := ResolveDir("/etc", base)
		assert.Error(t, err)
	})

	t.Run("symlink escape rejected", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(base, "link")
		require.NoError(t, os.Symlink(outside, link))
		_, err := ResolveDir("link/file", base)
		assert.Error(t, err)
	})
}

func TestResolveConfigPath(t *testing.T) {
	roots := Roots{ConfigDir: t.TempDir()}

	got, err := roots.ResolveConfigPath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(roots.ConfigDir, "config.json"), got)

	got, err = roots.ResolveConfigPath("alt.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(roots.ConfigDir, "alt.json"), got)

	_, err = roots.ResolveConfigPath("/tmp/evil.json")
	assert.Error(t, err)

	_, err = roots.ResolveConfigPath("../evil.json")
	assert.Error(t, err)
}

func TestBuildEnginePaths(t *testing.T) {
	roots := Roots{
		ConfigDir:    "/c",
		DataDir:      "/d",
		DownloadsDir: "/dl",
		LogDir:       "/l",
		TokensDir:    "/t",
	}
	ep := roots.BuildEnginePaths()
	assert.Equal(t, "/d/database/main.db", ep.DBPath)
	assert.Equal(t, "/d/database/search.db", ep.SearchDBPath)
	assert.Equal(t, "/d/temp_downloads", ep.TempDownloadsDir)
	assert.Equal(t, "/d/tmp/tubevault.lock", ep.LockFile)
	assert.Equal(t, "/d/tmp/yt-dlp", ep.YtdlpTempDir)
	assert.Equal(t, "/dl", ep.SingleDownloadsDir)
}

func TestLock(t *testing.T) {
	dir := t.TempDir()
	lock := filepath.Join(dir, "run.lock")

	require.NoError(t, AcquireLock(lock))

	// Same live pid holds the lock, second acquire refuses.
	err := AcquireLock(lock)
	assert.ErrorIs(t, err, ErrRunLocked)

	ReleaseLock(lock)
	_, statErr := os.Stat(lock)
	assert.True(t, os.IsNotExist(statErr))

	// Stale lock with a dead pid is replaced.
	require.NoError(t, os.WriteFile(lock, []byte(strconv.Itoa(1<<22+12345)), 0o644))
	require.NoError(t, AcquireLock(lock))
	ReleaseLock(lock)
}
