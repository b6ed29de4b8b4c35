package delivery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return path
}

func TestPublishAndClaimOnce(t *testing.T) {
	r := NewRegistry(nil)
	path := writeFile(t, t.TempDir(), "song.mp3")

	h := r.Publish(path, "song.mp3")
	assert.NotEmpty(t, h.ID)
	assert.WithinDuration(t, time.Now().Add(TTL), h.ExpiresAt, 2*time.Second)

	peeked, err := r.Peek(h.ID)
	require.NoError(t, err)
	assert.Equal(t, "song.mp3", peeked.Filename)

	claimed, err := r.Claim(h.ID)
	require.NoError(t, err)
	assert.Equal(t, path, claimed.Path)

	// One-shot: a second claim or peek fails.
	_, err = r.Claim(h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Peek(h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownHandle(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Claim("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseRemovesFile(t *testing.T) {
	r := NewRegistry(nil)
	path := writeFile(t, t.TempDir(), "v.webm")
	h := r.Publish(path, "v.webm")

	r.Release(h.ID)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSweepReapsClaimedAndExpired(t *testing.T) {
	r := NewRegistry(nil)
	dir := t.TempDir()

	claimedPath := writeFile(t, dir, "claimed.mp3")
	h1 := r.Publish(claimedPath, "claimed.mp3")
	_, err := r.Claim(h1.ID)
	require.NoError(t, err)

	expiredPath := writeFile(t, dir, "expired.mp3")
	h2 := r.Publish(expiredPath, "expired.mp3")
	r.mu.Lock()
	r.handles[h2.ID].ExpiresAt = time.Now().Add(-time.Second)
	r.mu.Unlock()

	livePath := writeFile(t, dir, "live.mp3")
	h3 := r.Publish(livePath, "live.mp3")

	assert.Equal(t, 2, r.Sweep())
	_, err = os.Stat(claimedPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(expiredPath)
	assert.True(t, os.IsNotExist(err))

	_, err = r.Peek(h3.ID)
	assert.NoError(t, err)
}
