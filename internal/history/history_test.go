package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndIsDownloaded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.IsDownloaded(ctx, "vid1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordDownload(ctx, "vid1", "PL1", "/downloads/a.mp4"))
	ok, err = s.IsDownloaded(ctx, "vid1")
	require.NoError(t, err)
	assert.True(t, ok)

}

func TestRecordDownloadNeverMutates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordDownload(ctx, "vid1", "PL1", "/downloads/a.mp4"))
	// A second insert for the same video collapses silently; the original
	// row keeps its playlist and filepath.
	require.NoError(t, s.RecordDownload(ctx, "vid1", "PL2", "/downloads/b.mp4"))

	entries, err := s.Query(ctx, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PL1", entries[0].PlaylistID)
	assert.Equal(t, "/downloads/a.mp4", entries[0].Filepath)
}

func TestSeenTracking(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	seen, err := s.HasSeen(ctx, "PL1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen(ctx, "PL1", "v1", false))
	require.NoError(t, s.MarkSeen(ctx, "PL1", "v2", false))

	seen, err = s.HasSeen(ctx, "PL1")
	require.NoError(t, err)
	assert.True(t, seen)

	ok, err := s.IsSeen(ctx, "PL1", "v1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.IsSeen(ctx, "PL2", "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Marking seen again must not reset first_seen_at or downloaded.
	require.NoError(t, s.MarkDownloaded(ctx, "PL1", "v1"))
	require.NoError(t, s.MarkSeen(ctx, "PL1", "v1", false))
	var downloaded int
	err = s.DB().QueryRow(
		"SELECT downloaded FROM playlist_videos WHERE playlist_id='PL1' AND video_id='v1'").Scan(&downloaded)
	require.NoError(t, err)
	assert.Equal(t, 1, downloaded)
}

func TestQueryFiltersAndSort(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	big := filepath.Join(dir, "bravo.mp4")
	small := filepath.Join(dir, "alpha.mp4")
	require.NoError(t, os.WriteFile(big, make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(small, make([]byte, 16), 0o644))

	require.NoError(t, s.RecordDownload(ctx, "v1", "PL1", big))
	require.NoError(t, s.RecordDownload(ctx, "v2", "PL2", small))
	require.NoError(t, s.RecordDownload(ctx, "v3", "PL1", filepath.Join(dir, "missing.mp4")))

	byPlaylist, err := s.Query(ctx, QueryOptions{PlaylistID: "PL1"})
	require.NoError(t, err)
	assert.Len(t, byPlaylist, 2)

	bySearch, err := s.Query(ctx, QueryOptions{Search: "alpha"})
	require.NoError(t, err)
	require.Len(t, bySearch, 1)
	assert.Equal(t, "v2", bySearch[0].VideoID)

	byTitle, err := s.Query(ctx, QueryOptions{SortBy: "title", SortDir: "asc"})
	require.NoError(t, err)
	require.Len(t, byTitle, 3)
	assert.Equal(t, "alpha.mp4", filepath.Base(byTitle[0].Filepath))

	bySize, err := s.Query(ctx, QueryOptions{SortBy: "size", SortDir: "desc"})
	require.NoError(t, err)
	require.Len(t, bySize, 3)
	assert.Equal(t, "v1", bySize[0].VideoID)
	// Missing file sorts last regardless of direction.
	assert.Equal(t, "v3", bySize[2].VideoID)

	limited, err := s.Query(ctx, QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWatchBookkeeping(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	next := time.Now().Add(30 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, s.TouchWatch(ctx, "PL1", true, next, 30))

	got, err := s.NextPollAt(ctx, "PL1")
	require.NoError(t, err)
	assert.WithinDuration(t, next, got, time.Second)

	require.NoError(t, s.TouchWatch(ctx, "PL1", false, next.Add(time.Hour), 60))
	var noChange int
	require.NoError(t, s.DB().QueryRow(
		"SELECT consecutive_no_change FROM playlist_watch WHERE playlist_id='PL1'").Scan(&noChange))
	assert.Equal(t, 1, noChange)

	require.NoError(t, s.RecordPlaylistError(ctx, "PL1", "fetch failed"))
	var lastErr string
	require.NoError(t, s.DB().QueryRow(
		"SELECT last_error FROM playlist_watch WHERE playlist_id='PL1'").Scan(&lastErr))
	assert.Equal(t, "fetch failed", lastErr)

	missing, err := s.NextPollAt(ctx, "PL404")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}
