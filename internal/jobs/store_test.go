package jobs

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "main.db")+"?_pragma=busy_timeout(30000)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func enqueueOne(t *testing.T, s *Store, url string) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), EnqueueRequest{
		Origin:      "playlist",
		OriginID:    "PL1",
		MediaType:   "video",
		MediaIntent: "episode",
		Source:      "youtube",
		URL:         url,
		OutputDir:   "/downloads",
	})
	require.NoError(t, err)
	return id
}

func TestEnqueueValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, EnqueueRequest{Origin: "webhook", MediaType: "video", MediaIntent: "episode", Source: "youtube", URL: "u", OutputDir: "/d"})
	assert.ErrorContains(t, err, "invalid origin")

	_, err = s.Enqueue(ctx, EnqueueRequest{Origin: "playlist", MediaType: "text", MediaIntent: "episode", Source: "youtube", URL: "u", OutputDir: "/d"})
	assert.ErrorContains(t, err, "invalid media_type")

	_, err = s.Enqueue(ctx, EnqueueRequest{Origin: "playlist", MediaType: "video", MediaIntent: "clip", Source: "youtube", URL: "u", OutputDir: "/d"})
	assert.ErrorContains(t, err, "invalid media_intent")

	_, err = s.Enqueue(ctx, EnqueueRequest{Origin: "playlist", MediaType: "video", MediaIntent: "episode", Source: "youtube", URL: "u", OutputDir: ""})
	assert.ErrorContains(t, err, "output_dir is required")
}

func TestImmutableFieldsBlocked(t *testing.T) {
	s := newStore(t)
	id := enqueueOne(t, s, "https://example.com/v1")

	for _, stmt := range []string{
		"UPDATE download_jobs SET url='https://example.com/other' WHERE id=?",
		"UPDATE download_jobs SET source='vimeo' WHERE id=?",
		"UPDATE download_jobs SET output_template='x' WHERE id=?",
		"UPDATE download_jobs SET media_intent='movie' WHERE id=?",
	} {
		_, err := s.db.Exec(stmt, id)
		require.Error(t, err)
		assert.True(t, IsImmutableViolation(err), "expected trigger abort for %q", stmt)
	}

	// Mutable fields still update fine.
	_, err := s.db.Exec("UPDATE download_jobs SET last_error='x' WHERE id=?", id)
	assert.NoError(t, err)
}

func TestClaimOrderFIFO(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := enqueueOne(t, s, "https://example.com/a")
	second := enqueueOne(t, s, "https://example.com/b")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first, job.ID)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 0, job.Attempts)

	job2, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NotNil(t, job2)
	assert.Equal(t, second, job2.ID)

	none, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	const jobCount = 8
	for i := 0; i < jobCount; i++ {
		enqueueOne(t, s, "https://example.com/v"+strconv.Itoa(i))
	}

	// Racing claimers serialize on the write lock taken at BEGIN, so every
	// job lands with exactly one of them.
	claims := make(chan string, jobCount*2)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(ctx, "youtube")
				if !assert.NoError(t, err) {
					return
				}
				if job == nil {
					return
				}
				claims <- job.ID
			}
		}()
	}
	wg.Wait()
	close(claims)

	seen := map[string]bool{}
	for id := range claims {
		assert.False(t, seen[id], "job %s claimed twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, jobCount)
}

func TestClaimSkipsFutureQueued(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := enqueueOne(t, s, "https://example.com/a")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NotNil(t, job)

	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, s.MarkFailed(ctx, job, "timed out", retryAt, 0))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "timed out", got.LastError)

	// Not claimable until retryAt passes.
	none, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	assert.Nil(t, none)

	next, err := s.NextReadyTime(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, retryAt, next, 2*time.Second)
}

func TestMarkTransitions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueueOne(t, s, "https://example.com/a")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, job))
	// Second completion is a rejected transition.
	assert.ErrorIs(t, s.MarkCompleted(ctx, job), ErrNotTransitioned)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Completed)
}

func TestTerminalFailure(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueueOne(t, s, "https://example.com/a")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, job, "private video", time.Time{}, 0))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotEmpty(t, got.Failed)

	none, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMarkCanceled(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueueOne(t, s, "https://example.com/a")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NoError(t, s.MarkCanceled(ctx, job, "canceled before start"))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, got.Status)
	assert.Equal(t, "canceled before start", got.LastError)
}

func TestDedupHelpers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueueOne(t, s, "https://example.com/a")

	active, err := s.HasActiveJob(ctx, "youtube", "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.HasActiveJob(ctx, "youtube", "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, active)

	byOrigin, err := s.HasJobForOrigin(ctx, "playlist", "PL1", "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, byOrigin)

	sources, err := s.ListReadySources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube"}, sources)
}

func TestCountsListAndPrune(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	enqueueOne(t, s, "https://example.com/a")
	enqueueOne(t, s, "https://example.com/b")

	job, err := s.ClaimNext(ctx, "youtube")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, job))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusQueued])
	assert.Equal(t, 1, counts[StatusCompleted])

	queued, err := s.List(ctx, StatusQueued, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	pruned, err := s.PruneTerminal(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)
}

func TestContextRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Enqueue(ctx, EnqueueRequest{
		Origin:      "search",
		OriginID:    "req-1",
		MediaType:   "audio",
		MediaIntent: "track",
		Source:      "bandcamp",
		URL:         "https://example.com/t",
		OutputDir:   "/downloads/music",
		Context:     map[string]any{"video_id": "abc", "audio_only": true},
	})
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx, "bandcamp")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "abc", job.Context["video_id"])
	assert.Equal(t, true, job.Context["audio_only"])
}
