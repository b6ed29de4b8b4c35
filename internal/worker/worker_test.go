package worker

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubevault/internal/executor"
	"tubevault/internal/jobs"
	"tubevault/internal/status"
)

func newTestStore(t *testing.T) *jobs.Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "main.db")+"?_pragma=busy_timeout(30000)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := jobs.NewStore(db)
	require.NoError(t, err)
	return s
}

func enqueue(t *testing.T, s *jobs.Store, source, url string) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), jobs.EnqueueRequest{
		Origin:      "playlist",
		OriginID:    "PL1",
		MediaType:   "video",
		MediaIntent: "episode",
		Source:      source,
		URL:         url,
		OutputDir:   t.TempDir(),
	})
	require.NoError(t, err)
	return id
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	errs     map[string]error
}

func (f *fakeExecutor) Execute(ctx context.Context, job *jobs.Job) (*executor.Outcome, error) {
	f.mu.Lock()
	f.executed = append(f.executed, job.URL)
	f.mu.Unlock()
	if err, ok := f.errs[job.URL]; ok {
		return nil, err
	}
	return &executor.Outcome{VideoID: job.URL}, nil
}

func (f *fakeExecutor) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func TestRunUntilIdleCompletesJobs(t *testing.T) {
	store := newTestStore(t)
	id := enqueue(t, store, "youtube", "https://example.com/a")
	exec := &fakeExecutor{}
	w := New(store, exec, nil, Config{PollInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, w.RunUntilIdle(context.Background()))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, []string{"https://example.com/a"}, exec.order())
}

func TestRunUntilIdleDrainsSourceInOrder(t *testing.T) {
	store := newTestStore(t)
	enqueue(t, store, "youtube", "https://example.com/first")
	enqueue(t, store, "youtube", "https://example.com/second")
	enqueue(t, store, "youtube", "https://example.com/third")
	exec := &fakeExecutor{}
	w := New(store, exec, nil, Config{PollInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.Equal(t, []string{
		"https://example.com/first",
		"https://example.com/second",
		"https://example.com/third",
	}, exec.order())
}

func TestRetryableFailureRequeuesWithBackoff(t *testing.T) {
	store := newTestStore(t)
	id := enqueue(t, store, "youtube", "https://example.com/flaky")
	exec := &fakeExecutor{errs: map[string]error{
		"https://example.com/flaky": errors.New("connection reset by peer"),
	}}
	w := New(store, exec, nil, Config{PollInterval: 10 * time.Millisecond, RetryDelay: time.Hour}, nil)

	// The hour-long retry keeps the drain loop alive; observe the requeued
	// state and then cancel out.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.RunUntilIdle(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	var job *jobs.Job
	for time.Now().Before(deadline) {
		var err error
		job, err = store.Get(context.Background(), id)
		require.NoError(t, err)
		if job != nil && job.Status == jobs.StatusQueued && job.Attempts == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	require.NotNil(t, job)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "connection reset")
	assert.Len(t, exec.order(), 1)
}

func TestTerminalFailureMarksFailed(t *testing.T) {
	store := newTestStore(t)
	id := enqueue(t, store, "youtube", "https://example.com/gone")
	exec := &fakeExecutor{errs: map[string]error{
		"https://example.com/gone": errors.New("HTTP Error 404: Not Found"),
	}}
	pub := status.NewPublisher()
	w := New(store, exec, pub, Config{PollInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, w.RunUntilIdle(context.Background()))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Contains(t, pub.Snapshot().LastErrorMessage, "404")
}

func TestRetryBudgetExhaustionIsTerminal(t *testing.T) {
	store := newTestStore(t)
	id, err := store.Enqueue(context.Background(), jobs.EnqueueRequest{
		Origin:      "playlist",
		OriginID:    "PL1",
		MediaType:   "video",
		MediaIntent: "episode",
		Source:      "youtube",
		URL:         "https://example.com/always-times-out",
		OutputDir:   t.TempDir(),
		MaxAttempts: 2,
	})
	require.NoError(t, err)
	exec := &fakeExecutor{errs: map[string]error{
		"https://example.com/always-times-out": errors.New("read timed out"),
	}}
	w := New(store, exec, nil, Config{PollInterval: 5 * time.Millisecond, RetryDelay: time.Millisecond}, nil)

	// The drain loop waits out the short retry delay and exhausts the budget
	// in a single pass.
	require.NoError(t, w.RunUntilIdle(context.Background()))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
}

func TestIndependentSourcesBothDrain(t *testing.T) {
	store := newTestStore(t)
	enqueue(t, store, "youtube", "https://example.com/yt")
	enqueue(t, store, "soundcloud", "https://example.com/sc")
	exec := &fakeExecutor{}
	w := New(store, exec, nil, Config{PollInterval: 10 * time.Millisecond}, nil)

	require.NoError(t, w.RunUntilIdle(context.Background()))
	assert.ElementsMatch(t, []string{"https://example.com/yt", "https://example.com/sc"}, exec.order())
}

func TestCancelBeforeStartReleasesClaimedJob(t *testing.T) {
	store := newTestStore(t)
	id := enqueue(t, store, "youtube", "https://example.com/late")
	exec := &fakeExecutor{}
	w := New(store, exec, nil, Config{PollInterval: 5 * time.Millisecond}, nil)

	job, err := store.ClaimNext(context.Background(), "youtube")
	require.NoError(t, err)
	require.NotNil(t, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.executeJob(ctx, job)

	// A dead context must not leave the row running; that would block
	// duplicate detection for the same video forever.
	got, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, got.Status)
	assert.Empty(t, exec.order())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	exec := &fakeExecutor{}
	w := New(store, exec, nil, Config{PollInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
