// Package jobs is the durable download job store. Jobs survive restarts,
// identity fields never change after enqueue, and claiming is FIFO per
// source.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Job statuses. completed, failed and canceled are terminal.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 30 * time.Second
)

var (
	allowedOrigins      = map[string]bool{"playlist": true, "search": true, "single": true}
	allowedMediaTypes   = map[string]bool{"audio": true, "video": true}
	allowedMediaIntents = map[string]bool{"track": true, "album": true, "playlist": true, "episode": true, "movie": true}
)

// ErrNotTransitioned means the job was not in the expected status for the
// attempted state change.
var ErrNotTransitioned = errors.New("job status transition rejected")

// Job is one durable download request. source, url, output_template and
// media_intent are immutable once enqueued; sqlite enforces that with a
// trigger.
type Job struct {
	ID             string         `json:"id"`
	Origin         string         `json:"origin"`
	OriginID       string         `json:"origin_id"`
	MediaType      string         `json:"media_type"`
	MediaIntent    string         `json:"media_intent"`
	Source         string         `json:"source"`
	URL            string         `json:"url"`
	OutputTemplate string         `json:"output_template,omitempty"`
	OutputDir      string         `json:"output_dir"`
	Status         string         `json:"status"`
	Queued         string         `json:"queued,omitempty"`
	Running        string         `json:"running,omitempty"`
	Completed      string         `json:"completed,omitempty"`
	Failed         string         `json:"failed,omitempty"`
	Canceled       string         `json:"canceled,omitempty"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	LastError      string         `json:"last_error,omitempty"`
	TraceID        string         `json:"trace_id"`
	Context        map[string]any `json:"context,omitempty"`
}

// EnqueueRequest carries everything needed to create a job.
type EnqueueRequest struct {
	Origin         string
	OriginID       string
	MediaType      string
	MediaIntent    string
	Source         string
	URL            string
	OutputTemplate string
	OutputDir      string
	Context        map[string]any
	MaxAttempts    int
	TraceID        string
	JobID          string
}

// Store persists download jobs in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore binds the job store to an open database handle and ensures the
// schema, additive column migrations and the immutability trigger.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS download_jobs (
			id TEXT PRIMARY KEY,
			origin TEXT NOT NULL,
			origin_id TEXT NOT NULL,
			media_type TEXT NOT NULL,
			media_intent TEXT NOT NULL,
			source TEXT NOT NULL,
			url TEXT NOT NULL,
			output_template TEXT,
			output_dir TEXT NOT NULL,
			status TEXT NOT NULL,
			queued TIMESTAMP,
			running TIMESTAMP,
			completed TIMESTAMP,
			failed TIMESTAMP,
			canceled TIMESTAMP,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_error TEXT,
			trace_id TEXT NOT NULL UNIQUE,
			context_json TEXT
		)`); err != nil {
		return fmt.Errorf("create download_jobs: %w", err)
	}

	rows, err := s.db.Query("PRAGMA table_info(download_jobs)")
	if err != nil {
		return err
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	migrations := map[string]string{
		"output_template": "output_template TEXT",
		"context_json":    "context_json TEXT",
		"trace_id":        "trace_id TEXT",
		"last_error":      "last_error TEXT",
	}
	for name, ddl := range migrations {
		if !existing[name] {
			if _, err := s.db.Exec("ALTER TABLE download_jobs ADD COLUMN " + ddl); err != nil {
				return fmt.Errorf("migrate download_jobs %s: %w", name, err)
			}
			slog.Warn("Migrated download_jobs", "column", name)
		}
	}

	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_status ON download_jobs (status)",
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_source_status ON download_jobs (source, status)",
		"CREATE INDEX IF NOT EXISTS idx_download_jobs_created_at ON download_jobs (created_at)",
		`CREATE TRIGGER IF NOT EXISTS download_jobs_immutable_fields
		BEFORE UPDATE ON download_jobs
		FOR EACH ROW
		WHEN
			OLD.source != NEW.source
			OR OLD.url != NEW.url
			OR COALESCE(OLD.output_template, '') != COALESCE(NEW.output_template, '')
			OR OLD.media_intent != NEW.media_intent
		BEGIN
			SELECT RAISE(ABORT, 'download_jobs immutable field update blocked');
		END`,
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("download_jobs index/trigger: %w", err)
		}
	}
	return nil
}

func utcNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func serializeContext(ctx map[string]any) any {
	if len(ctx) == 0 {
		return nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return nil
	}
	return string(data)
}

// Enqueue creates a new queued job and returns its id.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if !allowedOrigins[req.Origin] {
		return "", fmt.Errorf("invalid origin: %s", req.Origin)
	}
	if !allowedMediaTypes[req.MediaType] {
		return "", fmt.Errorf("invalid media_type: %s", req.MediaType)
	}
	if !allowedMediaIntents[req.MediaIntent] {
		return "", fmt.Errorf("invalid media_intent: %s", req.MediaIntent)
	}
	if req.Source == "" {
		return "", errors.New("source is required")
	}
	if req.URL == "" {
		return "", errors.New("url is required")
	}
	if req.OutputDir == "" {
		return "", errors.New("output_dir is required")
	}

	now := utcNow()
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_jobs (
			id, origin, origin_id, media_type, media_intent, source, url,
			output_template, output_dir, status, queued, attempts, max_attempts,
			created_at, updated_at, trace_id, context_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, req.Origin, req.OriginID, req.MediaType, req.MediaIntent, req.Source, req.URL,
		nullable(req.OutputTemplate), req.OutputDir, StatusQueued, now, 0, maxAttempts,
		now, now, traceID, serializeContext(req.Context))
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	slog.Info("Job enqueued",
		"trace_id", traceID,
		"job_id", jobID,
		"source", req.Source,
		"origin", req.Origin,
		"media_type", req.MediaType,
		"media_intent", req.MediaIntent)
	return jobID, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const jobColumns = `id, origin, origin_id, media_type, media_intent, source, url,
	COALESCE(output_template, ''), output_dir, status,
	COALESCE(queued, ''), COALESCE(running, ''), COALESCE(completed, ''),
	COALESCE(failed, ''), COALESCE(canceled, ''), attempts, max_attempts,
	created_at, updated_at, COALESCE(last_error, ''), trace_id, COALESCE(context_json, '')`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	var contextJSON string
	err := row.Scan(&j.ID, &j.Origin, &j.OriginID, &j.MediaType, &j.MediaIntent, &j.Source, &j.URL,
		&j.OutputTemplate, &j.OutputDir, &j.Status,
		&j.Queued, &j.Running, &j.Completed, &j.Failed, &j.Canceled,
		&j.Attempts, &j.MaxAttempts, &j.CreatedAt, &j.UpdatedAt, &j.LastError, &j.TraceID, &contextJSON)
	if err != nil {
		return nil, err
	}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &j.Context); err != nil {
			j.Context = map[string]any{}
		}
	}
	return &j, nil
}

// ClaimNext atomically claims the oldest ready queued job for a source.
// Returns nil when nothing is ready. The write lock is taken up front so
// two pollers can never select the same row and race on the update.
func (s *Store) ClaimNext(ctx context.Context, source string) (*Job, error) {
	now := utcNow()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("claim begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	row := conn.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM download_jobs
		WHERE status='queued' AND source=? AND (queued IS NULL OR queued <= ?)
		ORDER BY queued ASC, created_at ASC
		LIMIT 1`, source, now)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim select: %w", err)
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE download_jobs
		SET status='running', running=?, updated_at=?
		WHERE id=? AND status='queued'`, now, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("claim update: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("claim commit: %w", err)
	}
	committed = true
	job.Status = StatusRunning
	job.Running = now
	return job, nil
}

// Get returns a job by id, nil when absent.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM download_jobs WHERE id=?", jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// HasActiveJob reports whether a queued or running job exists for the pair.
func (s *Store) HasActiveJob(ctx context.Context, source, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM download_jobs
		WHERE source=? AND url=? AND status IN ('queued', 'running')
		LIMIT 1`, source, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasJobForOrigin reports whether any job (terminal included) exists for the
// origin triple. Discovery uses it to avoid re-enqueueing the same find.
func (s *Store) HasJobForOrigin(ctx context.Context, origin, originID, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM download_jobs
		WHERE origin=? AND origin_id=? AND url=?
		LIMIT 1`, origin, originID, url).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListReadySources returns the sources that currently have claimable jobs.
func (s *Store) ListReadySources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT source FROM download_jobs
		WHERE status='queued' AND (queued IS NULL OR queued <= ?)`, utcNow())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// NextReadyTime returns when the earliest deferred job becomes claimable,
// zero when none is pending.
func (s *Store) NextReadyTime(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT queued FROM download_jobs
		WHERE status='queued' AND queued IS NOT NULL AND queued > ?
		ORDER BY queued ASC LIMIT 1`, utcNow()).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, parseErr := time.Parse(time.RFC3339Nano, raw)
	if parseErr != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// MarkCompleted finishes a running job.
func (s *Store) MarkCompleted(ctx context.Context, job *Job) error {
	now := utcNow()
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status='completed', completed=?, updated_at=?
		WHERE id=? AND status='running'`, now, now, job.ID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotTransitioned
	}
	slog.Info("Job completed", "trace_id", job.TraceID, "job_id", job.ID, "source", job.Source)
	return nil
}

// MarkCanceled cancels a running job with a reason.
func (s *Store) MarkCanceled(ctx context.Context, job *Job, reason string) error {
	now := utcNow()
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status='canceled', canceled=?, updated_at=?, last_error=?
		WHERE id=? AND status='running'`, now, now, reason, job.ID)
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotTransitioned
	}
	slog.Warn("Job canceled", "trace_id", job.TraceID, "job_id", job.ID, "source", job.Source, "reason", reason)
	return nil
}

// MarkFailed records a failure. A non-zero retryAt re-queues the job with a
// future ready time instead of finishing it.
func (s *Store) MarkFailed(ctx context.Context, job *Job, errorMessage string, retryAt time.Time, attempts int) error {
	now := utcNow()
	status := StatusFailed
	var failedAt, queuedAt any
	if !retryAt.IsZero() {
		status = StatusQueued
		queuedAt = retryAt.UTC().Format(time.RFC3339Nano)
	} else {
		failedAt = now
	}
	if attempts <= 0 {
		attempts = job.Attempts + 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE download_jobs
		SET status=?, failed=COALESCE(failed, ?), queued=?, attempts=?, updated_at=?, last_error=?
		WHERE id=? AND status='running'`,
		status, failedAt, queuedAt, attempts, now, errorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrNotTransitioned
	}
	if status == StatusQueued {
		slog.Warn("Job requeued", "trace_id", job.TraceID, "job_id", job.ID, "source", job.Source,
			"attempts", attempts, "error", errorMessage, "retry_at", queuedAt)
	} else {
		slog.Error("Job failed", "trace_id", job.TraceID, "job_id", job.ID, "source", job.Source,
			"attempts", attempts, "error", errorMessage)
	}
	return nil
}

// Counts returns job totals per status.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM download_jobs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// List returns jobs, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM download_jobs"
	var params []any
	if status != "" {
		query += " WHERE status=?"
		params = append(params, status)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		params = append(params, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// PruneTerminal deletes terminal jobs older than the cutoff.
func (s *Store) PruneTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM download_jobs
		WHERE status IN ('completed', 'failed', 'canceled') AND updated_at < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsImmutableViolation reports whether err came from the immutability trigger.
func IsImmutableViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "immutable field update blocked")
}
