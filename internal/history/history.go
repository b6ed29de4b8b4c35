// Package history persists the archive history: which videos were
// downloaded, what each playlist has already surfaced, and the playlist
// watch bookkeeping used for adaptive polling.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the main archive database.
type Store struct {
	db *sql.DB
}

// Entry is one downloaded video.
type Entry struct {
	VideoID      string `json:"video_id"`
	PlaylistID   string `json:"playlist_id"`
	DownloadedAt string `json:"downloaded_at"`
	Filepath     string `json:"filepath"`
}

// QueryOptions filters and orders history reads.
type QueryOptions struct {
	Limit      int
	Search     string
	PlaylistID string
	DateFrom   string
	DateTo     string
	SortBy     string // date, title, size
	SortDir    string // asc, desc
}

// Open opens (creating if needed) the history store at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle so the job store and schedule state can
// share the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS downloads (
			video_id TEXT PRIMARY KEY,
			playlist_id TEXT,
			downloaded_at TIMESTAMP,
			filepath TEXT
		)`,
		// playlist_videos backs subscribe mode: (playlist_id, video_id) is
		// unique, first_seen_at is when the playlist first surfaced the
		// video, downloaded flips to 1 only after a successful file write.
		`CREATE TABLE IF NOT EXISTS playlist_videos (
			playlist_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			first_seen_at TIMESTAMP,
			downloaded INTEGER DEFAULT 0,
			PRIMARY KEY (playlist_id, video_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_videos_playlist ON playlist_videos (playlist_id)`,
		`CREATE TABLE IF NOT EXISTS playlist_watch (
			playlist_id TEXT PRIMARY KEY,
			last_checked_at TIMESTAMP,
			next_poll_at TIMESTAMP,
			current_interval_min INTEGER,
			consecutive_no_change INTEGER,
			last_change_at TIMESTAMP,
			skip_reason TEXT,
			last_error TEXT,
			last_error_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_watch_next_poll ON playlist_watch (next_poll_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("history migration: %w", err)
		}
	}
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// RecordDownload records a completed download. Rows are written once and
// never mutated; a re-insert after a crash between file placement and
// commit collapses silently.
func (s *Store) RecordDownload(ctx context.Context, videoID, playlistID, filePath string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO downloads (video_id, playlist_id, downloaded_at, filepath)
		 VALUES (?, ?, ?, ?)`,
		videoID, playlistID, nowISO(), filePath)
	if err != nil {
		return fmt.Errorf("record download: %w", err)
	}
	return nil
}

// IsDownloaded reports whether the video is already archived.
func (s *Store) IsDownloaded(ctx context.Context, videoID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM downloads WHERE video_id=? LIMIT 1", videoID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasSeen reports whether the playlist has any seen rows (subscribe mode
// seeding check).
func (s *Store) HasSeen(ctx context.Context, playlistID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM playlist_videos WHERE playlist_id=? LIMIT 1", playlistID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsSeen reports whether the playlist already surfaced the video.
func (s *Store) IsSeen(ctx context.Context, playlistID, videoID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM playlist_videos WHERE playlist_id=? AND video_id=? LIMIT 1",
		playlistID, videoID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSeen records the first sighting of a video in a playlist. The
// downloaded flag only ever flips to 1.
func (s *Store) MarkSeen(ctx context.Context, playlistID, videoID string, downloaded bool) error {
	flag := 0
	if downloaded {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO playlist_videos (playlist_id, video_id, first_seen_at, downloaded)
		 VALUES (?, ?, ?, ?)`,
		playlistID, videoID, nowISO(), flag)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if downloaded {
		_, err = s.db.ExecContext(ctx,
			"UPDATE playlist_videos SET downloaded=1 WHERE playlist_id=? AND video_id=?",
			playlistID, videoID)
	}
	return err
}

// MarkDownloaded marks a seen row as downloaded.
func (s *Store) MarkDownloaded(ctx context.Context, playlistID, videoID string) error {
	return s.MarkSeen(ctx, playlistID, videoID, true)
}

// RecordPlaylistError stores the last enumeration error for a playlist.
func (s *Store) RecordPlaylistError(ctx context.Context, playlistID, message string) error {
	if playlistID == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playlist_watch (playlist_id, last_error, last_error_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(playlist_id) DO UPDATE SET
		   last_error=excluded.last_error, last_error_at=excluded.last_error_at`,
		playlistID, message, nowISO())
	return err
}

// TouchWatch updates the adaptive polling bookkeeping after an enumeration.
func (s *Store) TouchWatch(ctx context.Context, playlistID string, changed bool, nextPollAt time.Time, intervalMin int) error {
	now := nowISO()
	var lastChange any
	noChangeBump := 1
	if changed {
		lastChange = now
		noChangeBump = 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playlist_watch (playlist_id, last_checked_at, next_poll_at, current_interval_min, consecutive_no_change, last_change_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(playlist_id) DO UPDATE SET
		   last_checked_at=excluded.last_checked_at,
		   next_poll_at=excluded.next_poll_at,
		   current_interval_min=excluded.current_interval_min,
		   consecutive_no_change=CASE WHEN ? = 0 THEN 0 ELSE COALESCE(playlist_watch.consecutive_no_change, 0) + 1 END,
		   last_change_at=COALESCE(excluded.last_change_at, playlist_watch.last_change_at),
		   last_error=NULL, last_error_at=NULL`,
		playlistID, now, nextPollAt.UTC().Format(time.RFC3339), intervalMin, noChangeBump, lastChange, noChangeBump)
	return err
}

// NextPollAt returns the stored next poll time for a playlist, zero when
// absent.
func (s *Store) NextPollAt(ctx context.Context, playlistID string) (time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT next_poll_at FROM playlist_watch WHERE playlist_id=?", playlistID).Scan(&raw)
	if err == sql.ErrNoRows || !raw.Valid {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, parseErr := time.Parse(time.RFC3339, raw.String)
	if parseErr != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// Query reads history entries. Date sorting happens in SQL; title and size
// sorting happen here because they depend on the file system.
func (s *Store) Query(ctx context.Context, opts QueryOptions) ([]Entry, error) {
	var clauses []string
	var params []any
	if opts.Search != "" {
		like := "%" + opts.Search + "%"
		clauses = append(clauses, "(filepath LIKE ? OR video_id LIKE ?)")
		params = append(params, like, like)
	}
	if opts.PlaylistID != "" {
		clauses = append(clauses, "playlist_id = ?")
		params = append(params, opts.PlaylistID)
	}
	if opts.DateFrom != "" {
		clauses = append(clauses, "downloaded_at >= ?")
		params = append(params, opts.DateFrom)
	}
	if opts.DateTo != "" {
		clauses = append(clauses, "downloaded_at <= ?")
		params = append(params, opts.DateTo)
	}

	query := "SELECT video_id, COALESCE(playlist_id, ''), COALESCE(downloaded_at, ''), COALESCE(filepath, '') FROM downloads"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	sortBy := strings.ToLower(opts.SortBy)
	if sortBy == "" {
		sortBy = "date"
	}
	desc := strings.ToLower(opts.SortDir) != "asc"

	if sortBy == "date" {
		if desc {
			query += " ORDER BY downloaded_at DESC"
		} else {
			query += " ORDER BY downloaded_at ASC"
		}
		if opts.Limit > 0 {
			query += " LIMIT ?"
			params = append(params, opts.Limit)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.VideoID, &e.PlaylistID, &e.DownloadedAt, &e.Filepath); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch sortBy {
	case "title":
		sort.SliceStable(entries, func(i, j int) bool {
			a := strings.ToLower(filepath.Base(entries[i].Filepath))
			b := strings.ToLower(filepath.Base(entries[j].Filepath))
			if desc {
				return a > b
			}
			return a < b
		})
	case "size":
		sizeOf := func(e Entry) (int64, bool) {
			info, err := os.Stat(e.Filepath)
			if err != nil {
				return 0, false
			}
			return info.Size(), true
		}
		sort.SliceStable(entries, func(i, j int) bool {
			si, oki := sizeOf(entries[i])
			sj, okj := sizeOf(entries[j])
			// Missing files always sort last.
			if oki != okj {
				return oki
			}
			if desc {
				return si > sj
			}
			return si < sj
		})
	}

	if sortBy != "date" && opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}
