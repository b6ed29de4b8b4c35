package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Request lifecycle states.
const (
	RequestQueued    = "queued"
	RequestResolving = "resolving"
	RequestRunning   = "running"
	RequestCompleted = "completed"
	RequestFailed    = "failed"
	RequestCanceled  = "canceled"
)

// Item lifecycle states.
const (
	ItemQueued         = "queued"
	ItemSearching      = "searching"
	ItemCandidateFound = "candidate_found"
	ItemSelected       = "selected"
	ItemEnqueued       = "enqueued"
	ItemSkipped        = "skipped"
	ItemFailed         = "failed"
)

var (
	requestStatuses = map[string]bool{
		RequestQueued: true, RequestResolving: true, RequestRunning: true,
		RequestCompleted: true, RequestFailed: true, RequestCanceled: true,
	}
	allowedIntents    = map[string]bool{"track": true, "album": true, "artist": true, "artist_collection": true}
	allowedMediaTypes = map[string]bool{"audio": true, "video": true}
)

// Request is one stored search request.
type Request struct {
	ID                     string         `json:"id"`
	CreatedAt              string         `json:"created_at"`
	UpdatedAt              string         `json:"updated_at"`
	CreatedBy              string         `json:"created_by"`
	Intent                 string         `json:"intent"`
	MediaType              string         `json:"media_type"`
	Artist                 string         `json:"artist"`
	Album                  string         `json:"album,omitempty"`
	Track                  string         `json:"track,omitempty"`
	IncludeAlbums          bool           `json:"include_albums"`
	IncludeSingles         bool           `json:"include_singles"`
	MinMatchScore          float64        `json:"min_match_score"`
	DurationHintSec        *int           `json:"duration_hint_sec,omitempty"`
	SourcePriority         []string       `json:"source_priority"`
	MaxCandidatesPerSource int            `json:"max_candidates_per_source"`
	Status                 string         `json:"status"`
	Error                  string         `json:"error,omitempty"`
	Summary                map[string]int `json:"summary,omitempty"`
}

// Item is one resolvable unit inside a request.
type Item struct {
	ID              string  `json:"id"`
	RequestID       string  `json:"request_id"`
	Position        int     `json:"position"`
	ItemType        string  `json:"item_type"`
	MediaType       string  `json:"media_type"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album,omitempty"`
	Track           string  `json:"track,omitempty"`
	DurationHintSec *int    `json:"duration_hint_sec,omitempty"`
	Status          string  `json:"status"`
	ChosenSource    string  `json:"chosen_source,omitempty"`
	ChosenURL       string  `json:"chosen_url,omitempty"`
	ChosenScore     float64 `json:"chosen_score,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// StoredCandidate is a scored candidate persisted for inspection.
type StoredCandidate struct {
	ID                string  `json:"id"`
	ItemID            string  `json:"item_id"`
	Source            string  `json:"source"`
	URL               string  `json:"url"`
	Title             string  `json:"title"`
	Uploader          string  `json:"uploader,omitempty"`
	ArtistDetected    string  `json:"artist_detected,omitempty"`
	AlbumDetected     string  `json:"album_detected,omitempty"`
	TrackDetected     string  `json:"track_detected,omitempty"`
	DurationSec       *int    `json:"duration_sec,omitempty"`
	ArtworkURL        string  `json:"artwork_url,omitempty"`
	ScoreArtist       float64 `json:"score_artist"`
	ScoreTrack        float64 `json:"score_track"`
	ScoreAlbum        float64 `json:"score_album"`
	ScoreDuration     float64 `json:"score_duration"`
	SourceModifier    float64 `json:"source_modifier"`
	PenaltyMultiplier float64 `json:"penalty_multiplier"`
	FinalScore        float64 `json:"final_score"`
	Rank              int     `json:"rank"`
}

// CreateRequestInput is the API payload for a new search.
type CreateRequestInput struct {
	Intent                 string   `json:"intent"`
	MediaType              string   `json:"media_type"`
	Artist                 string   `json:"artist"`
	Album                  string   `json:"album"`
	Track                  string   `json:"track"`
	IncludeAlbums          *bool    `json:"include_albums"`
	IncludeSingles         *bool    `json:"include_singles"`
	MinMatchScore          *float64 `json:"min_match_score"`
	DurationHintSec        *int     `json:"duration_hint_sec"`
	SourcePriority         []string `json:"source_priority"`
	MaxCandidatesPerSource *int     `json:"max_candidates_per_source"`
	CreatedBy              string   `json:"created_by"`
}

// Store persists search requests in their own sqlite database, separate
// from the archive database so heavy resolution never blocks downloads.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens or creates the search database.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening search db: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS search_requests (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			created_by TEXT,
			intent TEXT NOT NULL,
			media_type TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			track TEXT,
			include_albums INTEGER DEFAULT 1,
			include_singles INTEGER DEFAULT 1,
			min_match_score REAL DEFAULT 0.92,
			duration_hint_sec INTEGER,
			source_priority_json TEXT NOT NULL,
			max_candidates_per_source INTEGER DEFAULT 5,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS search_items (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			item_type TEXT NOT NULL,
			media_type TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			track TEXT,
			duration_hint_sec INTEGER,
			status TEXT NOT NULL,
			chosen_source TEXT,
			chosen_url TEXT,
			chosen_score REAL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS search_candidates (
			id TEXT PRIMARY KEY,
			item_id TEXT NOT NULL,
			source TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			uploader TEXT,
			artist_detected TEXT,
			album_detected TEXT,
			track_detected TEXT,
			duration_sec INTEGER,
			artwork_url TEXT,
			raw_meta_json TEXT,
			score_artist REAL,
			score_track REAL,
			score_album REAL,
			score_duration REAL,
			source_modifier REAL,
			penalty_multiplier REAL,
			final_score REAL,
			rank INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_search_requests_status ON search_requests (status)`,
		`CREATE INDEX IF NOT EXISTS idx_search_requests_created_at ON search_requests (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_search_items_request_status ON search_items (request_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_search_items_status ON search_items (status)`,
		`CREATE INDEX IF NOT EXISTS idx_search_candidates_item_score ON search_candidates (item_id, final_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_search_candidates_source ON search_candidates (source)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating search db: %w", err)
		}
	}
	return nil
}

func utcNow() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// CreateRequest validates and stores a new search request in queued state.
func (s *Store) CreateRequest(ctx context.Context, input CreateRequestInput) (string, error) {
	intent := strings.ToLower(strings.TrimSpace(input.Intent))
	mediaType := strings.ToLower(strings.TrimSpace(input.MediaType))
	if mediaType == "" {
		mediaType = "audio"
	}
	artist := strings.TrimSpace(input.Artist)
	album := strings.TrimSpace(input.Album)
	track := strings.TrimSpace(input.Track)

	if !allowedIntents[intent] {
		return "", fmt.Errorf("intent must be track, album, artist, or artist_collection")
	}
	if !allowedMediaTypes[mediaType] {
		return "", fmt.Errorf("media_type must be audio or video")
	}
	if artist == "" {
		return "", fmt.Errorf("artist is required")
	}
	if intent == "track" && track == "" {
		return "", fmt.Errorf("track is required for track intent")
	}
	if intent == "album" && album == "" {
		return "", fmt.Errorf("album is required for album intent")
	}

	minScore := DefaultMinMatchScore
	if input.MinMatchScore != nil {
		minScore = *input.MinMatchScore
	}
	maxCandidates := 5
	if input.MaxCandidatesPerSource != nil && *input.MaxCandidatesPerSource > 0 {
		maxCandidates = *input.MaxCandidatesPerSource
	}
	priority := input.SourcePriority
	if len(priority) == 0 {
		priority = DefaultSourcePriority
	}
	priorityJSON, err := json.Marshal(priority)
	if err != nil {
		return "", fmt.Errorf("encoding source priority: %w", err)
	}

	includeAlbums := input.IncludeAlbums == nil || *input.IncludeAlbums
	includeSingles := input.IncludeSingles == nil || *input.IncludeSingles

	id := uuid.NewString()
	now := utcNow()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_requests (
			id, created_at, updated_at, created_by, intent, media_type, artist,
			album, track, include_albums, include_singles, min_match_score,
			duration_hint_sec, source_priority_json, max_candidates_per_source,
			status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		id, now, now, input.CreatedBy, intent, mediaType, artist,
		nullable(album), nullable(track), boolInt(includeAlbums), boolInt(includeSingles),
		minScore, input.DurationHintSec, string(priorityJSON), maxCandidates,
		RequestQueued,
	)
	if err != nil {
		return "", fmt.Errorf("inserting search request: %w", err)
	}
	s.logger.Info("Search request created", "request_id", id, "intent", intent, "media_type", mediaType)
	return id, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const requestColumns = `id, created_at, updated_at, COALESCE(created_by,''), intent, media_type,
	artist, COALESCE(album,''), COALESCE(track,''), include_albums, include_singles,
	min_match_score, duration_hint_sec, source_priority_json,
	max_candidates_per_source, status, COALESCE(error,'')`

func scanRequest(row interface{ Scan(...any) error }) (*Request, error) {
	var r Request
	var includeAlbums, includeSingles int
	var priorityJSON string
	err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.Intent, &r.MediaType,
		&r.Artist, &r.Album, &r.Track, &includeAlbums, &includeSingles,
		&r.MinMatchScore, &r.DurationHintSec, &priorityJSON,
		&r.MaxCandidatesPerSource, &r.Status, &r.Error)
	if err != nil {
		return nil, err
	}
	r.IncludeAlbums = includeAlbums != 0
	r.IncludeSingles = includeSingles != 0
	if err := json.Unmarshal([]byte(priorityJSON), &r.SourcePriority); err != nil || len(r.SourcePriority) == 0 {
		r.SourcePriority = append([]string(nil), DefaultSourcePriority...)
	}
	return &r, nil
}

// GetRequest fetches a request with a per-status item summary. Returns nil
// when not found.
func (s *Store) GetRequest(ctx context.Context, id string) (*Request, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM search_requests WHERE id=?", id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching search request: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM search_items WHERE request_id=? GROUP BY status", id)
	if err != nil {
		return nil, fmt.Errorf("summarizing search items: %w", err)
	}
	defer rows.Close()
	req.Summary = map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		req.Summary[status] = count
	}
	return req, rows.Err()
}

// ListRequests returns requests oldest first, optionally filtered by
// status. Limit is clamped to 1..200.
func (s *Store) ListRequests(ctx context.Context, status string, limit int) ([]Request, error) {
	if status != "" && !requestStatuses[status] {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	query := "SELECT " + requestColumns + " FROM search_requests"
	args := []any{}
	if status != "" {
		query += " WHERE status=?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing search requests: %w", err)
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ClaimNextRequest atomically moves the oldest queued request to resolving.
func (s *Store) ClaimNextRequest(ctx context.Context) (*Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM search_requests WHERE status=? ORDER BY created_at ASC LIMIT 1",
		RequestQueued)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting queued request: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		"UPDATE search_requests SET status=?, updated_at=? WHERE id=? AND status=?",
		RequestResolving, utcNow(), req.ID, RequestQueued)
	if err != nil {
		return nil, fmt.Errorf("claiming request: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	req.Status = RequestResolving
	s.logger.Info("Search request claimed", "request_id", req.ID)
	return req, nil
}

// UpdateRequestStatus transitions a request, recording the error.
func (s *Store) UpdateRequestStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE search_requests SET status=?, updated_at=?, error=? WHERE id=?",
		status, utcNow(), nullable(errMsg), id)
	if err != nil {
		return fmt.Errorf("updating search request status: %w", err)
	}
	s.logger.Info("Search request status", "request_id", id, "status", status, "error", errMsg)
	return nil
}

// EnsureItems materializes items for a claimed request, once.
func (s *Store) EnsureItems(ctx context.Context, req *Request) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM search_items WHERE request_id=?", req.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking search items: %w", err)
	}
	if exists > 0 {
		return nil
	}
	item := Item{
		ID:              uuid.NewString(),
		RequestID:       req.ID,
		Position:        1,
		ItemType:        req.Intent,
		MediaType:       req.MediaType,
		Artist:          req.Artist,
		Album:           req.Album,
		Track:           req.Track,
		DurationHintSec: req.DurationHintSec,
		Status:          ItemQueued,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_items (
			id, request_id, position, item_type, media_type, artist, album,
			track, duration_hint_sec, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.RequestID, item.Position, item.ItemType, item.MediaType,
		item.Artist, nullable(item.Album), nullable(item.Track), item.DurationHintSec, item.Status)
	if err != nil {
		return fmt.Errorf("inserting search item: %w", err)
	}
	s.logger.Info("Search items created", "request_id", req.ID, "count", 1)
	return nil
}

// ListItems returns a request's items in position order.
func (s *Store) ListItems(ctx context.Context, requestID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, position, item_type, media_type, artist,
			COALESCE(album,''), COALESCE(track,''), duration_hint_sec, status,
			COALESCE(chosen_source,''), COALESCE(chosen_url,''),
			COALESCE(chosen_score,0), COALESCE(error,'')
		FROM search_items WHERE request_id=? ORDER BY position ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("listing search items: %w", err)
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RequestID, &item.Position, &item.ItemType,
			&item.MediaType, &item.Artist, &item.Album, &item.Track,
			&item.DurationHintSec, &item.Status, &item.ChosenSource,
			&item.ChosenURL, &item.ChosenScore, &item.Error); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkItemSearching moves a queued item to searching. Returns false if the
// item was not in queued state.
func (s *Store) MarkItemSearching(ctx context.Context, itemID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE search_items SET status=? WHERE id=? AND status=?",
		ItemSearching, itemID, ItemQueued)
	if err != nil {
		return false, fmt.Errorf("marking item searching: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateItemStatus sets the item state and error.
func (s *Store) UpdateItemStatus(ctx context.Context, itemID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE search_items SET status=?, error=? WHERE id=?",
		status, nullable(errMsg), itemID)
	if err != nil {
		return fmt.Errorf("updating search item status: %w", err)
	}
	s.logger.Info("Search item status", "item_id", itemID, "status", status, "error", errMsg)
	return nil
}

// UpdateItemChoice records the winning candidate on the item.
func (s *Store) UpdateItemChoice(ctx context.Context, itemID, source, url string, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_items
		SET chosen_source=?, chosen_url=?, chosen_score=?, status=?
		WHERE id=?`, source, url, score, ItemSelected, itemID)
	if err != nil {
		return fmt.Errorf("recording item choice: %w", err)
	}
	s.logger.Info("Search item selected", "item_id", itemID, "source", source, "url", url, "score", score)
	return nil
}

// SaveCandidates persists the full ranked candidate list for an item.
func (s *Store) SaveCandidates(ctx context.Context, itemID string, ranked []Ranked) error {
	for _, r := range ranked {
		rawMeta, _ := json.Marshal(r.Candidate.RawMeta)
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO search_candidates (
				id, item_id, source, url, title, uploader, artist_detected,
				album_detected, track_detected, duration_sec, artwork_url,
				raw_meta_json, score_artist, score_track, score_album,
				score_duration, source_modifier, penalty_multiplier,
				final_score, rank
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), itemID, r.Candidate.Source, r.Candidate.URL,
			r.Candidate.Title, nullable(r.Candidate.Uploader),
			nullable(r.Candidate.Artist), nullable(r.Candidate.Album),
			nullable(r.Candidate.Track), r.Candidate.DurationSec,
			nullable(r.Candidate.ArtworkURL), string(rawMeta),
			r.Breakdown.ScoreArtist, r.Breakdown.ScoreTrack, r.Breakdown.ScoreAlbum,
			r.Breakdown.ScoreDuration, r.Breakdown.SourceModifier,
			r.Breakdown.PenaltyMultiplier, r.Breakdown.FinalScore, r.Rank)
		if err != nil {
			return fmt.Errorf("saving search candidate: %w", err)
		}
	}
	return nil
}

// ListCandidates returns stored candidates for an item, best rank first.
func (s *Store) ListCandidates(ctx context.Context, itemID string) ([]StoredCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, source, url, title, COALESCE(uploader,''),
			COALESCE(artist_detected,''), COALESCE(album_detected,''),
			COALESCE(track_detected,''), duration_sec, COALESCE(artwork_url,''),
			COALESCE(score_artist,0), COALESCE(score_track,0), COALESCE(score_album,0),
			COALESCE(score_duration,0), COALESCE(source_modifier,1),
			COALESCE(penalty_multiplier,1), COALESCE(final_score,0), COALESCE(rank,0)
		FROM search_candidates WHERE item_id=? ORDER BY rank ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing search candidates: %w", err)
	}
	defer rows.Close()
	var candidates []StoredCandidate
	for rows.Next() {
		var c StoredCandidate
		if err := rows.Scan(&c.ID, &c.ItemID, &c.Source, &c.URL, &c.Title, &c.Uploader,
			&c.ArtistDetected, &c.AlbumDetected, &c.TrackDetected, &c.DurationSec,
			&c.ArtworkURL, &c.ScoreArtist, &c.ScoreTrack, &c.ScoreAlbum,
			&c.ScoreDuration, &c.SourceModifier, &c.PenaltyMultiplier,
			&c.FinalScore, &c.Rank); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// CancelRequest cancels a non-terminal request and skips its open items.
// Returns false when the request was already terminal or unknown.
func (s *Store) CancelRequest(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_requests SET status=?, updated_at=?, error=?
		WHERE id=? AND status NOT IN (?, ?, ?)`,
		RequestCanceled, utcNow(), "canceled", id,
		RequestCompleted, RequestFailed, RequestCanceled)
	if err != nil {
		return false, fmt.Errorf("canceling search request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE search_items SET status=?, error=?
		WHERE request_id=? AND status IN (?, ?, ?, ?)`,
		ItemSkipped, "request_canceled", id,
		ItemQueued, ItemSearching, ItemCandidateFound, ItemSelected)
	if err != nil {
		return false, fmt.Errorf("skipping canceled items: %w", err)
	}
	s.logger.Info("Search request canceled", "request_id", id)
	return true, nil
}

// FinalizeRequest derives the terminal request state from its items.
func (s *Store) FinalizeRequest(ctx context.Context, requestID string) error {
	items, err := s.ListItems(ctx, requestID)
	if err != nil {
		return err
	}
	anyOpen := false
	anyEnqueued := false
	for _, item := range items {
		switch item.Status {
		case ItemQueued, ItemSearching, ItemCandidateFound, ItemSelected:
			anyOpen = true
		case ItemEnqueued:
			anyEnqueued = true
		}
	}
	switch {
	case anyOpen:
		return s.UpdateRequestStatus(ctx, requestID, RequestRunning, "")
	case anyEnqueued:
		return s.UpdateRequestStatus(ctx, requestID, RequestCompleted, "")
	default:
		return s.UpdateRequestStatus(ctx, requestID, RequestFailed, "no_items_enqueued")
	}
}
