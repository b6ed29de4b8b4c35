// Package engine orchestrates one archive run: lock, playlist discovery,
// job enqueueing, queue drain and the end-of-run summary.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tubevault/internal/config"
	"tubevault/internal/discovery"
	"tubevault/internal/jobs"
	"tubevault/internal/naming"
	"tubevault/internal/paths"
	"tubevault/internal/status"
)

// Discovery enumerates playlists and resolves per-video metadata.
type Discovery interface {
	DiscoverPlaylistVideos(ctx context.Context, playlistID string, allowPublic bool) discovery.Result
	ResolveVideoMetadata(ctx context.Context, videoID string, allowPublic, musicMode bool) *discovery.VideoMeta
}

// History is the archive bookkeeping the run loop needs.
type History interface {
	IsDownloaded(ctx context.Context, videoID string) (bool, error)
	HasSeen(ctx context.Context, playlistID string) (bool, error)
	IsSeen(ctx context.Context, playlistID, videoID string) (bool, error)
	MarkSeen(ctx context.Context, playlistID, videoID string, downloaded bool) error
	MarkDownloaded(ctx context.Context, playlistID, videoID string) error
	RecordPlaylistError(ctx context.Context, playlistID, message string) error
	TouchWatch(ctx context.Context, playlistID string, changed bool, nextPollAt time.Time, intervalMin int) error
}

// Queue is the job store surface used for enqueueing and result checks.
type Queue interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (string, error)
	HasActiveJob(ctx context.Context, source, url string) (bool, error)
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
}

// Drainer runs the worker pool until the queue is empty.
type Drainer interface {
	RunUntilIdle(ctx context.Context) error
}

// PlaylistTrimmer removes archived entries from the source playlist.
type PlaylistTrimmer interface {
	RemovePlaylistItem(ctx context.Context, playlistItemID string) error
}

// RunNotifier sends the end-of-run summary.
type RunNotifier interface {
	Enabled() bool
	SendItemized(ctx context.Context, header string, items []string) error
}

// RunOptions tunes one archive run.
type RunOptions struct {
	RunID   string
	Preview bool // enumerate and count, enqueue nothing
	DryRun  bool
}

// SingleOptions describes a one-off URL download.
type SingleOptions struct {
	URL          string
	Destination  string
	Format       string
	DeliveryMode bool
}

// Summary is the run result handed to callers and the notifier.
type Summary struct {
	RunID          string
	Enqueued       int
	Skipped        int
	Seeded         int
	PlaylistErrors int
	Completed      []string
	Failed         []string
}

// Engine wires the run loop's collaborators.
type Engine struct {
	cfg     *config.Config
	roots   paths.Roots
	paths   paths.EnginePaths
	disc    Discovery
	trimmer PlaylistTrimmer
	history History
	queue   Queue
	drainer Drainer
	status  *status.Publisher
	notify  RunNotifier
	logger  *slog.Logger
}

// New builds an engine. disc, trimmer and notify may be nil.
func New(cfg *config.Config, roots paths.Roots, enginePaths paths.EnginePaths,
	disc Discovery, trimmer PlaylistTrimmer, hist History, queue Queue,
	drainer Drainer, pub *status.Publisher, notifier RunNotifier, logger *slog.Logger) *Engine {
	if pub == nil {
		pub = status.NewPublisher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		roots:   roots,
		paths:   enginePaths,
		disc:    disc,
		trimmer: trimmer,
		history: hist,
		queue:   queue,
		drainer: drainer,
		status:  pub,
		notify:  notifier,
		logger:  logger,
	}
}

// enqueuedItem tracks one job created this run so completion can be
// checked after the drain.
type enqueuedItem struct {
	playlistID     string
	playlistItemID string
	videoID        string
	title          string
	subscribe      bool
}

// Run archives every configured playlist. Only one run may be active at a
// time; a held lock aborts with paths.ErrRunLocked.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	if err := paths.AcquireLock(e.paths.LockFile); err != nil {
		return nil, err
	}
	defer paths.ReleaseLock(e.paths.LockFile)

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	summary := &Summary{RunID: runID}
	e.status.BeginRun(runID)
	lastError := ""
	defer func() { e.status.EndRun(lastError) }()

	dryRun := opts.DryRun || (e.cfg != nil && e.cfg.DryRun)
	var enqueued []enqueuedItem
	for _, playlist := range e.cfg.Playlists {
		items := e.processPlaylist(ctx, playlist, summary, opts.Preview, dryRun)
		enqueued = append(enqueued, items...)
		if ctx.Err() != nil {
			break
		}
	}

	e.status.SetProgress(0, len(enqueued))
	if len(enqueued) > 0 && !opts.Preview && !dryRun && e.drainer != nil {
		if err := e.drainer.RunUntilIdle(ctx); err != nil {
			lastError = err.Error()
		}
	}

	e.finalizeItems(ctx, enqueued, summary)
	if len(summary.Failed) > 0 {
		snap := e.status.Snapshot()
		if snap.LastErrorMessage != "" {
			lastError = snap.LastErrorMessage
		}
	}
	e.sendSummary(ctx, summary)
	e.logger.Info("Archive run finished",
		"run_id", runID,
		"enqueued", summary.Enqueued,
		"completed", len(summary.Completed),
		"failed", len(summary.Failed),
		"skipped", summary.Skipped)
	return summary, ctx.Err()
}

// processPlaylist enumerates one playlist and enqueues its new videos.
func (e *Engine) processPlaylist(ctx context.Context, playlist config.Playlist,
	summary *Summary, preview, dryRun bool) []enqueuedItem {
	playlistID := playlist.EffectiveID()
	if playlistID == "" {
		e.logger.Warn("Playlist entry without id skipped")
		return nil
	}
	e.status.SetPhase(status.PhaseEnumerating)
	e.status.SetCurrent(playlistID, "", "")

	folder, err := paths.ResolveDir(playlist.EffectiveFolder(), e.roots.DownloadsDir)
	if err != nil {
		e.logger.Error("Playlist folder rejected", "playlist_id", playlistID, "error", err)
		e.recordPlaylistError(ctx, playlistID, err.Error())
		summary.PlaylistErrors++
		return nil
	}

	mode := playlist.EffectiveMode()
	if mode != "full" && mode != "subscribe" {
		e.logger.Warn("Unknown playlist mode, using full", "playlist_id", playlistID, "mode", mode)
		mode = "full"
	}

	allowPublic := playlist.Account == ""
	result := e.disc.DiscoverPlaylistVideos(ctx, playlistID, allowPublic)
	if len(result.Videos) == 0 && result.FetchFailed {
		message := "playlist fetch failed"
		if result.RefreshError {
			message = "authorization refresh failed"
		}
		e.recordPlaylistError(ctx, playlistID, message)
		summary.PlaylistErrors++
		return nil
	}

	var items []enqueuedItem
	switch mode {
	case "subscribe":
		items = e.processSubscribe(ctx, playlist, playlistID, folder, result, summary, preview, dryRun)
	default:
		items = e.processFull(ctx, playlist, playlistID, folder, result.Videos, summary, preview, dryRun, allowPublic)
	}

	if err := e.history.TouchWatch(ctx, playlistID, len(items) > 0, time.Time{}, 0); err != nil {
		e.logger.Warn("Updating playlist watch failed", "playlist_id", playlistID, "error", err)
	}
	return items
}

// recordPlaylistError stores the enumeration error in history, logging
// any bookkeeping failure without failing the run.
func (e *Engine) recordPlaylistError(ctx context.Context, playlistID, message string) {
	if err := e.history.RecordPlaylistError(ctx, playlistID, message); err != nil {
		e.logger.Warn("Recording playlist error failed", "playlist_id", playlistID, "error", err)
	}
}

// processFull enqueues every video not already archived.
func (e *Engine) processFull(ctx context.Context, playlist config.Playlist, playlistID, folder string,
	videos []discovery.Video, summary *Summary, preview, dryRun, allowPublic bool) []enqueuedItem {
	var items []enqueuedItem
	for _, video := range videos {
		if video.VideoID == "" {
			continue
		}
		downloaded, err := e.history.IsDownloaded(ctx, video.VideoID)
		if err != nil {
			e.logger.Error("History lookup failed", "video_id", video.VideoID, "error", err)
			continue
		}
		if downloaded {
			summary.Skipped++
			continue
		}
		if item := e.enqueueVideo(ctx, playlist, playlistID, folder, video, summary, preview, dryRun, allowPublic, false); item != nil {
			items = append(items, *item)
		}
	}
	return items
}

// processSubscribe seeds the seen table on first contact, then walks
// newest-first and stops at the first already-seen video.
func (e *Engine) processSubscribe(ctx context.Context, playlist config.Playlist, playlistID, folder string,
	result discovery.Result, summary *Summary, preview, dryRun bool) []enqueuedItem {
	seenBefore, err := e.history.HasSeen(ctx, playlistID)
	if err != nil {
		e.logger.Error("Seen lookup failed", "playlist_id", playlistID, "error", err)
		return nil
	}
	if !seenBefore {
		for _, video := range result.Videos {
			if video.VideoID == "" {
				continue
			}
			if err := e.history.MarkSeen(ctx, playlistID, video.VideoID, false); err != nil {
				e.logger.Error("Seeding seen state failed", "video_id", video.VideoID, "error", err)
			}
			summary.Seeded++
		}
		e.logger.Info("Subscribe playlist seeded, nothing enqueued",
			"playlist_id", playlistID, "videos", summary.Seeded)
		return nil
	}

	ordered := discovery.SortNewestFirst(result.Videos)
	var fresh []discovery.Video
	for _, video := range ordered {
		if video.VideoID == "" {
			continue
		}
		seen, err := e.history.IsSeen(ctx, playlistID, video.VideoID)
		if err != nil {
			e.logger.Error("Seen lookup failed", "video_id", video.VideoID, "error", err)
			break
		}
		if seen {
			break
		}
		fresh = append(fresh, video)
	}

	// Enqueue oldest first so archive ordering matches publication order.
	var items []enqueuedItem
	allowPublic := playlist.Account == ""
	for i := len(fresh) - 1; i >= 0; i-- {
		video := fresh[i]
		if err := e.history.MarkSeen(ctx, playlistID, video.VideoID, false); err != nil {
			e.logger.Error("Marking video seen failed", "video_id", video.VideoID, "error", err)
		}
		if item := e.enqueueVideo(ctx, playlist, playlistID, folder, video, summary, preview, dryRun, allowPublic, true); item != nil {
			items = append(items, *item)
		}
	}
	return items
}

// enqueueVideo creates one download job unless an active job already
// covers the URL. Preview and dry-run count without enqueueing.
func (e *Engine) enqueueVideo(ctx context.Context, playlist config.Playlist, playlistID, folder string,
	video discovery.Video, summary *Summary, preview, dryRun, allowPublic, subscribe bool) *enqueuedItem {
	musicMode := playlist.MusicMode
	url := naming.BuildDownloadURL(video.VideoID, musicMode, "")

	active, err := e.queue.HasActiveJob(ctx, "youtube", url)
	if err != nil {
		e.logger.Error("Active job lookup failed", "url", url, "error", err)
		return nil
	}
	if active {
		summary.Skipped++
		return nil
	}
	if preview || dryRun {
		summary.Enqueued++
		return nil
	}

	meta := e.disc.ResolveVideoMetadata(ctx, video.VideoID, allowPublic, musicMode)
	title := meta.Title
	if title == "" {
		title = video.Title
	}

	mediaType := "video"
	mediaIntent := "episode"
	if musicMode {
		mediaType = "audio"
		mediaIntent = "track"
	}
	jobCtx := map[string]any{
		"video_id":   video.VideoID,
		"music_mode": musicMode,
		"metadata": map[string]any{
			"title":        title,
			"channel":      meta.Channel,
			"artist":       meta.Artist,
			"album":        meta.Album,
			"album_artist": meta.AlbumArtist,
			"track":        meta.Track,
			"track_number": meta.TrackNumber,
			"upload_date":  meta.UploadDate,
		},
	}
	if meta.ThumbnailURL != "" {
		jobCtx["thumbnail_url"] = meta.ThumbnailURL
	}
	if playlist.Format != "" {
		jobCtx["target_format"] = playlist.Format
	}

	maxAttempts := 0
	if e.cfg != nil {
		maxAttempts = e.cfg.MaxAttempts
	}
	_, err = e.queue.Enqueue(ctx, jobs.EnqueueRequest{
		Origin:      "playlist",
		OriginID:    playlistID,
		MediaType:   mediaType,
		MediaIntent: mediaIntent,
		Source:      "youtube",
		URL:         url,
		OutputDir:   folder,
		Context:     jobCtx,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		e.logger.Error("Enqueue failed", "video_id", video.VideoID, "error", err)
		return nil
	}
	summary.Enqueued++
	return &enqueuedItem{
		playlistID:     playlistID,
		playlistItemID: video.PlaylistItemID,
		videoID:        video.VideoID,
		title:          title,
		subscribe:      subscribe,
	}
}

// finalizeItems classifies each enqueued video after the drain, updates
// subscribe bookkeeping and trims source playlists when configured.
func (e *Engine) finalizeItems(ctx context.Context, items []enqueuedItem, summary *Summary) {
	removeAfter := e.cfg != nil && e.cfg.RemoveFromPlaylist
	for _, item := range items {
		label := item.title
		if label == "" {
			label = item.videoID
		}
		downloaded, err := e.history.IsDownloaded(ctx, item.videoID)
		if err != nil || !downloaded {
			summary.Failed = append(summary.Failed, label)
			continue
		}
		summary.Completed = append(summary.Completed, label)
		if item.subscribe {
			if err := e.history.MarkDownloaded(ctx, item.playlistID, item.videoID); err != nil {
				e.logger.Warn("Marking seen row downloaded failed", "video_id", item.videoID, "error", err)
			}
		}
		if removeAfter && e.trimmer != nil && item.playlistItemID != "" {
			if err := e.trimmer.RemovePlaylistItem(ctx, item.playlistItemID); err != nil {
				e.logger.Warn("Removing archived playlist item failed",
					"playlist_item_id", item.playlistItemID, "error", err)
			}
		}
	}
}

// sendSummary posts the run result to the notifier, never failing the run.
func (e *Engine) sendSummary(ctx context.Context, summary *Summary) {
	if e.notify == nil || !e.notify.Enabled() {
		return
	}
	state := "completed"
	if len(summary.Failed) > 0 || summary.PlaylistErrors > 0 {
		state = "completed with errors"
	}
	header := fmt.Sprintf("Archive run %s: %d downloaded, %d failed, %d skipped",
		state, len(summary.Completed), len(summary.Failed), summary.Skipped)
	var lines []string
	for _, name := range summary.Completed {
		lines = append(lines, "OK "+name)
	}
	for _, name := range summary.Failed {
		lines = append(lines, "FAILED "+name)
	}
	if err := e.notify.SendItemized(ctx, header, lines); err != nil {
		e.logger.Warn("Run summary notification failed", "error", err)
	}
}

// RunSingle downloads one URL outside any playlist. Destination and format
// override the config, the URL decides music handling.
func (e *Engine) RunSingle(ctx context.Context, opts SingleOptions) (*jobs.Job, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	if err := paths.AcquireLock(e.paths.LockFile); err != nil {
		return nil, err
	}
	defer paths.ReleaseLock(e.paths.LockFile)

	runID := uuid.NewString()
	e.status.Update(func(s *status.Snapshot) { s.ClientDeliveryMode = opts.DeliveryMode })
	e.status.BeginRun(runID)
	lastError := ""
	defer func() { e.status.EndRun(lastError) }()

	// Client deliveries bypass the library entirely; the file lands in the
	// delivery directory and any requested destination is moot.
	dest := e.paths.ClientDeliveryDir
	if !opts.DeliveryMode {
		var err error
		dest, err = paths.ResolveDir(opts.Destination, e.roots.DownloadsDir)
		if err != nil {
			lastError = err.Error()
			return nil, fmt.Errorf("resolving destination: %w", err)
		}
	}

	musicMode := naming.IsMusicURL(opts.URL)
	mediaType := "video"
	mediaIntent := "movie"
	if musicMode {
		mediaType = "audio"
		mediaIntent = "track"
	}
	jobCtx := map[string]any{
		"video_id":   naming.ExtractVideoID(opts.URL),
		"music_mode": musicMode,
	}
	if opts.DeliveryMode {
		jobCtx["delivery_mode"] = "client"
	}
	if opts.Format != "" {
		jobCtx["target_format"] = opts.Format
	}

	jobID, err := e.queue.Enqueue(ctx, jobs.EnqueueRequest{
		Origin:      "single",
		OriginID:    runID,
		MediaType:   mediaType,
		MediaIntent: mediaIntent,
		Source:      "youtube",
		URL:         opts.URL,
		OutputDir:   dest,
		Context:     jobCtx,
		TraceID:     runID,
	})
	if err != nil {
		lastError = err.Error()
		return nil, err
	}

	if e.drainer != nil {
		if err := e.drainer.RunUntilIdle(ctx); err != nil {
			lastError = err.Error()
		}
	}

	job, err := e.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ok := job != nil && job.Status == jobs.StatusCompleted
	e.status.Update(func(s *status.Snapshot) { s.SingleDownloadOK = &ok })
	if !ok && job != nil && job.LastError != "" {
		lastError = job.LastError
	}
	return job, nil
}
