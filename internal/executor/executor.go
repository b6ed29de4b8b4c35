// Package executor runs one download job end to end: staging, the attempt
// ladder, validation, conversion, placement and history bookkeeping.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tubevault/internal/delivery"
	"tubevault/internal/jobs"
	"tubevault/internal/media"
	"tubevault/internal/naming"
	"tubevault/internal/paths"
	"tubevault/internal/status"
	"tubevault/internal/ytdlp"
)

// Downloader is the yt-dlp surface the executor needs.
type Downloader interface {
	Download(ctx context.Context, req ytdlp.DownloadRequest, attempt ytdlp.Attempt) (*ytdlp.VideoInfo, error)
	ProbeFormats(ctx context.Context, url string, overrides map[string]any) (string, error)
}

// MediaTools validates and post-processes downloaded files.
type MediaTools interface {
	ValidateOutput(ctx context.Context, path string, audioMode bool) error
	ConvertContainer(ctx context.Context, path, desiredExt string) (string, error)
	EmbedTags(ctx context.Context, path string, tags media.Tags, coverPath string) error
}

// MetadataQueue receives finished music files for background tag
// enrichment.
type MetadataQueue interface {
	EnqueueFile(path string, meta naming.TrackMeta, durationSec int) bool
}

// HistoryRecorder persists completed downloads.
type HistoryRecorder interface {
	RecordDownload(ctx context.Context, videoID, playlistID, filePath string) error
	MarkDownloaded(ctx context.Context, playlistID, videoID string) error
}

// Config carries the archive-wide settings folded into every job.
type Config struct {
	FinalFormat        string
	YtDlpOverrides     map[string]any
	CookiesPath        string
	CookiesFromBrowser string
	Hardened           bool
	ThumbsDir          string
}

// Outcome describes a finished job.
type Outcome struct {
	FinalPath string
	Filename  string
	VideoID   string
	Title     string
}

// Executor turns claimed jobs into files on disk.
type Executor struct {
	downloader Downloader
	media      MediaTools
	history    HistoryRecorder
	deliveries *delivery.Registry
	roots      paths.Roots
	engine     paths.EnginePaths
	status     *status.Publisher
	config     Config
	logger     *slog.Logger
	metadata   MetadataQueue
}

// SetMetadataQueue attaches the optional music enrichment queue.
func (e *Executor) SetMetadataQueue(q MetadataQueue) {
	e.metadata = q
}

// New wires an executor. deliveries may be nil when no HTTP surface wants
// finished files handed back.
func New(downloader Downloader, mediaTools MediaTools, hist HistoryRecorder,
	deliveries *delivery.Registry, roots paths.Roots, engine paths.EnginePaths,
	pub *status.Publisher, config Config, logger *slog.Logger) *Executor {
	if pub == nil {
		pub = status.NewPublisher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		downloader: downloader,
		media:      mediaTools,
		history:    hist,
		deliveries: deliveries,
		roots:      roots,
		engine:     engine,
		status:     pub,
		config:     config,
		logger:     logger,
	}
}

type jobContext struct {
	videoID      string
	audioOnly    bool
	musicMode    bool
	targetFormat string
	meta         naming.TrackMeta
	thumbnailURL string
	deliver      bool
}

func parseJobContext(job *jobs.Job) jobContext {
	var jc jobContext
	ctx := job.Context
	if ctx == nil {
		return jc
	}
	if v, ok := ctx["delivery_mode"].(string); ok {
		jc.deliver = v == "client"
	}
	if v, ok := ctx["video_id"].(string); ok {
		jc.videoID = v
	}
	if v, ok := ctx["audio_only"].(bool); ok {
		jc.audioOnly = v
	}
	if v, ok := ctx["music_mode"].(bool); ok {
		jc.musicMode = v
	}
	if v, ok := ctx["target_format"].(string); ok {
		jc.targetFormat = v
	}
	if v, ok := ctx["thumbnail_url"].(string); ok {
		jc.thumbnailURL = v
	}
	if metaMap, ok := ctx["metadata"].(map[string]any); ok {
		str := func(key string) string {
			if v, ok := metaMap[key].(string); ok {
				return v
			}
			return ""
		}
		jc.meta = naming.TrackMeta{
			Artist:      str("artist"),
			AlbumArtist: str("album_artist"),
			Album:       str("album"),
			Track:       str("track"),
			Title:       str("title"),
			TrackNumber: str("track_number"),
			Channel:     str("channel"),
			UploadDate:  str("upload_date"),
		}
	}
	return jc
}

// Execute runs a job. The returned error is classified by the caller for
// retry purposes, a nil error means the file is in place.
func (e *Executor) Execute(ctx context.Context, job *jobs.Job) (*Outcome, error) {
	jc := parseJobContext(job)
	if jc.videoID == "" {
		jc.videoID = naming.ExtractVideoID(job.URL)
	}
	stem := jc.videoID
	if stem == "" {
		stem = job.ID
	}

	staging := filepath.Join(e.engine.TempDownloadsDir, job.ID)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	musicMode := jc.musicMode || job.MediaIntent == "track" || job.MediaIntent == "album"
	audioOnly := jc.audioOnly || job.MediaType == "audio"
	formatCtx := ytdlp.ResolveDownloadFormat(jc.targetFormat, e.config.FinalFormat, musicMode, audioOnly)

	plan := ytdlp.BuildAttemptPlan(formatCtx.FormatSelector, e.config.Hardened,
		e.config.CookiesPath, e.config.CookiesFromBrowser)
	overrides, dropped := ytdlp.FilterDownloadOverrides(e.config.YtDlpOverrides)
	if len(dropped) > 0 {
		e.logger.Warn("Dropping unsafe yt_dlp_opts for download", "keys", strings.Join(dropped, ","))
	}

	e.status.SetPhase(status.PhaseDownloading)
	e.status.SetCurrent(job.OriginID, jc.videoID, jc.meta.Title)

	req := ytdlp.DownloadRequest{
		URL:        job.URL,
		StagingDir: staging,
		TempDir:    e.engine.YtdlpTempDir,
		OutputStem: stem,
		Format:     formatCtx,
		MusicMode:  musicMode,
		Overrides:  overrides,
	}

	chosen, info, err := e.runAttempts(ctx, job, req, plan, formatCtx, jc.videoID)
	if err != nil {
		return nil, err
	}
	if info != nil {
		mergeProbedMeta(&jc.meta, info)
		if jc.thumbnailURL == "" {
			jc.thumbnailURL = info.Thumbnail
		}
	}

	chosen, err = e.finishFile(ctx, chosen, formatCtx, musicMode, jc)
	if err != nil {
		return nil, err
	}

	finalPath, err := e.placeFile(chosen, job, jc, musicMode)
	if err != nil {
		return nil, err
	}

	// Client deliveries never enter the downloads table: the file is handed
	// to the requester and deleted, so a history row would block re-download.
	if e.history != nil && !jc.deliver {
		playlistID := ""
		if job.Origin == "playlist" {
			playlistID = job.OriginID
		}
		if err := e.history.RecordDownload(ctx, jc.videoID, playlistID, finalPath); err != nil {
			e.logger.Error("Recording download failed", "video_id", jc.videoID, "error", err)
		}
	}

	if musicMode && e.metadata != nil {
		duration := 0
		if info != nil {
			duration = int(info.Duration)
		}
		e.metadata.EnqueueFile(finalPath, jc.meta, duration)
	}

	outcome := &Outcome{
		FinalPath: finalPath,
		Filename:  filepath.Base(finalPath),
		VideoID:   jc.videoID,
		Title:     jc.meta.Title,
	}
	if jc.deliver && e.deliveries != nil {
		handle := e.deliveries.Publish(finalPath, outcome.Filename)
		e.status.Update(func(s *status.Snapshot) {
			s.ClientDeliveryID = handle.ID
			s.ClientDeliveryFilename = handle.Filename
			s.ClientDeliveryExpiresAt = handle.ExpiresAt.UTC().Format(time.RFC3339)
		})
	}
	statusPath := finalPath
	if jc.deliver {
		// The delivered file is transient, so nothing durable to point at.
		statusPath = ""
	}
	e.status.RecordSuccess(outcome.Filename, statusPath)
	e.logger.Info("Job finished", "job_id", job.ID, "trace_id", job.TraceID, "path", finalPath)
	return outcome, nil
}

// runAttempts walks the ladder until one attempt produces a usable file.
func (e *Executor) runAttempts(ctx context.Context, job *jobs.Job, req ytdlp.DownloadRequest,
	plan []ytdlp.Attempt, formatCtx ytdlp.FormatContext, videoID string) (string, *ytdlp.VideoInfo, error) {
	var lastErr error
	for idx, attempt := range plan {
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		if videoID != "" && ytdlp.HasStuckPartial(e.engine.YtdlpTempDir, videoID) {
			e.logger.Warn("Wiping stuck partial before retry", "video_id", videoID)
			if err := ytdlp.WipeTempDir(e.engine.YtdlpTempDir); err != nil {
				e.logger.Warn("Temp wipe failed", "error", err)
			}
		}

		info, err := e.downloader.Download(ctx, req, attempt)
		if err != nil {
			lastErr = err
			e.logger.Warn("Download attempt failed",
				"job_id", job.ID, "attempt", idx+1, "client", attempt.Client, "error", err)
			if formats, probeErr := e.downloader.ProbeFormats(ctx, job.URL, req.Overrides); probeErr == nil {
				e.logger.Debug("Available formats after failure", "job_id", job.ID, "formats", formats)
			}
			continue
		}

		output, err := ytdlp.FindOutput(req.StagingDir, req.OutputStem, req.Format.PreferredExts)
		if err != nil {
			lastErr = err
			continue
		}
		if err := e.media.ValidateOutput(ctx, output, req.Format.AudioMode); err != nil {
			lastErr = err
			if errors.Is(err, media.ErrAudioOnly) {
				e.logger.Warn("Attempt produced audio-only output, trying next client",
					"job_id", job.ID, "attempt", idx+1)
				os.Remove(output)
				continue
			}
			continue
		}
		return output, info, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no download attempts available")
	}
	return "", nil, lastErr
}

// finishFile embeds tags for non-music downloads and converts the
// container to the requested final format.
func (e *Executor) finishFile(ctx context.Context, path string, formatCtx ytdlp.FormatContext,
	musicMode bool, jc jobContext) (string, error) {
	if !musicMode {
		e.status.SetPhase(status.PhaseEmbedding)
		cover := ""
		if jc.thumbnailURL != "" {
			cover = media.FetchThumbnail(ctx, jc.thumbnailURL, e.config.ThumbsDir, jc.videoID)
			if cover != "" {
				defer os.Remove(cover)
			}
		}
		tags := media.Tags{
			Title:       jc.meta.Title,
			Artist:      jc.meta.Artist,
			Album:       jc.meta.Album,
			AlbumArtist: jc.meta.AlbumArtist,
			TrackNumber: jc.meta.TrackNumber,
			Date:        jc.meta.UploadDate,
		}
		if err := e.media.EmbedTags(ctx, path, tags, cover); err != nil {
			e.logger.Warn("Metadata embedding failed, keeping untagged file", "error", err)
		}
	}

	if !formatCtx.AudioMode && formatCtx.TargetFormat != "" {
		e.status.SetPhase(status.PhaseConverting)
		converted, err := e.media.ConvertContainer(ctx, path, formatCtx.TargetFormat)
		if err != nil {
			// The downloaded file is valid, only the remux failed; ship it
			// in its original container rather than failing the job.
			e.logger.Warn("Final format conversion failed, keeping original container",
				"target", formatCtx.TargetFormat, "error", err)
		} else {
			path = converted
		}
	}
	return path, nil
}

// placeFile moves the finished file into the job's output directory,
// which must stay inside the downloads sandbox. Client deliveries go to
// the dedicated delivery directory instead, outside the library so file
// listings never surface them and the registry may delete them freely.
func (e *Executor) placeFile(src string, job *jobs.Job, jc jobContext, musicMode bool) (string, error) {
	e.status.SetPhase(status.PhaseFinalizing)
	var targetDir string
	if jc.deliver {
		targetDir = e.engine.ClientDeliveryDir
	} else {
		var err error
		targetDir, err = paths.ResolveDir(job.OutputDir, e.roots.DownloadsDir)
		if err != nil {
			return "", fmt.Errorf("resolving output dir: %w", err)
		}
	}
	ext := strings.TrimPrefix(filepath.Ext(src), ".")
	name := jc.meta
	if name.Title == "" {
		name.Title = jc.videoID
	}
	relName := naming.BuildOutputFilename(name, jc.videoID, ext, musicMode)
	finalPath := filepath.Join(targetDir, relName)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("creating output dirs: %w", err)
	}
	if err := moveFile(src, finalPath); err != nil {
		return "", fmt.Errorf("placing output: %w", err)
	}
	return finalPath, nil
}

func mergeProbedMeta(meta *naming.TrackMeta, info *ytdlp.VideoInfo) {
	if meta.Title == "" {
		meta.Title = info.Title
	}
	if meta.Channel == "" {
		meta.Channel = info.Channel
		if meta.Channel == "" {
			meta.Channel = info.Uploader
		}
	}
	if meta.Artist == "" {
		meta.Artist = info.Artist
	}
	if meta.Album == "" {
		meta.Album = info.Album
	}
	if meta.Track == "" {
		meta.Track = info.Track
	}
	if meta.UploadDate == "" {
		meta.UploadDate = info.UploadDate
	}
}

// moveFile renames when possible and copies across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
