package metadata

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"tubevault/internal/config"
	"tubevault/internal/media"
	"tubevault/internal/naming"
)

// Settings is the normalized music_metadata configuration.
type Settings struct {
	Enabled             bool
	ConfidenceThreshold int
	EmbedArtwork        bool
	AllowOverwriteTags  bool
	RateLimit           time.Duration
	DryRun              bool
}

// DefaultSettings mirrors the documented config defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:             true,
		ConfidenceThreshold: 70,
		EmbedArtwork:        true,
		AllowOverwriteTags:  true,
		RateLimit:           1500 * time.Millisecond,
	}
}

// SettingsFromConfig folds the optional config block over the defaults.
func SettingsFromConfig(mm *config.MusicMetadata) Settings {
	s := DefaultSettings()
	if mm == nil {
		return s
	}
	if mm.Enabled != nil {
		s.Enabled = *mm.Enabled
	}
	if mm.ConfidenceThreshold > 0 {
		s.ConfidenceThreshold = mm.ConfidenceThreshold
	}
	if mm.EmbedArtwork != nil {
		s.EmbedArtwork = *mm.EmbedArtwork
	}
	if mm.AllowOverwriteTags != nil {
		s.AllowOverwriteTags = *mm.AllowOverwriteTags
	}
	if mm.RateLimitSeconds > 0 {
		s.RateLimit = time.Duration(mm.RateLimitSeconds * float64(time.Second))
	}
	s.DryRun = mm.DryRun
	return s
}

// Searcher finds candidate recordings for a source query.
type Searcher interface {
	SearchRecordings(ctx context.Context, artist, title, album string) ([]Candidate, error)
}

// TagEmbedder writes tags and artwork into a media file.
type TagEmbedder interface {
	EmbedTags(ctx context.Context, path string, tags media.Tags, coverPath string) error
}

type item struct {
	path        string
	meta        naming.TrackMeta
	durationSec int
}

// Worker is a single background goroutine draining the enrichment queue
// with a courtesy delay between lookups.
type Worker struct {
	search   Searcher
	tags     TagEmbedder
	settings Settings
	workDir  string
	logger   *slog.Logger

	queue chan item
	start sync.Once
	done  chan struct{}
}

// NewWorker builds a stopped worker. workDir holds temporary cover files.
func NewWorker(search Searcher, tags TagEmbedder, settings Settings, workDir string, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		search:   search,
		tags:     tags,
		settings: settings,
		workDir:  workDir,
		logger:   logger,
		queue:    make(chan item, 256),
		done:     make(chan struct{}),
	}
}

// EnqueueFile queues a downloaded music file for enrichment. Returns false
// when enrichment is disabled or the queue is full; the worker starts
// lazily on first use.
func (w *Worker) EnqueueFile(path string, meta naming.TrackMeta, durationSec int) bool {
	if w == nil || !w.settings.Enabled || path == "" {
		return false
	}
	w.start.Do(func() {
		go w.run()
		w.logger.Info("Music metadata worker started")
	})
	select {
	case w.queue <- item{path: path, meta: meta, durationSec: durationSec}:
		return true
	default:
		w.logger.Warn("Music metadata queue full, skipping", "path", path)
		return false
	}
}

// Close stops the worker after the queued items drain.
func (w *Worker) Close() {
	w.start.Do(func() { go w.run() })
	close(w.queue)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for it := range w.queue {
		w.processItem(context.Background(), it)
		if w.settings.RateLimit > 0 {
			time.Sleep(w.settings.RateLimit)
		}
	}
}

func (w *Worker) processItem(ctx context.Context, it item) {
	if _, err := os.Stat(it.path); err != nil {
		w.logger.Warn("Music metadata skipped: file missing", "path", it.path)
		return
	}
	source := ParseSource(it.meta, it.path)
	if source.Artist == "" || source.Title == "" {
		w.logger.Warn("Music metadata skipped: missing source artist/title", "path", it.path)
		return
	}

	candidates, err := w.search.SearchRecordings(ctx, source.Artist, source.Title, source.Album)
	if err != nil {
		w.logger.Warn("Music metadata lookup failed", "path", it.path, "error", err)
		return
	}
	best, score := SelectBestMatch(source, candidates, it.durationSec)
	if best == nil || score < w.settings.ConfidenceThreshold {
		w.logger.Warn("Music metadata below confidence threshold",
			"path", it.path, "score", score, "threshold", w.settings.ConfidenceThreshold)
		return
	}
	w.logger.Info("Music metadata matched",
		"score", score, "artist", best.Artist, "title", best.Title, "album", best.Album)

	if w.settings.DryRun {
		return
	}

	cover := ""
	if w.settings.EmbedArtwork && best.ReleaseID != "" {
		cover = FetchCoverArt(ctx, "", best.ReleaseID, w.workDir)
		if cover != "" {
			defer os.Remove(cover)
		}
	}
	tags := buildTags(source, *best, w.settings.AllowOverwriteTags)
	if err := w.tags.EmbedTags(ctx, it.path, tags, cover); err != nil {
		w.logger.Warn("Music metadata embed failed", "path", it.path, "error", err)
	}
}

// buildTags prefers the matched values; with overwriting disabled the
// source's existing tags win where present.
func buildTags(source Source, best Candidate, allowOverwrite bool) media.Tags {
	tags := media.Tags{
		Title:       best.Title,
		Artist:      best.Artist,
		Album:       best.Album,
		AlbumArtist: best.AlbumArtist,
		TrackNumber: best.TrackNumber,
		Date:        best.Year,
	}
	if !allowOverwrite {
		if source.Title != "" {
			tags.Title = source.Title
		}
		if source.Artist != "" {
			tags.Artist = source.Artist
		}
		if source.Album != "" {
			tags.Album = source.Album
		}
	}
	return tags
}
