package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tubevault/internal/jobs"
)

// JobEnqueuer is the download queue surface the resolver needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (string, error)
	HasJobForOrigin(ctx context.Context, origin, originID, url string) (bool, error)
}

// ResolverConfig carries the archive settings the resolver folds into
// enqueued jobs.
type ResolverConfig struct {
	OutputDir           string
	MusicOutputTemplate string
	VideoOutputTemplate string
	FinalFormat         string
	MaxAttempts         int
}

// Resolver drains queued search requests: query adapters, rank, pick the
// best candidate above threshold and enqueue a download job for it.
type Resolver struct {
	store    *Store
	queue    JobEnqueuer
	adapters map[string]Adapter
	cache    Cache
	config   ResolverConfig
	logger   *slog.Logger
}

// NewResolver wires a resolver. A nil cache disables memoization, a nil
// adapters map gets the default source set without live probing.
func NewResolver(store *Store, queue JobEnqueuer, adapters map[string]Adapter, cache Cache, config ResolverConfig, logger *slog.Logger) *Resolver {
	if adapters == nil {
		adapters = DefaultAdapters(nil)
	}
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, queue: queue, adapters: adapters, cache: cache, config: config, logger: logger}
}

// RunOnce claims and fully processes one queued request. Returns the
// request id, or empty when the queue was idle.
func (r *Resolver) RunOnce(ctx context.Context) (string, error) {
	request, err := r.store.ClaimNextRequest(ctx)
	if err != nil || request == nil {
		return "", err
	}

	if request.Intent == "artist" || request.Intent == "artist_collection" {
		return request.ID, r.store.UpdateRequestStatus(ctx, request.ID, RequestFailed, "not_implemented")
	}

	if err := r.store.EnsureItems(ctx, request); err != nil {
		return request.ID, err
	}
	if err := r.store.UpdateRequestStatus(ctx, request.ID, RequestRunning, ""); err != nil {
		return request.ID, err
	}
	items, err := r.store.ListItems(ctx, request.ID)
	if err != nil {
		return request.ID, err
	}
	for _, item := range items {
		switch item.Status {
		case ItemQueued, ItemSearching, ItemCandidateFound:
			r.processItem(ctx, request, item)
		}
	}
	return request.ID, r.store.FinalizeRequest(ctx, request.ID)
}

// RunLoop polls until the context is done.
func (r *Resolver) RunLoop(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	for {
		id, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("Search resolution failed", "request_id", id, "error", err)
		}
		if id == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func (r *Resolver) processItem(ctx context.Context, request *Request, item Item) {
	moved, err := r.store.MarkItemSearching(ctx, item.ID)
	if err != nil {
		r.logger.Error("Could not mark search item", "item_id", item.ID, "error", err)
		return
	}
	if !moved && item.Status == ItemQueued {
		return
	}

	candidates := r.gatherCandidates(ctx, request, item)
	if len(candidates) == 0 {
		r.store.UpdateItemStatus(ctx, item.ID, ItemFailed, "no_candidates")
		return
	}

	target := Target{
		Artist:          item.Artist,
		Track:           item.Track,
		Album:           item.Album,
		DurationHintSec: item.DurationHintSec,
	}
	ranked := RankCandidates(target, candidates, request.SourcePriority)
	if err := r.store.SaveCandidates(ctx, item.ID, ranked); err != nil {
		r.logger.Error("Could not persist candidates", "item_id", item.ID, "error", err)
	}
	r.store.UpdateItemStatus(ctx, item.ID, ItemCandidateFound, "")

	minScore := request.MinMatchScore
	if minScore <= 0 {
		minScore = DefaultMinMatchScore
	}
	var chosen *Ranked
	for i := range ranked {
		if ranked[i].Breakdown.FinalScore >= minScore {
			chosen = &ranked[i]
			break
		}
	}
	if chosen == nil {
		r.store.UpdateItemStatus(ctx, item.ID, ItemFailed, "no_candidate_above_threshold")
		return
	}

	if err := r.store.UpdateItemChoice(ctx, item.ID, chosen.Candidate.Source, chosen.Candidate.URL, chosen.Breakdown.FinalScore); err != nil {
		r.logger.Error("Could not record choice", "item_id", item.ID, "error", err)
	}
	if err := r.enqueueDownload(ctx, request, item, chosen); err != nil {
		r.logger.Error("Could not enqueue download for search item", "item_id", item.ID, "error", err)
		r.store.UpdateItemStatus(ctx, item.ID, ItemFailed, "enqueue_failed")
		return
	}
	r.store.UpdateItemStatus(ctx, item.ID, ItemEnqueued, "")
}

func (r *Resolver) gatherCandidates(ctx context.Context, request *Request, item Item) []Candidate {
	maxCandidates := request.MaxCandidatesPerSource
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	var candidates []Candidate
	for _, source := range request.SourcePriority {
		adapter, ok := r.adapters[source]
		if !ok {
			continue
		}
		key := CacheKey(source, item.ItemType, item.Artist, item.Track, item.Album, maxCandidates)
		results, hit := r.cache.Get(ctx, key)
		if !hit {
			var err error
			if item.ItemType == "track" {
				results, err = adapter.SearchTrack(ctx, item.Artist, item.Track, item.Album, maxCandidates)
			} else {
				results, err = adapter.SearchAlbum(ctx, item.Artist, item.Album, maxCandidates)
			}
			if err != nil {
				r.logger.Warn("Source search failed", "source", source, "item_id", item.ID, "error", err)
				continue
			}
			r.cache.Set(ctx, key, results)
		}
		if len(results) > maxCandidates {
			results = results[:maxCandidates]
		}
		for _, candidate := range results {
			if candidate.URL == "" {
				continue
			}
			candidate.Source = source
			candidate.SourceModifier = adapter.SourceModifier(candidate)
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

func (r *Resolver) enqueueDownload(ctx context.Context, request *Request, item Item, chosen *Ranked) error {
	exists, err := r.queue.HasJobForOrigin(ctx, "search", request.ID, chosen.Candidate.URL)
	if err != nil {
		return err
	}
	if exists {
		r.logger.Info("Download job already exists for search item",
			"request_id", request.ID, "item_id", item.ID, "url", chosen.Candidate.URL)
		return nil
	}

	template := r.config.VideoOutputTemplate
	if item.MediaType == "audio" {
		template = r.config.MusicOutputTemplate
	}
	track := chosen.Candidate.Track
	if track == "" {
		track = chosen.Candidate.Title
	}
	traceID := uuid.NewString()
	_, err = r.queue.Enqueue(ctx, jobs.EnqueueRequest{
		Origin:         "search",
		OriginID:       request.ID,
		MediaType:      item.MediaType,
		MediaIntent:    item.ItemType,
		Source:         chosen.Candidate.Source,
		URL:            chosen.Candidate.URL,
		OutputTemplate: template,
		OutputDir:      r.config.OutputDir,
		MaxAttempts:    r.config.MaxAttempts,
		TraceID:        traceID,
		Context: map[string]any{
			"request_id":    request.ID,
			"item_id":       item.ID,
			"target_format": r.config.FinalFormat,
			"audio_only":    item.MediaType == "audio",
			"metadata": map[string]any{
				"title":        chosen.Candidate.Title,
				"artist":       chosen.Candidate.Artist,
				"album":        chosen.Candidate.Album,
				"track":        track,
				"url":          chosen.Candidate.URL,
				"duration_sec": chosen.Candidate.DurationSec,
			},
			"source_modifier": chosen.Breakdown.SourceModifier,
			"final_score":     chosen.Breakdown.FinalScore,
			"trace_id":        traceID,
		},
	})
	if err != nil {
		return err
	}
	r.logger.Info("Download job enqueued from search",
		"request_id", request.ID, "item_id", item.ID, "trace_id", traceID,
		"source", chosen.Candidate.Source, "url", chosen.Candidate.URL)
	return nil
}
