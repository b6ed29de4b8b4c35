package discovery

import (
	"context"
	"log/slog"
	"sort"
	"strconv"

	"tubevault/internal/ytdlp"
)

// FlatProber is the yt-dlp surface used for public fallback enumeration.
type FlatProber interface {
	EnumerateFlat(ctx context.Context, url string, overrides map[string]any) ([]ytdlp.Entry, error)
	Probe(ctx context.Context, url string, overrides map[string]any) (*ytdlp.VideoInfo, error)
}

// Result carries the enumeration outcome plus error classification so the
// caller can distinguish auth failures from empty playlists.
type Result struct {
	Videos        []Video
	FetchFailed   bool
	FallbackUsed  bool
	FallbackError bool
	RefreshError  bool
}

// Discoverer enumerates playlists. api may be nil for cookie-less public
// operation, prober may be nil when yt-dlp is unavailable.
type Discoverer struct {
	api       APIClient
	prober    FlatProber
	overrides map[string]any
	logger    *slog.Logger
}

// NewDiscoverer wires a discoverer. overrides are the allowlisted yt-dlp
// passthrough options applied to fallback probes.
func NewDiscoverer(api APIClient, prober FlatProber, overrides map[string]any, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{api: api, prober: prober, overrides: overrides, logger: logger}
}

// DiscoverPlaylistVideos lists a playlist, API first, then the public
// yt-dlp fallback when allowed.
func (d *Discoverer) DiscoverPlaylistVideos(ctx context.Context, playlistID string, allowPublic bool) Result {
	var result Result
	if d.api != nil {
		videos, err := d.api.ListPlaylistVideos(ctx, playlistID)
		if err != nil {
			if IsAuthRefreshError(err) {
				d.logger.Error("OAuth refresh failed while fetching playlist", "playlist_id", playlistID, "error", err)
				result.RefreshError = true
			} else {
				d.logger.Error("Playlist fetch failed", "playlist_id", playlistID, "error", err)
			}
			result.FetchFailed = true
		} else {
			result.Videos = videos
		}
	}
	if len(result.Videos) == 0 && allowPublic && d.prober != nil && !result.RefreshError {
		result.FallbackUsed = true
		entries, err := d.prober.EnumerateFlat(ctx, playlistURL(playlistID), d.overrides)
		if err != nil {
			d.logger.Error("Public playlist fallback failed", "playlist_id", playlistID, "error", err)
			result.FallbackError = true
			return result
		}
		for idx, entry := range entries {
			if entry.ID == "" {
				continue
			}
			result.Videos = append(result.Videos, Video{
				VideoID:     entry.ID,
				Position:    int64(idx),
				HasPosition: true,
				Title:       entry.Title,
			})
		}
	}
	return result
}

func playlistURL(playlistID string) string {
	return "https://www.youtube.com/playlist?list=" + playlistID
}

// SortNewestFirst orders videos for subscribe-mode scanning: highest
// playlist position first, falling back to reversing the listing order.
func SortNewestFirst(videos []Video) []Video {
	sorted := make([]Video, len(videos))
	copy(sorted, videos)
	anyPosition := false
	for _, video := range sorted {
		if video.HasPosition {
			anyPosition = true
			break
		}
	}
	if anyPosition {
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Position > sorted[j].Position
		})
		return sorted
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted
}

// ResolveVideoMetadata builds the richest metadata available for one
// video. Music mode overlays the yt-dlp probe, which carries track and
// album tags the Data API does not expose.
func (d *Discoverer) ResolveVideoMetadata(ctx context.Context, videoID string, allowPublic, musicMode bool) *VideoMeta {
	var meta *VideoMeta
	if d.api != nil {
		apiMeta, err := d.api.VideoMetadata(ctx, videoID)
		if err != nil {
			d.logger.Error("Metadata fetch failed", "video_id", videoID, "error", err)
		} else {
			meta = apiMeta
		}
	}
	if meta == nil && allowPublic {
		meta = d.probeMetadata(ctx, videoID)
	}
	if musicMode {
		if probed := d.probeMetadata(ctx, videoID); probed != nil {
			meta = overlayMusicMeta(meta, probed)
		}
		if meta != nil {
			if meta.Track == "" && meta.Title != "" {
				meta.Track = meta.Title
			}
			if meta.Artist == "" && meta.Channel != "" {
				meta.Artist = meta.Channel
			}
		}
	}
	if meta == nil {
		// Last resort keeps the pipeline moving with id-only names.
		meta = &VideoMeta{
			VideoID: videoID,
			Title:   videoID,
			URL:     "https://www.youtube.com/watch?v=" + videoID,
		}
	}
	return meta
}

func (d *Discoverer) probeMetadata(ctx context.Context, videoID string) *VideoMeta {
	if d.prober == nil {
		return nil
	}
	info, err := d.prober.Probe(ctx, "https://www.youtube.com/watch?v="+videoID, d.overrides)
	if err != nil {
		d.logger.Warn("Public metadata probe failed", "video_id", videoID, "error", err)
		return nil
	}
	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	url := info.WebpageURL
	if url == "" {
		url = "https://www.youtube.com/watch?v=" + videoID
	}
	return &VideoMeta{
		VideoID:      videoID,
		Title:        info.Title,
		Channel:      channel,
		Artist:       info.Artist,
		Album:        info.Album,
		Track:        info.Track,
		TrackNumber:  trackNumberString(info.TrackNumber),
		UploadDate:   info.UploadDate,
		URL:          url,
		ThumbnailURL: info.Thumbnail,
	}
}

func trackNumberString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return ""
	default:
		return ""
	}
}

// overlayMusicMeta keeps the API base and fills music tags from the probe.
func overlayMusicMeta(base, probed *VideoMeta) *VideoMeta {
	if base == nil {
		return probed
	}
	merged := *base
	if probed.Artist != "" {
		merged.Artist = probed.Artist
	}
	if probed.Album != "" {
		merged.Album = probed.Album
	}
	if probed.AlbumArtist != "" {
		merged.AlbumArtist = probed.AlbumArtist
	}
	if probed.Track != "" {
		merged.Track = probed.Track
	}
	if probed.TrackNumber != "" {
		merged.TrackNumber = probed.TrackNumber
	}
	if probed.Title != "" {
		merged.Title = probed.Title
	}
	if probed.ThumbnailURL != "" {
		merged.ThumbnailURL = probed.ThumbnailURL
	}
	if probed.URL != "" {
		merged.URL = probed.URL
	}
	return &merged
}
