package search

import (
	"context"
	"fmt"
	"strings"

	"tubevault/internal/ytdlp"
)

// DefaultSourcePriority is the order sources are queried and the tiebreak
// order for equal scores.
var DefaultSourcePriority = []string{"bandcamp", "youtube_music", "soundcloud"}

// Adapter queries one source for candidates. Adapters return raw hits,
// scoring happens centrally.
type Adapter interface {
	SourceName() string
	SearchTrack(ctx context.Context, artist, track, album string, limit int) ([]Candidate, error)
	SearchAlbum(ctx context.Context, artist, album string, limit int) ([]Candidate, error)
	SourceModifier(candidate Candidate) float64
}

// DefaultAdapters wires the built-in source set. prober may be nil, which
// leaves youtube_music queries empty.
func DefaultAdapters(prober Prober) map[string]Adapter {
	return map[string]Adapter{
		"bandcamp":      &BandcampAdapter{},
		"youtube_music": &YouTubeMusicAdapter{Prober: prober},
		"soundcloud":    &SoundCloudAdapter{},
	}
}

// BandcampAdapter prefers artist-published pages, hence the boost. Query
// support is pending a stable public endpoint, so searches return nothing.
type BandcampAdapter struct{}

func (a *BandcampAdapter) SourceName() string { return "bandcamp" }

func (a *BandcampAdapter) SearchTrack(ctx context.Context, artist, track, album string, limit int) ([]Candidate, error) {
	return nil, nil
}

func (a *BandcampAdapter) SearchAlbum(ctx context.Context, artist, album string, limit int) ([]Candidate, error) {
	return nil, nil
}

func (a *BandcampAdapter) SourceModifier(Candidate) float64 { return 1.05 }

// SoundCloudAdapter mirrors bandcamp: modifier only until search lands.
type SoundCloudAdapter struct{}

func (a *SoundCloudAdapter) SourceName() string { return "soundcloud" }

func (a *SoundCloudAdapter) SearchTrack(ctx context.Context, artist, track, album string, limit int) ([]Candidate, error) {
	return nil, nil
}

func (a *SoundCloudAdapter) SearchAlbum(ctx context.Context, artist, album string, limit int) ([]Candidate, error) {
	return nil, nil
}

func (a *SoundCloudAdapter) SourceModifier(Candidate) float64 { return 0.95 }

// Prober runs flat search enumeration, satisfied by the yt-dlp client.
type Prober interface {
	EnumerateFlat(ctx context.Context, url string, overrides map[string]any) ([]ytdlp.Entry, error)
}

// YouTubeMusicAdapter searches via yt-dlp's ytsearch pseudo-URL. Official
// artist uploads keep full weight, everything else is discounted.
type YouTubeMusicAdapter struct {
	Prober Prober
}

func (a *YouTubeMusicAdapter) SourceName() string { return "youtube_music" }

func (a *YouTubeMusicAdapter) SearchTrack(ctx context.Context, artist, track, album string, limit int) ([]Candidate, error) {
	return a.search(ctx, strings.TrimSpace(artist+" "+track), limit)
}

func (a *YouTubeMusicAdapter) SearchAlbum(ctx context.Context, artist, album string, limit int) ([]Candidate, error) {
	return a.search(ctx, strings.TrimSpace(artist+" "+album+" full album"), limit)
}

func (a *YouTubeMusicAdapter) search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	if a.Prober == nil || query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	entries, err := a.Prober.EnumerateFlat(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query), nil)
	if err != nil {
		return nil, fmt.Errorf("youtube music search: %w", err)
	}
	candidates := make([]Candidate, 0, len(entries))
	for _, entry := range entries {
		url := entry.URL
		if url == "" && entry.ID != "" {
			url = "https://music.youtube.com/watch?v=" + entry.ID
		}
		if url == "" {
			continue
		}
		uploader := entry.Channel
		if uploader == "" {
			uploader = entry.Uploader
		}
		var duration *int
		if entry.Duration > 0 {
			d := int(entry.Duration)
			duration = &d
		}
		candidates = append(candidates, Candidate{
			Source:      "youtube_music",
			URL:         url,
			Title:       entry.Title,
			Uploader:    uploader,
			DurationSec: duration,
			IsOfficial:  isOfficialChannel(uploader),
		})
	}
	return candidates, nil
}

func isOfficialChannel(uploader string) bool {
	lowered := strings.ToLower(uploader)
	return strings.Contains(lowered, " - topic") || strings.HasSuffix(lowered, "vevo")
}

func (a *YouTubeMusicAdapter) SourceModifier(candidate Candidate) float64 {
	if candidate.IsOfficial {
		return 1.0
	}
	return 0.90
}
