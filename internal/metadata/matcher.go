// Package metadata enriches archived music files with canonical tags
// looked up on MusicBrainz. It runs behind the download pipeline and never
// blocks or fails a download.
package metadata

import (
	"path/filepath"
	"regexp"
	"strings"

	"tubevault/internal/naming"
	"tubevault/internal/search"
)

var (
	titleCleanRe = regexp.MustCompile(`(?i)\s*[(\[{][^)\]}]*?(official|music video|video|lyric|audio|visualizer|full video|hd|4k)[^)\]}]*?[)\]}]\s*`)
	titleTrailRe = regexp.MustCompile(`(?i)\s*-\s*(official|music video|video|lyric|audio|visualizer|full video).*$`)
	vevoSuffixRe = regexp.MustCompile(`(?i)vevo$`)
)

// Source is the artist/title/album extracted from a downloaded file's tags
// or filename, used as the lookup query.
type Source struct {
	Artist      string
	Title       string
	Album       string
	SourceTitle string
}

// Candidate is one MusicBrainz recording match.
type Candidate struct {
	RecordingID string
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	TrackNumber string
	ReleaseID   string
	Year        string
	DurationSec int
}

// ParseSource derives the lookup terms from the embedded metadata, falling
// back to "Artist - Title" filename splitting.
func ParseSource(meta naming.TrackMeta, filePath string) Source {
	title := CleanTitle(firstNonEmpty(meta.Track, meta.Title))
	artist := CleanArtist(meta.Artist)
	album := CleanTitle(meta.Album)

	sourceTitle := title
	if sourceTitle == "" {
		base := filepath.Base(filePath)
		sourceTitle = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if artist == "" && strings.Contains(sourceTitle, " - ") {
		parts := strings.SplitN(sourceTitle, " - ", 2)
		artist = CleanArtist(strings.TrimSpace(parts[0]))
		title = CleanTitle(strings.TrimSpace(parts[1]))
	}
	if title == "" {
		title = CleanTitle(sourceTitle)
	}
	return Source{
		Artist:      strings.TrimSpace(artist),
		Title:       strings.TrimSpace(title),
		Album:       strings.TrimSpace(album),
		SourceTitle: sourceTitle,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CleanTitle strips bracketed and trailing noise like "(Official Video)".
func CleanTitle(value string) string {
	if value == "" {
		return ""
	}
	cleaned := titleCleanRe.ReplaceAllString(value, " ")
	cleaned = titleTrailRe.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// CleanArtist drops handle prefixes and the VEVO channel suffix.
func CleanArtist(value string) string {
	cleaned := strings.TrimSpace(value)
	if strings.HasPrefix(cleaned, "@") {
		cleaned = strings.TrimSpace(strings.TrimLeft(cleaned, "@"))
	}
	return strings.TrimSpace(vevoSuffixRe.ReplaceAllString(cleaned, ""))
}

// fuzzyScore is a 0..100 token-set similarity.
func fuzzyScore(left, right string) int {
	if left == "" || right == "" {
		return 0
	}
	sim := search.TokenSimilarity(
		search.Tokenize(search.NormalizeText(left)),
		search.Tokenize(search.NormalizeText(right)))
	return int(sim * 100)
}

// ScoreMatch rates a candidate against the source on a 0..100 scale:
// artist 40, title 30, album 10, duration within 2s another 20.
func ScoreMatch(source Source, candidate Candidate, durationSec int) int {
	score := 0
	if fuzzyScore(source.Artist, candidate.Artist) >= 80 {
		score += 40
	}
	if fuzzyScore(source.Title, candidate.Title) >= 80 {
		score += 30
	}
	if source.Album != "" && fuzzyScore(source.Album, candidate.Album) >= 80 {
		score += 10
	}
	if durationSec > 0 && candidate.DurationSec > 0 {
		diff := durationSec - candidate.DurationSec
		if diff < 0 {
			diff = -diff
		}
		if diff <= 2 {
			score += 20
		}
	}
	return score
}

// SelectBestMatch returns the highest scoring candidate and its score.
func SelectBestMatch(source Source, candidates []Candidate, durationSec int) (*Candidate, int) {
	var best *Candidate
	bestScore := 0
	for i := range candidates {
		if score := ScoreMatch(source, candidates[i], durationSec); score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}

// MergeCandidates unions candidate lists, keeping the first entry per
// recording id.
func MergeCandidates(existing, extra []Candidate) []Candidate {
	seen := map[string]bool{}
	var merged []Candidate
	for _, list := range [][]Candidate{existing, extra} {
		for _, c := range list {
			if c.RecordingID != "" && seen[c.RecordingID] {
				continue
			}
			if c.RecordingID != "" {
				seen[c.RecordingID] = true
			}
			merged = append(merged, c)
		}
	}
	return merged
}
