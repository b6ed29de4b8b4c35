package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMusicBrainzURL = "https://musicbrainz.org"
	musicbrainzUserAgent  = "tubevault/1.0 (https://github.com/tubevault/tubevault)"
	searchLimit           = 5
)

// MusicBrainzClient queries the recording search endpoint of the
// MusicBrainz web service.
type MusicBrainzClient struct {
	BaseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewMusicBrainzClient builds a client with the service's required
// identifying user agent.
func NewMusicBrainzClient(baseURL string, logger *slog.Logger) *MusicBrainzClient {
	if baseURL == "" {
		baseURL = defaultMusicBrainzURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MusicBrainzClient{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type mbArtistCredit struct {
	Name   string `json:"name"`
	Artist struct {
		Name string `json:"name"`
	} `json:"artist"`
}

type mbTrack struct {
	Number   string `json:"number"`
	Position int    `json:"position"`
}

type mbMedium struct {
	Track []mbTrack `json:"track"`
}

type mbRelease struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	Date         string           `json:"date"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	Media        []mbMedium       `json:"media"`
}

type mbRecording struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	LengthMS     int              `json:"length"`
	ArtistCredit []mbArtistCredit `json:"artist-credit"`
	Releases     []mbRelease      `json:"releases"`
}

type mbSearchResponse struct {
	Recordings []mbRecording `json:"recordings"`
}

// SearchRecordings looks up candidate recordings for an artist/title pair,
// optionally narrowed by release title.
func (c *MusicBrainzClient) SearchRecordings(ctx context.Context, artist, title, album string) ([]Candidate, error) {
	if artist == "" || title == "" {
		return nil, nil
	}
	terms := []string{
		fmt.Sprintf(`artist:%s`, luceneQuote(artist)),
		fmt.Sprintf(`recording:%s`, luceneQuote(title)),
	}
	if album != "" {
		terms = append(terms, fmt.Sprintf(`release:%s`, luceneQuote(album)))
	}
	params := url.Values{}
	params.Set("query", strings.Join(terms, " AND "))
	params.Set("limit", strconv.Itoa(searchLimit))
	params.Set("fmt", "json")

	endpoint := c.BaseURL + "/ws/2/recording?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", musicbrainzUserAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("musicbrainz search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("musicbrainz search: status %d", resp.StatusCode)
	}
	var parsed mbSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("musicbrainz decode: %w", err)
	}

	var candidates []Candidate
	for _, rec := range parsed.Recordings {
		candidates = append(candidates, recordingToCandidate(rec))
	}
	return candidates, nil
}

func recordingToCandidate(rec mbRecording) Candidate {
	candidate := Candidate{
		RecordingID: rec.ID,
		Title:       rec.Title,
		Artist:      creditName(rec.ArtistCredit),
		DurationSec: rec.LengthMS / 1000,
	}
	if len(rec.Releases) > 0 {
		release := rec.Releases[0]
		candidate.Album = release.Title
		candidate.ReleaseID = release.ID
		candidate.AlbumArtist = creditName(release.ArtistCredit)
		if release.Date != "" {
			candidate.Year, _, _ = strings.Cut(release.Date, "-")
		}
		candidate.TrackNumber = firstTrackNumber(release.Media)
	}
	if candidate.AlbumArtist == "" {
		candidate.AlbumArtist = candidate.Artist
	}
	return candidate
}

func creditName(credits []mbArtistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	if credits[0].Artist.Name != "" {
		return credits[0].Artist.Name
	}
	return credits[0].Name
}

func firstTrackNumber(media []mbMedium) string {
	for _, medium := range media {
		for _, track := range medium.Track {
			if track.Number != "" {
				return track.Number
			}
			if track.Position > 0 {
				return strconv.Itoa(track.Position)
			}
		}
	}
	return ""
}

// luceneQuote escapes a phrase for the search query syntax.
func luceneQuote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}
