package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubevault/internal/media"
	"tubevault/internal/naming"
)

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Song Name", CleanTitle("Song Name (Official Video)"))
	assert.Equal(t, "Song Name", CleanTitle("Song Name [Official Audio]"))
	assert.Equal(t, "Song Name", CleanTitle("Song Name - Official Music Video"))
	assert.Equal(t, "Song Name", CleanTitle("Song   Name"))
	assert.Equal(t, "", CleanTitle(""))
}

func TestCleanArtist(t *testing.T) {
	assert.Equal(t, "RickAstley", CleanArtist("RickAstleyVEVO"))
	assert.Equal(t, "somechannel", CleanArtist("@somechannel"))
	assert.Equal(t, "Daft Punk", CleanArtist(" Daft Punk "))
}

func TestParseSourceFromTags(t *testing.T) {
	source := ParseSource(naming.TrackMeta{
		Artist: "ArtistVEVO",
		Title:  "Track (Official Video)",
		Album:  "Album",
	}, "/music/file.mp3")
	assert.Equal(t, "Artist", source.Artist)
	assert.Equal(t, "Track", source.Title)
	assert.Equal(t, "Album", source.Album)
}

func TestParseSourceSplitsFilename(t *testing.T) {
	source := ParseSource(naming.TrackMeta{Title: "Daft Punk - Around the World"}, "/music/x.mp3")
	assert.Equal(t, "Daft Punk", source.Artist)
	assert.Equal(t, "Around the World", source.Title)

	source = ParseSource(naming.TrackMeta{}, "/music/Queen - Bohemian Rhapsody.mp3")
	assert.Equal(t, "Queen", source.Artist)
	assert.Equal(t, "Bohemian Rhapsody", source.Title)
}

func TestScoreMatch(t *testing.T) {
	source := Source{Artist: "Daft Punk", Title: "Around the World", Album: "Homework"}
	full := Candidate{Artist: "Daft Punk", Title: "Around the World", Album: "Homework", DurationSec: 428}
	assert.Equal(t, 100, ScoreMatch(source, full, 429))

	// Without album and duration evidence only artist+title count.
	partial := Candidate{Artist: "Daft Punk", Title: "Around the World"}
	assert.Equal(t, 70, ScoreMatch(source, partial, 0))

	// Duration off by more than 2 seconds earns nothing.
	off := Candidate{Artist: "Daft Punk", Title: "Around the World", DurationSec: 500}
	assert.Equal(t, 70, ScoreMatch(source, off, 429))

	mismatch := Candidate{Artist: "Other", Title: "Different Song"}
	assert.Equal(t, 0, ScoreMatch(source, mismatch, 0))
}

func TestSelectBestMatch(t *testing.T) {
	source := Source{Artist: "Daft Punk", Title: "Around the World"}
	candidates := []Candidate{
		{RecordingID: "a", Artist: "Other", Title: "Different"},
		{RecordingID: "b", Artist: "Daft Punk", Title: "Around the World"},
	}
	best, score := SelectBestMatch(source, candidates, 0)
	require.NotNil(t, best)
	assert.Equal(t, "b", best.RecordingID)
	assert.Equal(t, 70, score)

	best, score = SelectBestMatch(source, nil, 0)
	assert.Nil(t, best)
	assert.Zero(t, score)
}

func TestMergeCandidates(t *testing.T) {
	merged := MergeCandidates(
		[]Candidate{{RecordingID: "a"}, {RecordingID: "b"}},
		[]Candidate{{RecordingID: "b"}, {RecordingID: "c"}})
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].RecordingID)
	assert.Equal(t, "c", merged[2].RecordingID)
}

func TestMusicBrainzSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/2/recording", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("query"), `artist:"Daft Punk"`)
		assert.Contains(t, r.URL.Query().Get("query"), `release:"Homework"`)
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"recordings": [{
			"id": "rec-1",
			"title": "Around the World",
			"length": 428000,
			"artist-credit": [{"name": "Daft Punk", "artist": {"name": "Daft Punk"}}],
			"releases": [{
				"id": "rel-1",
				"title": "Homework",
				"date": "1997-01-20",
				"artist-credit": [{"artist": {"name": "Daft Punk"}}],
				"media": [{"track": [{"number": "7"}]}]
			}]
		}]}`))
	}))
	defer server.Close()

	client := NewMusicBrainzClient(server.URL, nil)
	candidates, err := client.SearchRecordings(context.Background(), "Daft Punk", "Around the World", "Homework")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "rec-1", c.RecordingID)
	assert.Equal(t, "Daft Punk", c.Artist)
	assert.Equal(t, "Homework", c.Album)
	assert.Equal(t, "1997", c.Year)
	assert.Equal(t, "7", c.TrackNumber)
	assert.Equal(t, 428, c.DurationSec)
	assert.Equal(t, "rel-1", c.ReleaseID)
}

func TestMusicBrainzSearchRequiresTerms(t *testing.T) {
	client := NewMusicBrainzClient("http://unused.invalid", nil)
	candidates, err := client.SearchRecordings(context.Background(), "", "Title", "")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestFetchCoverArt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/release/rel-1/front", r.URL.Path)
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path := FetchCoverArt(context.Background(), server.URL, "rel-1", dir)
	require.NotEmpty(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	assert.Empty(t, FetchCoverArt(context.Background(), server.URL, "", dir))
}

type fakeSearcher struct {
	candidates []Candidate
}

func (f *fakeSearcher) SearchRecordings(ctx context.Context, artist, title, album string) ([]Candidate, error) {
	return f.candidates, nil
}

type fakeEmbedder struct {
	paths []string
	tags  []media.Tags
}

func (f *fakeEmbedder) EmbedTags(ctx context.Context, path string, tags media.Tags, coverPath string) error {
	f.paths = append(f.paths, path)
	f.tags = append(f.tags, tags)
	return nil
}

func musicFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	return path
}

func TestWorkerEnrichesMatchedFile(t *testing.T) {
	searcher := &fakeSearcher{candidates: []Candidate{{
		RecordingID: "rec-1",
		Artist:      "Daft Punk",
		Title:       "Around the World",
		Album:       "Homework",
		AlbumArtist: "Daft Punk",
		TrackNumber: "7",
		Year:        "1997",
	}}}
	embedder := &fakeEmbedder{}
	settings := DefaultSettings()
	settings.RateLimit = 0
	settings.EmbedArtwork = false
	w := NewWorker(searcher, embedder, settings, t.TempDir(), nil)

	path := musicFile(t)
	require.True(t, w.EnqueueFile(path, naming.TrackMeta{
		Artist: "Daft Punk",
		Title:  "Around the World (Official Video)",
	}, 0))
	w.Close()

	require.Len(t, embedder.tags, 1)
	assert.Equal(t, []string{path}, embedder.paths)
	assert.Equal(t, "Homework", embedder.tags[0].Album)
	assert.Equal(t, "1997", embedder.tags[0].Date)
}

func TestWorkerSkipsLowConfidence(t *testing.T) {
	searcher := &fakeSearcher{candidates: []Candidate{{
		RecordingID: "rec-1", Artist: "Somebody Else", Title: "Unrelated",
	}}}
	embedder := &fakeEmbedder{}
	settings := DefaultSettings()
	settings.RateLimit = 0
	w := NewWorker(searcher, embedder, settings, t.TempDir(), nil)

	require.True(t, w.EnqueueFile(musicFile(t), naming.TrackMeta{
		Artist: "Daft Punk", Title: "Around the World",
	}, 0))
	w.Close()

	assert.Empty(t, embedder.paths)
}

func TestWorkerDisabled(t *testing.T) {
	settings := DefaultSettings()
	settings.Enabled = false
	w := NewWorker(&fakeSearcher{}, &fakeEmbedder{}, settings, t.TempDir(), nil)
	assert.False(t, w.EnqueueFile("/tmp/x.mp3", naming.TrackMeta{}, 0))
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig(nil)
	assert.True(t, s.Enabled)
	assert.Equal(t, 70, s.ConfidenceThreshold)
	assert.Equal(t, 1500*time.Millisecond, s.RateLimit)
}
