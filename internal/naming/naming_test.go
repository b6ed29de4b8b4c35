package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "ab", Sanitize(`a\/:*?"<>|b`))
	assert.Equal(t, "a b", Sanitize("a \t\n  b"))
	assert.Equal(t, "", Sanitize(""))

	long := strings.Repeat("x", 300)
	assert.Len(t, []rune(Sanitize(long)), 180)

	// Decomposed unicode normalizes to the composed form.
	assert.Equal(t, "café", Sanitize("café"))
}

func TestPrettyFilename(t *testing.T) {
	assert.Equal(t, "Title - Channel (03-2024)", PrettyFilename("Title", "Channel", "20240315"))
	assert.Equal(t, "Title - Channel", PrettyFilename("Title", "Channel", ""))
	assert.Equal(t, "Title - Channel", PrettyFilename("Title", "Channel", "soon"))
}

func TestCleanMusicTitle(t *testing.T) {
	assert.Equal(t, "Song Name", CleanMusicTitle("Song Name (Official Video)"))
	assert.Equal(t, "Song Name", CleanMusicTitle("Song Name - Official Music Video"))
	assert.Equal(t, "Song Name", CleanMusicTitle("Song Name [Official 4K Video]"))
	assert.Equal(t, "Plain Title", CleanMusicTitle("Plain Title"))
}

func TestCleanMusicArtist(t *testing.T) {
	assert.Equal(t, "Artist", CleanMusicArtist("@Artist"))
	assert.Equal(t, "Artist", CleanMusicArtist("ArtistVEVO"))
	assert.Equal(t, "Artist", CleanMusicArtist("  Artist  "))
}

func TestBuildMusicFilename(t *testing.T) {
	meta := TrackMeta{Artist: "Artist", Album: "Album", Track: "Song", TrackNumber: "3"}
	assert.Equal(t, "Artist/Album/03 - Song.opus", BuildMusicFilename(meta, "opus", "vid123"))

	noAlbum := TrackMeta{Artist: "Artist", Track: "Song"}
	assert.Equal(t, "Artist/Song.opus", BuildMusicFilename(noAlbum, "opus", "vid123"))

	bare := TrackMeta{}
	assert.Equal(t, "vid123.opus", BuildMusicFilename(bare, "opus", "vid123"))
}

func TestBuildOutputFilename(t *testing.T) {
	meta := TrackMeta{Title: "My Video", Channel: "My Channel", UploadDate: "20230102"}
	got := BuildOutputFilename(meta, "dQw4w9WgXcQ", "mp4", false)
	assert.Equal(t, "My Video - My Channel (01-2023)_dQw4w9Wg.mp4", got)

	music := TrackMeta{Artist: "A", Album: "B", Track: "C"}
	assert.Equal(t, "A/B/C.m4a", BuildOutputFilename(music, "vid", "m4a", true))
}

func TestBuildDownloadURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=abc12345", BuildDownloadURL("abc12345", false, ""))
	assert.Equal(t, "https://music.youtube.com/watch?v=abc12345", BuildDownloadURL("abc12345", true, ""))
	assert.Equal(t, "https://music.youtube.com/watch?v=xyz98765",
		BuildDownloadURL("abc12345", true, "https://www.youtube.com/watch?v=xyz98765"))
	assert.Equal(t, "https://example.com/watch?v=xyz98765",
		BuildDownloadURL("abc12345", false, "https://example.com/watch?v=xyz98765"))
}

func TestExtractVideoID(t *testing.T) {
	assert.Equal(t, "dQw4w9WgXcQ", ExtractVideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.Equal(t, "dQw4w9WgXcQ", ExtractVideoID("https://youtu.be/dQw4w9WgXcQ"))
	assert.Equal(t, "", ExtractVideoID("https://example.com/"))
}
