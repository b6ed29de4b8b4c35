// Package naming builds filesystem-safe file names and library layouts for
// archived media.
package naming

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxNameLen = 180

var (
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
	whitespace  = regexp.MustCompile(`\s+`)

	musicTitleClean = regexp.MustCompile(`(?i)\s*[(\[{][^)\]}]*?(official|music video|video|lyric|audio|visualizer|full video|hd|4k)[^)\]}]*?[)\]}]\s*`)
	musicTitleTrail = regexp.MustCompile(`(?i)\s*-\s*(official|music video|video|lyric|audio|visualizer|full video).*$`)
	vevoSuffix      = regexp.MustCompile(`(?i)(vevo)$`)
)

// Sanitize removes characters unsafe for filenames, collapses whitespace,
// NFC-normalizes and trims to 180 codepoints.
func Sanitize(name string) string {
	if name == "" {
		return ""
	}
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(whitespace.ReplaceAllString(name, " "))
	name = norm.NFC.String(name)
	runes := []rune(name)
	if len(runes) > maxNameLen {
		name = strings.TrimRight(string(runes[:maxNameLen]), " ")
	}
	return name
}

// PrettyFilename renders 'Title - Channel (MM-YYYY)' for media servers.
// upload date is yt-dlp's YYYYMMDD form.
func PrettyFilename(title, channel, uploadDate string) string {
	titleS := Sanitize(title)
	channelS := Sanitize(channel)
	if len(uploadDate) == 8 && isDigits(uploadDate) {
		mm := uploadDate[4:6]
		yyyy := uploadDate[0:4]
		return fmt.Sprintf("%s - %s (%s-%s)", titleS, channelS, mm, yyyy)
	}
	return fmt.Sprintf("%s - %s", titleS, channelS)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// TrackMeta is the tag subset used to place music files.
type TrackMeta struct {
	Artist      string
	AlbumArtist string
	Album       string
	Track       string
	Title       string
	TrackNumber string
	Channel     string
	UploadDate  string
}

// CleanMusicTitle strips upload noise like "(Official Video)" from titles.
func CleanMusicTitle(value string) string {
	if value == "" {
		return ""
	}
	cleaned := musicTitleClean.ReplaceAllString(value, " ")
	cleaned = musicTitleTrail.ReplaceAllString(cleaned, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// CleanMusicArtist trims handles and the VEVO suffix from channel-derived
// artist names.
func CleanMusicArtist(value string) string {
	cleaned := strings.TrimSpace(value)
	cleaned = strings.TrimSpace(strings.TrimLeft(cleaned, "@"))
	return strings.TrimSpace(vevoSuffix.ReplaceAllString(cleaned, ""))
}

func formatTrackNumber(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !isDigits(trimmed) {
		return ""
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%02d", n)
}

// BuildMusicFilename lays a track out as Artist/Album/NN - Track.ext,
// degrading gracefully when tags are missing.
func BuildMusicFilename(meta TrackMeta, ext, fallbackID string) string {
	artist := Sanitize(CleanMusicArtist(meta.Artist))
	album := Sanitize(CleanMusicTitle(meta.Album))
	track := meta.Track
	if track == "" {
		track = meta.Title
	}
	track = Sanitize(CleanMusicTitle(track))
	trackNumber := formatTrackNumber(meta.TrackNumber)

	filename := track
	if filename == "" {
		filename = fallbackID
	}
	if filename == "" {
		filename = "track"
	}
	if trackNumber != "" {
		filename = trackNumber + " - " + filename
	}
	filename += "." + ext

	switch {
	case artist != "" && album != "":
		return filepath.Join(artist, album, filename)
	case artist != "":
		return filepath.Join(artist, filename)
	default:
		return filename
	}
}

// BuildOutputFilename names the final file for a download. Music mode uses
// the Artist/Album layout; everything else gets the pretty server name with
// a short id suffix to keep names unique across re-uploads.
func BuildOutputFilename(meta TrackMeta, videoID, ext string, musicMode bool) string {
	if musicMode {
		return BuildMusicFilename(meta, ext, videoID)
	}
	shortID := videoID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	title := meta.Title
	if title == "" {
		title = videoID
	}
	return fmt.Sprintf("%s_%s.%s", PrettyFilename(title, meta.Channel, meta.UploadDate), shortID, ext)
}

// IsMusicURL reports whether the URL points at the music site variant.
func IsMusicURL(url string) bool {
	return strings.Contains(url, "music.youtube.com")
}

// BuildDownloadURL produces the canonical watch URL for a video id. An
// explicit http source URL wins unless music mode forces the music host.
func BuildDownloadURL(videoID string, musicMode bool, sourceURL string) string {
	vid := ExtractVideoID(sourceURL)
	if vid == "" {
		vid = videoID
	}
	if musicMode {
		return "https://music.youtube.com/watch?v=" + vid
	}
	if strings.HasPrefix(sourceURL, "http") {
		return sourceURL
	}
	return "https://www.youtube.com/watch?v=" + vid
}

var watchParam = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{6,})`)
var shortURL = regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{6,})`)

// ExtractVideoID pulls the video id out of a watch or short URL.
func ExtractVideoID(url string) string {
	if url == "" {
		return ""
	}
	if m := watchParam.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	if m := shortURL.FindStringSubmatch(url); m != nil {
		return m[1]
	}
	return ""
}
