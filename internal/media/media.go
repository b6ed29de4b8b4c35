// Package media wraps ffmpeg and ffprobe for stream inspection, container
// conversion and tag embedding on downloaded files.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrAudioOnly marks a download that was expected to carry video but came
// back with audio streams only.
var ErrAudioOnly = errors.New("output has no video stream")

// Toolchain runs the configured ffmpeg and ffprobe binaries.
type Toolchain struct {
	FFmpeg  string
	FFprobe string
	logger  *slog.Logger
}

// NewToolchain builds a runner for the media binaries. Empty paths fall
// back to the names on PATH.
func NewToolchain(ffmpeg, ffprobe string, logger *slog.Logger) *Toolchain {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolchain{FFmpeg: ffmpeg, FFprobe: ffprobe, logger: logger}
}

// Streams summarizes what ffprobe found in a file.
type Streams struct {
	HasVideo bool
	HasAudio bool
}

// Probe lists the codec types present in a file.
func (t *Toolchain) Probe(ctx context.Context, path string) (Streams, error) {
	cmd := exec.CommandContext(ctx, t.FFprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return Streams{}, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	var streams Streams
	for _, line := range strings.Split(out.String(), "\n") {
		switch strings.TrimSpace(line) {
		case "video":
			streams.HasVideo = true
		case "audio":
			streams.HasAudio = true
		}
	}
	return streams, nil
}

// ValidateOutput checks a finished download against the requested mode. A
// video download that decodes to audio-only streams is rejected so the
// retry ladder can try another client.
func (t *Toolchain) ValidateOutput(ctx context.Context, path string, audioMode bool) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("output %s is empty", filepath.Base(path))
	}
	streams, err := t.Probe(ctx, path)
	if err != nil {
		// An unprobeable file is treated as unusable for video.
		if !audioMode {
			return ErrAudioOnly
		}
		return nil
	}
	if audioMode {
		if !streams.HasAudio {
			return fmt.Errorf("output %s has no audio stream", filepath.Base(path))
		}
		return nil
	}
	if !streams.HasVideo || !streams.HasAudio {
		return ErrAudioOnly
	}
	return nil
}

// ConvertContainer remuxes a file to the desired extension with stream
// copy. The mp4 to webm direction is refused since a plain container copy
// there produces a broken file; callers keep the original instead.
func (t *Toolchain) ConvertContainer(ctx context.Context, path, desiredExt string) (string, error) {
	currentExt := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	desiredExt = strings.ToLower(strings.TrimPrefix(desiredExt, "."))
	if desiredExt == "" || currentExt == desiredExt {
		return path, nil
	}
	if currentExt == "mp4" && desiredExt == "webm" {
		t.logger.Warn("Skipping mp4 to webm container copy, keeping mp4", "file", filepath.Base(path))
		return path, nil
	}

	converted := strings.TrimSuffix(path, filepath.Ext(path)) + "." + desiredExt
	cmd := exec.CommandContext(ctx, t.FFmpeg, "-y", "-i", path, "-c", "copy", converted)
	if err := cmd.Run(); err != nil {
		os.Remove(converted)
		return "", fmt.Errorf("container conversion to %s: %w", desiredExt, err)
	}
	if err := os.Remove(path); err != nil {
		t.logger.Warn("Could not remove pre-conversion file", "file", path, "error", err)
	}
	return converted, nil
}

// Tags is the metadata set embedded into archived files.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	TrackNumber string
	Disc        string
	Date        string
	Description string
	Comment     string
}

var audioExts = map[string]bool{".mp3": true, ".m4a": true, ".opus": true, ".aac": true, ".flac": true}

// EmbedTags rewrites the file in place with metadata and, for video
// containers, an attached cover image. Streams are copied, never
// re-encoded. Failures leave the original file untouched.
func (t *Toolchain) EmbedTags(ctx context.Context, path string, tags Tags, coverPath string) error {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".webm"
	}
	audioOnly := audioExts[strings.ToLower(ext)]

	tmp, err := os.CreateTemp(filepath.Dir(path), "*.tagged"+ext)
	if err != nil {
		return fmt.Errorf("creating tag scratch file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	args := []string{"-y", "-i", path}
	if coverPath != "" && !audioOnly {
		if _, err := os.Stat(coverPath); err == nil {
			args = append(args,
				"-attach", coverPath,
				"-metadata:s:t", "mimetype=image/jpeg",
				"-metadata:s:t", "filename=cover.jpg",
			)
		}
	}
	for _, pair := range []struct{ key, value string }{
		{"title", tags.Title},
		{"artist", tags.Artist},
		{"album", tags.Album},
		{"album_artist", tags.AlbumArtist},
		{"track", tags.TrackNumber},
		{"disc", tags.Disc},
		{"date", tags.Date},
		{"description", tags.Description},
		{"comment", tags.Comment},
	} {
		if pair.value != "" {
			args = append(args, "-metadata", pair.key+"="+pair.value)
		}
	}
	args = append(args, "-c", "copy", tmpPath)

	cmd := exec.CommandContext(ctx, t.FFmpeg, args...)
	if err := cmd.Run(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("embedding metadata: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing tagged file: %w", err)
	}
	return nil
}

// FetchThumbnail downloads a cover image into thumbsDir, returning the
// local path. Missing or failed thumbnails are not an error, tagging just
// proceeds without artwork.
func FetchThumbnail(ctx context.Context, thumbURL, thumbsDir, videoID string) string {
	if thumbURL == "" {
		return ""
	}
	client := &http.Client{Timeout: 15 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, thumbURL, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil || len(data) == 0 {
		return ""
	}
	path := filepath.Join(thumbsDir, videoID+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ""
	}
	return path
}
