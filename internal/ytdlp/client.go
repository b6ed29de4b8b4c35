package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// StuckPartialThreshold is the size below which a leftover partial file is
// considered a poisoned fragment rather than resumable progress.
const StuckPartialThreshold = 512 * 1024

// Entry is a flat playlist row from a metadata probe.
type Entry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	UploadDate string  `json:"upload_date"`
}

// VideoInfo is the metadata subset consumed after a probe or download.
type VideoInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Channel     string  `json:"channel"`
	Uploader    string  `json:"uploader"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	Track       string  `json:"track"`
	TrackNumber any     `json:"track_number"`
	Duration    float64 `json:"duration"`
	UploadDate  string  `json:"upload_date"`
	Ext         string  `json:"ext"`
	Thumbnail   string  `json:"thumbnail"`
	WebpageURL  string  `json:"webpage_url"`
}

// Client runs the yt-dlp binary.
type Client struct {
	Binary    string
	JSRuntime string
	logger    *slog.Logger
}

// NewClient builds a runner around the configured yt-dlp binary. jsRuntime
// may name an interpreter as "name:path" for extractors that need one.
func NewClient(binary, jsRuntime string, logger *slog.Logger) *Client {
	if binary == "" {
		binary = "yt-dlp"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Binary: binary, JSRuntime: jsRuntime, logger: logger}
}

func (c *Client) baseArgs() []string {
	args := []string{"--no-warnings", "--ignore-config"}
	if c.JSRuntime != "" {
		args = append(args, "--js-runtimes", c.JSRuntime, "--remote-components", "ejs:github")
	}
	return args
}

// EnumerateFlat lists playlist entries without resolving individual videos.
func (c *Client) EnumerateFlat(ctx context.Context, playlistURL string, overrides map[string]any) ([]Entry, error) {
	args := append(c.baseArgs(), "--flat-playlist", "--dump-json", "--skip-download")
	args = append(args, overrideArgs(overrides)...)
	args = append(args, playlistURL)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("flat playlist probe failed: %w", err)
	}
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			c.logger.Warn("Skipping unparseable playlist entry", "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}

// Probe fetches metadata for a single URL without downloading media.
func (c *Client) Probe(ctx context.Context, url string, overrides map[string]any) (*VideoInfo, error) {
	args := append(c.baseArgs(), "--dump-single-json", "--skip-download")
	args = append(args, overrideArgs(overrides)...)
	args = append(args, url)

	out, err := c.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("metadata probe failed: %w", err)
	}
	var info VideoInfo
	if err := json.Unmarshal(bytes.TrimSpace(out), &info); err != nil {
		return nil, fmt.Errorf("decoding probe output: %w", err)
	}
	return &info, nil
}

// ProbeFormats lists the available formats for a URL. Used for diagnostics
// after a failed attempt, output goes to the log only.
func (c *Client) ProbeFormats(ctx context.Context, url string, overrides map[string]any) (string, error) {
	args := append(c.baseArgs(), "--list-formats", "--skip-download")
	args = append(args, overrideArgs(overrides)...)
	args = append(args, url)
	out, err := c.run(ctx, args)
	if err != nil {
		return "", fmt.Errorf("format probe failed: %w", err)
	}
	return string(out), nil
}

// DownloadRequest bundles the inputs for one download attempt.
type DownloadRequest struct {
	URL        string
	StagingDir string
	TempDir    string
	OutputStem string
	Format     FormatContext
	MusicMode  bool
	Overrides  map[string]any
}

// Download runs one attempt of the ladder, writing into req.StagingDir.
// The returned info comes from the sidecar metadata dump.
func (c *Client) Download(ctx context.Context, req DownloadRequest, attempt Attempt) (*VideoInfo, error) {
	infoPath := filepath.Join(req.StagingDir, req.OutputStem+".info.json")

	args := append(c.baseArgs(),
		"--no-playlist",
		"--continue",
		"--socket-timeout", "120",
		"--retries", "5",
		"--write-info-json",
		"-o", filepath.Join(req.StagingDir, req.OutputStem+".%(ext)s"),
	)
	if req.TempDir != "" {
		args = append(args, "-P", "temp:"+req.TempDir)
	}
	format := attempt.Format
	if format == "" {
		format = req.Format.FormatSelector
	}
	args = append(args, "-f", format)
	if req.Format.AudioMode {
		args = append(args, "-x", "--audio-format", req.Format.TargetFormat, "--audio-quality", "0")
	}
	if req.MusicMode {
		args = append(args, "--embed-metadata", "--embed-thumbnail", "--write-thumbnail")
	}
	if attempt.ExtractorArgs != "" {
		args = append(args, "--extractor-args", attempt.ExtractorArgs)
	}
	if attempt.UserAgent != "" {
		args = append(args, "--user-agent", attempt.UserAgent)
	}
	if attempt.AcceptLanguage != "" {
		args = append(args, "--add-headers", "Accept-Language:"+attempt.AcceptLanguage)
	}
	if attempt.CookieFile != "" {
		args = append(args, "--cookies", attempt.CookieFile)
	}
	if attempt.CookiesBrowser != "" {
		args = append(args, "--cookies-from-browser", attempt.CookiesBrowser)
	}
	args = append(args, overrideArgs(req.Overrides)...)
	args = append(args, req.URL)

	if _, err := c.run(ctx, args); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, fmt.Errorf("reading metadata sidecar: %w", err)
	}
	var info VideoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding metadata sidecar: %w", err)
	}
	return &info, nil
}

// FindOutput locates the downloaded media file in the staging dir, trying
// preferred extensions first, then any non-sidecar file with the stem.
func FindOutput(stagingDir, stem string, preferredExts []string) (string, error) {
	for _, ext := range preferredExts {
		candidate := filepath.Join(stagingDir, stem+"."+ext)
		if st, err := os.Stat(candidate); err == nil && st.Size() > 0 {
			return candidate, nil
		}
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		return "", fmt.Errorf("scanning staging dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, stem+".") {
			continue
		}
		if strings.HasSuffix(name, ".info.json") || strings.HasSuffix(name, ".part") ||
			strings.HasSuffix(name, ".ytdl") || isImageSidecar(name) {
			continue
		}
		if st, err := entry.Info(); err == nil && st.Size() > 0 {
			return filepath.Join(stagingDir, name), nil
		}
	}
	return "", fmt.Errorf("no media output found for %q in %s", stem, stagingDir)
}

func isImageSidecar(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// HasStuckPartial reports whether the temp dir holds an undersized partial
// for the video. Tiny partials mean a poisoned fragment; the caller should
// wipe the temp dir before retrying.
func HasStuckPartial(tempDir, videoID string) bool {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.Contains(name, videoID) || !strings.Contains(name, ".part") {
			continue
		}
		if st, err := entry.Info(); err == nil && st.Size() < StuckPartialThreshold {
			return true
		}
	}
	return false
}

// WipeTempDir clears leftover partial state for a fresh retry.
func WipeTempDir(tempDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(tempDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	c.logger.Debug("Running yt-dlp", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return stdout.Bytes(), fmt.Errorf("yt-dlp: %s", lastLine(msg))
	}
	return stdout.Bytes(), nil
}

// lastLine keeps error strings short enough for status surfaces while
// preserving the part yt-dlp puts the actual cause in.
func lastLine(msg string) string {
	lines := strings.Split(msg, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return msg
}
