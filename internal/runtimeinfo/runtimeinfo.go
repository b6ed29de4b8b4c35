// Package runtimeinfo reports the versions of the application and the
// external tools it drives.
package runtimeinfo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Set at build time via -ldflags "-X tubevault/internal/runtimeinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

// SchemaVersion is the /api/status payload version.
const SchemaVersion = 1

// Info is the version surface served by GET /api/version.
type Info struct {
	AppVersion    string `json:"app_version"`
	Commit        string `json:"commit"`
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
	YtDlpVersion  string `json:"yt_dlp_version"`
	FFmpegVersion string `json:"ffmpeg_version"`
	JSRuntime     string `json:"js_runtime,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// Collect probes the external binaries. Probe failures leave the fields
// empty rather than failing the call.
func Collect(ctx context.Context, ytdlpBin, ffmpegBin, jsRuntime string) Info {
	return Info{
		AppVersion:    Version,
		Commit:        Commit,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		YtDlpVersion:  probeVersion(ctx, ytdlpBin, "--version"),
		FFmpegVersion: ffmpegVersion(ctx, ffmpegBin),
		JSRuntime:     jsRuntime,
		SchemaVersion: SchemaVersion,
	}
}

func probeVersion(ctx context.Context, binary string, arg string) string {
	if binary == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, binary, arg).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// ffmpegVersion extracts the version token from the first banner line.
func ffmpegVersion(ctx context.Context, binary string) string {
	banner := probeVersion(ctx, binary, "-version")
	if banner == "" {
		return ""
	}
	line, _, _ := strings.Cut(banner, "\n")
	fields := strings.Fields(line)
	// "ffmpeg version N.N ..." keeps just the number.
	for i, field := range fields {
		if field == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return line
}

// NormalizeJSRuntime accepts "name:path" pairs, bare binary names or
// paths, returning the "name:/full/path" form yt-dlp expects. Empty when
// nothing resolves.
func NormalizeJSRuntime(value string) string {
	if value == "" {
		return ""
	}
	if strings.Contains(value, ":") {
		return value
	}
	path, err := exec.LookPath(value)
	if err != nil {
		if _, statErr := os.Stat(value); statErr != nil {
			return ""
		}
		path = value
	}
	prefix := "node"
	if strings.Contains(strings.ToLower(filepath.Base(path)), "deno") {
		prefix = "deno"
	}
	return prefix + ":" + path
}

// ResolveJSRuntime picks the runtime: explicit override, then config,
// then the YT_DLP_JS_RUNTIME env, then whichever of deno or node is on
// PATH.
func ResolveJSRuntime(configured, override string) string {
	candidate := override
	if candidate == "" {
		candidate = configured
	}
	if candidate == "" {
		candidate = os.Getenv("YT_DLP_JS_RUNTIME")
	}
	if normalized := NormalizeJSRuntime(candidate); normalized != "" {
		return normalized
	}
	for _, name := range []string{"deno", "node"} {
		if path, err := exec.LookPath(name); err == nil {
			return name + ":" + path
		}
	}
	return ""
}
