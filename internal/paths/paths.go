// Package paths resolves the base directories the archiver is allowed to
// touch. Every file access in the application goes through one of these
// roots so container mounts stay authoritative.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Roots holds the five base directories. Override via env for container
// mounts; all writes stay under these.
type Roots struct {
	ConfigDir    string
	DataDir      string
	DownloadsDir string
	LogDir       string
	TokensDir    string
}

// EnginePaths is the on-disk layout derived from the data root.
type EnginePaths struct {
	LogDir             string
	DBPath             string
	SearchDBPath       string
	TempDownloadsDir   string
	ClientDeliveryDir  string
	SingleDownloadsDir string
	LockFile           string
	YtdlpTempDir       string
	ThumbsDir          string
}

func envPath(name, fallback string) string {
	value := os.Getenv(name)
	if value == "" {
		value = fallback
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return value
	}
	return abs
}

// NewRoots reads the base directories from the environment.
func NewRoots() Roots {
	return Roots{
		ConfigDir:    envPath("TUBEVAULT_CONFIG_DIR", "/config"),
		DataDir:      envPath("TUBEVAULT_DATA_DIR", "/data"),
		DownloadsDir: envPath("TUBEVAULT_DOWNLOADS_DIR", "/downloads"),
		LogDir:       envPath("TUBEVAULT_LOG_DIR", "/logs"),
		TokensDir:    envPath("TUBEVAULT_TOKENS_DIR", "/tokens"),
	}
}

// EnsureDir creates the directory if missing.
func EnsureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

// isWithinBase reports whether path, after resolving symlinks of the nearest
// existing ancestor, stays under base.
func isWithinBase(path, base string) bool {
	real := resolveExisting(path)
	realBase := resolveExisting(base)
	if real == realBase {
		return true
	}
	return strings.HasPrefix(real, realBase+string(filepath.Separator))
}

// resolveExisting evaluates symlinks for the deepest existing prefix of path
// and rejoins the remainder. Mirrors realpath semantics for paths that do not
// exist yet.
func resolveExisting(path string) string {
	path = filepath.Clean(path)
	var tail []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if len(tail) == 0 {
				return resolved
			}
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}

// ResolveDir resolves value against base. Empty means the base itself,
// relative paths join under the base, and the result must stay inside it.
func ResolveDir(value, base string) (string, error) {
	if value == "" {
		return base, nil
	}
	var resolved string
	if filepath.IsAbs(value) {
		resolved = filepath.Clean(value)
	} else {
		resolved = filepath.Join(base, value)
	}
	if !isWithinBase(resolved, base) {
		return "", fmt.Errorf("path must be within base directory %s: %s", base, value)
	}
	return resolved, nil
}

// ResolveConfigPath confines a config file override to the config root.
// Empty picks the default config.json.
func (r Roots) ResolveConfigPath(value string) (string, error) {
	if value == "" {
		return filepath.Join(r.ConfigDir, "config.json"), nil
	}
	var resolved string
	if filepath.IsAbs(value) {
		resolved = filepath.Clean(value)
	} else {
		resolved = filepath.Join(r.ConfigDir, value)
	}
	if !isWithinBase(resolved, r.ConfigDir) {
		return "", fmt.Errorf("config path must be within config dir %s", r.ConfigDir)
	}
	return resolved, nil
}

// BuildEnginePaths lays out the working tree under the data root.
func (r Roots) BuildEnginePaths() EnginePaths {
	ytdlpTemp := filepath.Join(r.DataDir, "tmp", "yt-dlp")
	tempDownloads := filepath.Join(r.DataDir, "temp_downloads")
	return EnginePaths{
		LogDir:             r.LogDir,
		DBPath:             filepath.Join(r.DataDir, "database", "main.db"),
		SearchDBPath:       filepath.Join(r.DataDir, "database", "search.db"),
		TempDownloadsDir:   tempDownloads,
		ClientDeliveryDir:  filepath.Join(tempDownloads, "client_delivery"),
		SingleDownloadsDir: r.DownloadsDir,
		LockFile:           filepath.Join(r.DataDir, "tmp", "tubevault.lock"),
		YtdlpTempDir:       ytdlpTemp,
		ThumbsDir:          filepath.Join(ytdlpTemp, "thumbs"),
	}
}

// EnsureAll creates every root plus the derived working directories.
func (r Roots) EnsureAll(ep EnginePaths) error {
	for _, dir := range []string{
		r.ConfigDir, r.DataDir, r.DownloadsDir, r.LogDir, r.TokensDir,
		filepath.Dir(ep.DBPath), ep.TempDownloadsDir, ep.ClientDeliveryDir,
		ep.YtdlpTempDir, ep.ThumbsDir,
		filepath.Dir(ep.LockFile),
	} {
		if err := EnsureDir(dir); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return nil
}
