// Package config loads and validates the archiver's JSON configuration and
// the server environment settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// Server settings come from the environment so containers stay config-free.
var (
	Host          = getEnvWithDefault("TUBEVAULT_HOST", "127.0.0.1")
	Port          = getEnvWithDefault("TUBEVAULT_PORT", "8000")
	BasicAuthUser = os.Getenv("TUBEVAULT_BASIC_AUTH_USER")
	BasicAuthPass = os.Getenv("TUBEVAULT_BASIC_AUTH_PASS")
	TrustProxy    = isTruthy(os.Getenv("TUBEVAULT_TRUST_PROXY"))

	YtdlpBinary  = getEnvWithDefault("TUBEVAULT_YTDLP_BIN", "yt-dlp")
	FFmpegBinary = getEnvWithDefault("TUBEVAULT_FFMPEG_BIN", "ffmpeg")
	FFprobeBin   = getEnvWithDefault("TUBEVAULT_FFPROBE_BIN", "ffprobe")

	WorkerCount  = getEnvInt("TUBEVAULT_WORKERS", 2)
	PollInterval = getEnvInt("TUBEVAULT_POLL_INTERVAL", 1)

	// Preview enumerates playlists without enqueueing any downloads.
	Preview = isTruthy(os.Getenv("TUBEVAULT_PREVIEW"))
)

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Playlist is one archived playlist entry. playlist_id/id and
// folder/directory are accepted interchangeably.
type Playlist struct {
	PlaylistID string         `json:"playlist_id,omitempty"`
	ID         string         `json:"id,omitempty"`
	Folder     string         `json:"folder,omitempty"`
	Directory  string         `json:"directory,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	MusicMode  bool           `json:"music_mode,omitempty"`
	Format     string         `json:"format,omitempty"`
	Account    string         `json:"account,omitempty"`
	Options    map[string]any `json:"options,omitempty"`
}

// EffectiveID returns the playlist id regardless of which key was used.
func (p Playlist) EffectiveID() string {
	if p.PlaylistID != "" {
		return p.PlaylistID
	}
	return p.ID
}

// EffectiveFolder returns the destination folder regardless of which key was used.
func (p Playlist) EffectiveFolder() string {
	if p.Folder != "" {
		return p.Folder
	}
	return p.Directory
}

// EffectiveMode defaults to full archiving.
func (p Playlist) EffectiveMode() string {
	if p.Mode == "" {
		return "full"
	}
	return p.Mode
}

// Schedule is the interval trigger configuration.
type Schedule struct {
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"mode"`
	IntervalHours int    `json:"interval_hours"`
	RunOnStartup  bool   `json:"run_on_startup"`
}

// DefaultSchedule is the merged baseline for absent schedule keys.
func DefaultSchedule() Schedule {
	return Schedule{Enabled: false, Mode: "interval", IntervalHours: 6, RunOnStartup: false}
}

// Downtime is a daily window during which scheduled runs are deferred.
type Downtime struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// WatchPolicy tunes adaptive playlist polling.
type WatchPolicy struct {
	MinIntervalMinutes int       `json:"min_interval_minutes,omitempty"`
	MaxIntervalMinutes int       `json:"max_interval_minutes,omitempty"`
	IdleBackoffFactor  int       `json:"idle_backoff_factor,omitempty"`
	ActiveResetMinutes int       `json:"active_reset_minutes,omitempty"`
	Downtime           *Downtime `json:"downtime,omitempty"`
}

// MusicMetadata configures the post-download tag enrichment worker.
type MusicMetadata struct {
	Enabled             *bool   `json:"enabled,omitempty"`
	ConfidenceThreshold int     `json:"confidence_threshold,omitempty"`
	UseAcoustID         bool    `json:"use_acoustid,omitempty"`
	AcoustIDAPIKey      string  `json:"acoustid_api_key,omitempty"`
	EmbedArtwork        *bool   `json:"embed_artwork,omitempty"`
	AllowOverwriteTags  *bool   `json:"allow_overwrite_tags,omitempty"`
	MaxArtworkSizePx    int     `json:"max_artwork_size_px,omitempty"`
	RateLimitSeconds    float64 `json:"rate_limit_seconds,omitempty"`
	DryRun              bool    `json:"dry_run,omitempty"`
}

// Telegram enables the end-of-run summary notification.
type Telegram struct {
	BotToken string `json:"bot_token,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

// Search configures track resolution.
type Search struct {
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
	SourcePriority []string `json:"source_priority,omitempty"`
	RedisAddr      string   `json:"redis_addr,omitempty"`
	CacheTTLSecs   int      `json:"cache_ttl_seconds,omitempty"`
}

// Config is the full archiver configuration file.
type Config struct {
	Accounts              map[string]map[string]any `json:"accounts,omitempty"`
	Playlists             []Playlist                `json:"playlists,omitempty"`
	Schedule              *Schedule                 `json:"schedule,omitempty"`
	WatchPolicy           *WatchPolicy              `json:"watch_policy,omitempty"`
	MusicMetadata         *MusicMetadata            `json:"music_metadata,omitempty"`
	MusicMetadataDebug    bool                      `json:"music_metadata_debug,omitempty"`
	Telegram              *Telegram                 `json:"telegram,omitempty"`
	Search                *Search                   `json:"search,omitempty"`
	DryRun                bool                      `json:"dry_run,omitempty"`
	YtDlpCookies          string                    `json:"yt_dlp_cookies,omitempty"`
	YtDlpOptions          map[string]any            `json:"yt_dlp_options,omitempty"`
	MusicFilenameTemplate string                    `json:"music_filename_template,omitempty"`
	FinalFormat           string                    `json:"final_format,omitempty"`
	JSRuntime             string                    `json:"js_runtime,omitempty"`
	RemoveFromPlaylist    bool                      `json:"remove_from_playlist,omitempty"`
	MaxAttempts           int                       `json:"max_attempts,omitempty"`
	RetryDelaySeconds     int                       `json:"retry_delay_seconds,omitempty"`
}

// EffectiveSchedule merges defaults over the config's schedule block.
func (c *Config) EffectiveSchedule() Schedule {
	merged := DefaultSchedule()
	if c == nil || c.Schedule == nil {
		return merged
	}
	s := *c.Schedule
	if s.Mode == "" {
		s.Mode = merged.Mode
	}
	if s.IntervalHours == 0 {
		s.IntervalHours = merged.IntervalHours
	}
	return s
}

// Load reads and decodes the config file. It also returns the raw document so
// callers can run Validate against the exact JSON shape.
func Load(path string) (*Config, map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON in config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON in config: %w", err)
	}
	return &cfg, raw, nil
}

// Save writes the document atomically next to its final location.
func Save(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, append(data, '\n'), 0o644)
}
