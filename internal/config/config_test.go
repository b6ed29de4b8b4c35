package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &raw))
	return raw
}

func TestValidatePlaylists(t *testing.T) {
	raw := decode(t, `{"playlists": [
		{"playlist_id": "PL1", "folder": "music"},
		{"folder": "x"},
		{"id": "PL2"},
		{"playlist_id": "PL3", "folder": "y", "mode": "weekly", "music_mode": "yes"}
	]}`)
	errs := Validate(raw)
	assert.Contains(t, errs, "playlists[1] missing playlist_id")
	assert.Contains(t, errs, "playlists[2] missing folder")
	assert.Contains(t, errs, "playlists[3].mode must be 'full' or 'subscribe'")
	assert.Contains(t, errs, "playlists[3].music_mode must be true/false")
	assert.Len(t, errs, 4)
}

func TestValidateSchedule(t *testing.T) {
	t.Run("enabled requires interval", func(t *testing.T) {
		errs := Validate(decode(t, `{"schedule": {"enabled": true}}`))
		assert.Contains(t, errs, "schedule.interval_hours is required when schedule is enabled")
	})
	t.Run("interval bounds", func(t *testing.T) {
		errs := Validate(decode(t, `{"schedule": {"enabled": true, "interval_hours": 0}}`))
		assert.Contains(t, errs, "schedule.interval_hours must be >= 1")
	})
	t.Run("fractional interval rejected", func(t *testing.T) {
		errs := Validate(decode(t, `{"schedule": {"interval_hours": 1.5}}`))
		assert.Contains(t, errs, "schedule.interval_hours must be an integer")
	})
	t.Run("mode fixed", func(t *testing.T) {
		errs := Validate(decode(t, `{"schedule": {"mode": "cron"}}`))
		assert.Contains(t, errs, "schedule.mode must be 'interval'")
	})
	t.Run("valid", func(t *testing.T) {
		errs := Validate(decode(t, `{"schedule": {"enabled": true, "interval_hours": 6, "run_on_startup": true}}`))
		assert.Empty(t, errs)
	})
}

func TestValidateWatchPolicy(t *testing.T) {
	errs := Validate(decode(t, `{"watch_policy": {
		"min_interval_minutes": 30,
		"max_interval_minutes": 10,
		"idle_backoff_factor": 0,
		"downtime": {"enabled": true, "start": 100, "end": "07:00"}
	}}`))
	assert.Contains(t, errs, "watch_policy.max_interval_minutes must be >= min_interval_minutes")
	assert.Contains(t, errs, "watch_policy.idle_backoff_factor must be >= 1")
	assert.Contains(t, errs, "watch_policy.downtime.start must be a string (HH:MM)")
}

func TestValidateMusicMetadata(t *testing.T) {
	errs := Validate(decode(t, `{"music_metadata": {
		"enabled": "yes",
		"confidence_threshold": "high",
		"rate_limit_seconds": "fast"
	}}`))
	assert.Contains(t, errs, "music_metadata.enabled must be true/false")
	assert.Contains(t, errs, "music_metadata.confidence_threshold must be an integer")
	assert.Contains(t, errs, "music_metadata.rate_limit_seconds must be a number")
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	doc := map[string]any{
		"playlists": []map[string]any{{"playlist_id": "PL1", "folder": "music", "mode": "subscribe"}},
		"schedule":  map[string]any{"enabled": true, "interval_hours": 12},
	}
	require.NoError(t, Save(path, doc))

	cfg, raw, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, Validate(raw))
	require.Len(t, cfg.Playlists, 1)
	assert.Equal(t, "PL1", cfg.Playlists[0].EffectiveID())
	assert.Equal(t, "music", cfg.Playlists[0].EffectiveFolder())
	assert.Equal(t, "subscribe", cfg.Playlists[0].EffectiveMode())

	sched := cfg.EffectiveSchedule()
	assert.True(t, sched.Enabled)
	assert.Equal(t, 12, sched.IntervalHours)
	assert.Equal(t, "interval", sched.Mode)

	// Save must not leave temp droppings on success.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestEffectiveScheduleDefaults(t *testing.T) {
	var cfg Config
	sched := cfg.EffectiveSchedule()
	assert.False(t, sched.Enabled)
	assert.Equal(t, 6, sched.IntervalHours)
	assert.Equal(t, "interval", sched.Mode)
}
