package config

import (
	"fmt"
	"math"
)

// Validate checks a raw config document and returns every problem found.
// Messages are stable; the HTTP layer returns them verbatim.
func Validate(raw map[string]any) []string {
	var errors []string
	if raw == nil {
		return []string{"config must be a JSON object"}
	}

	if accounts, ok := raw["accounts"]; ok && accounts != nil {
		if _, isMap := accounts.(map[string]any); !isMap {
			errors = append(errors, "accounts must be an object")
		}
	}

	if playlistsRaw, ok := raw["playlists"]; ok && playlistsRaw != nil {
		playlists, isList := playlistsRaw.([]any)
		if !isList {
			errors = append(errors, "playlists must be a list")
		} else {
			for idx, item := range playlists {
				pl, isMap := item.(map[string]any)
				if !isMap {
					errors = append(errors, fmt.Sprintf("playlists[%d] must be an object", idx))
					continue
				}
				if stringValue(pl, "playlist_id") == "" && stringValue(pl, "id") == "" {
					errors = append(errors, fmt.Sprintf("playlists[%d] missing playlist_id", idx))
				}
				if stringValue(pl, "folder") == "" && stringValue(pl, "directory") == "" {
					errors = append(errors, fmt.Sprintf("playlists[%d] missing folder", idx))
				}
				if v, ok := pl["music_mode"]; ok && v != nil {
					if _, isBool := v.(bool); !isBool {
						errors = append(errors, fmt.Sprintf("playlists[%d].music_mode must be true/false", idx))
					}
				}
				if v, ok := pl["mode"]; ok && v != nil {
					mode, _ := v.(string)
					if mode != "full" && mode != "subscribe" {
						errors = append(errors, fmt.Sprintf("playlists[%d].mode must be 'full' or 'subscribe'", idx))
					}
				}
			}
		}
	}

	errors = append(errors, ValidateSchedule(raw["schedule"])...)

	if v, ok := raw["music_metadata_debug"]; ok && v != nil {
		if _, isBool := v.(bool); !isBool {
			errors = append(errors, "music_metadata_debug must be true/false")
		}
	}
	errors = append(errors, validateMusicMetadata(raw["music_metadata"])...)

	if v, ok := raw["dry_run"]; ok && v != nil {
		if _, isBool := v.(bool); !isBool {
			errors = append(errors, "dry_run must be true/false")
		}
	}
	if v, ok := raw["yt_dlp_cookies"]; ok && v != nil {
		if _, isStr := v.(string); !isStr {
			errors = append(errors, "yt_dlp_cookies must be a string")
		}
	}
	if v, ok := raw["music_filename_template"]; ok && v != nil {
		if _, isStr := v.(string); !isStr {
			errors = append(errors, "music_filename_template must be a string")
		}
	}

	errors = append(errors, validateWatchPolicy(raw["watch_policy"])...)

	return errors
}

// ValidateSchedule checks only the schedule block. The schedule endpoint
// reuses this after merging a partial update.
func ValidateSchedule(value any) []string {
	if value == nil {
		return nil
	}
	schedule, isMap := value.(map[string]any)
	if !isMap {
		return []string{"schedule must be an object"}
	}
	var errors []string
	enabled := false
	if v, ok := schedule["enabled"]; ok && v != nil {
		b, isBool := v.(bool)
		if !isBool {
			errors = append(errors, "schedule.enabled must be true/false")
		} else {
			enabled = b
		}
	}
	if v, ok := schedule["mode"]; ok && v != nil {
		if mode, _ := v.(string); mode != "interval" {
			errors = append(errors, "schedule.mode must be 'interval'")
		}
	}
	intervalSet := false
	if v, ok := schedule["interval_hours"]; ok && v != nil {
		intervalSet = true
		hours, isInt := asInt(v)
		if !isInt {
			errors = append(errors, "schedule.interval_hours must be an integer")
		} else if hours < 1 {
			errors = append(errors, "schedule.interval_hours must be >= 1")
		}
	}
	if enabled && !intervalSet {
		errors = append(errors, "schedule.interval_hours is required when schedule is enabled")
	}
	if v, ok := schedule["run_on_startup"]; ok && v != nil {
		if _, isBool := v.(bool); !isBool {
			errors = append(errors, "schedule.run_on_startup must be true/false")
		}
	}
	return errors
}

func validateMusicMetadata(value any) []string {
	if value == nil {
		return nil
	}
	mm, isMap := value.(map[string]any)
	if !isMap {
		return []string{"music_metadata must be an object"}
	}
	var errors []string
	for _, key := range []string{"enabled", "use_acoustid", "embed_artwork", "allow_overwrite_tags", "dry_run"} {
		if v, ok := mm[key]; ok && v != nil {
			if _, isBool := v.(bool); !isBool {
				errors = append(errors, fmt.Sprintf("music_metadata.%s must be true/false", key))
			}
		}
	}
	for _, key := range []string{"confidence_threshold", "max_artwork_size_px"} {
		if v, ok := mm[key]; ok && v != nil {
			if _, isInt := asInt(v); !isInt {
				errors = append(errors, fmt.Sprintf("music_metadata.%s must be an integer", key))
			}
		}
	}
	if v, ok := mm["acoustid_api_key"]; ok && v != nil {
		if _, isStr := v.(string); !isStr {
			errors = append(errors, "music_metadata.acoustid_api_key must be a string")
		}
	}
	if v, ok := mm["rate_limit_seconds"]; ok && v != nil {
		if _, isNum := v.(float64); !isNum {
			errors = append(errors, "music_metadata.rate_limit_seconds must be a number")
		}
	}
	return errors
}

func validateWatchPolicy(value any) []string {
	if value == nil {
		return nil
	}
	policy, isMap := value.(map[string]any)
	if !isMap {
		return []string{"watch_policy must be an object"}
	}
	var errors []string
	ints := map[string]int{}
	for _, key := range []string{"min_interval_minutes", "max_interval_minutes", "idle_backoff_factor", "active_reset_minutes"} {
		if v, ok := policy[key]; ok && v != nil {
			n, isInt := asInt(v)
			if !isInt {
				errors = append(errors, fmt.Sprintf("watch_policy.%s must be an integer", key))
				continue
			}
			ints[key] = n
		}
	}
	for _, key := range []string{"min_interval_minutes", "max_interval_minutes"} {
		if n, ok := ints[key]; ok && n < 1 {
			errors = append(errors, fmt.Sprintf("watch_policy.%s must be >= 1", key))
		}
	}
	if minI, ok := ints["min_interval_minutes"]; ok {
		if maxI, ok := ints["max_interval_minutes"]; ok && maxI < minI {
			errors = append(errors, "watch_policy.max_interval_minutes must be >= min_interval_minutes")
		}
	}
	for _, key := range []string{"idle_backoff_factor", "active_reset_minutes"} {
		if n, ok := ints[key]; ok && n < 1 {
			errors = append(errors, fmt.Sprintf("watch_policy.%s must be >= 1", key))
		}
	}
	if dt, ok := policy["downtime"]; ok && dt != nil {
		downtime, isMap := dt.(map[string]any)
		if !isMap {
			errors = append(errors, "watch_policy.downtime must be an object")
		} else {
			if v, ok := downtime["enabled"]; ok && v != nil {
				if _, isBool := v.(bool); !isBool {
					errors = append(errors, "watch_policy.downtime.enabled must be true/false")
				}
			}
			for _, key := range []string{"start", "end"} {
				if v, ok := downtime[key]; ok && v != nil {
					if _, isStr := v.(string); !isStr {
						errors = append(errors, fmt.Sprintf("watch_policy.downtime.%s must be a string (HH:MM)", key))
					}
				}
			}
			if v, ok := downtime["timezone"]; ok && v != nil {
				if _, isStr := v.(string); !isStr {
					errors = append(errors, "watch_policy.downtime.timezone must be a string")
				}
			}
		}
	}
	return errors
}

func stringValue(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, isStr := v.(string); isStr {
			return s
		}
	}
	return ""
}

// asInt accepts JSON numbers only when they are whole.
func asInt(v any) (int, bool) {
	f, isNum := v.(float64)
	if !isNum || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
