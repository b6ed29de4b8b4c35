package scheduler

import (
	"strconv"
	"strings"
	"time"

	"tubevault/internal/config"
)

// parseHHMM reads a "HH:MM" clock string. ok is false for anything else.
func parseHHMM(value string) (hour, minute int, ok bool) {
	value = strings.TrimSpace(value)
	hourStr, minuteStr, found := strings.Cut(value, ":")
	if !found {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err = strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// resolveLocation maps a config timezone name to a location. "local" and
// "system" (and unknown names) fall back to the given location, "UTC" is
// exact, anything else is looked up in the zone database.
func resolveLocation(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "local", "system":
		return fallback
	case "utc":
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

// inDowntime reports whether now falls inside the daily window, and when
// the window next ends. Windows where start > end wrap midnight.
func inDowntime(now time.Time, startStr, endStr string) (bool, time.Time) {
	startHour, startMin, okStart := parseHHMM(startStr)
	endHour, endMin, okEnd := parseHHMM(endStr)
	if !okStart || !okEnd {
		return false, time.Time{}
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), startHour, startMin, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), endHour, endMin, 0, 0, now.Location())
	if !start.After(end) {
		if !now.Before(start) && now.Before(end) {
			return true, end
		}
		return false, time.Time{}
	}
	if !now.Before(start) {
		return true, end.AddDate(0, 0, 1)
	}
	if now.Before(end) {
		return true, end
	}
	return false, time.Time{}
}

// DowntimeDeferral evaluates a downtime block against now. When the window
// is active it returns the time the window ends, in the window's timezone.
func DowntimeDeferral(d *config.Downtime, now time.Time) (bool, time.Time) {
	if d == nil || !d.Enabled {
		return false, time.Time{}
	}
	loc := resolveLocation(d.Timezone, now.Location())
	return inDowntime(now.In(loc), d.Start, d.End)
}
