// Package ytdlp shells out to the yt-dlp binary for playlist enumeration,
// metadata probes and hardened media downloads.
package ytdlp

import (
	"fmt"
	"sort"
	"strings"
)

// Strict format ladders. Prefer webm containers, step down through mp4,
// finish permissive.
const (
	FormatStrictWebm = "bestvideo[ext=webm][height<=1080]+bestaudio[ext=webm]/" +
		"bestvideo[ext=webm][height<=720]+bestaudio[ext=webm]/" +
		"bestvideo[ext=mp4][height<=1080]+bestaudio[ext=m4a]/" +
		"bestvideo[ext=mp4][height<=720]+bestaudio[ext=m4a]/" +
		"bestvideo*+bestaudio/best"
	FormatMusicVideo = "bestvideo*+bestaudio/best"
)

var audioFormats = map[string]bool{"mp3": true, "m4a": true, "aac": true, "opus": true, "flac": true}

// IsAudioFormat reports whether ext is an audio container we extract to.
func IsAudioFormat(ext string) bool { return audioFormats[strings.ToLower(ext)] }

// downloadAllowlist is the set of passthrough option keys accepted for
// downloads. Everything else from user config is dropped with a warning;
// in particular nothing here can suppress the download itself.
var downloadAllowlist = map[string]bool{
	"concurrent_fragment_downloads": true,
	"cookiefile":                    true,
	"cookiesfrombrowser":            true,
	"forceipv4":                     true,
	"forceipv6":                     true,
	"fragment_retries":              true,
	"geo_verification_proxy":        true,
	"http_headers":                  true,
	"max_sleep_interval":            true,
	"nocheckcertificate":            true,
	"noproxy":                       true,
	"proxy":                         true,
	"ratelimit":                     true,
	"retries":                       true,
	"sleep_interval":                true,
	"socket_timeout":                true,
	"source_address":                true,
	"throttledratelimit":            true,
	"user_agent":                    true,
}

// metadataOnlyFlags must never reach a download invocation.
var metadataOnlyFlags = []string{"skip_download", "extract_flat", "simulate", "download"}

// FilterDownloadOverrides keeps only allowlisted passthrough options and
// returns the dropped key names, sorted, for logging.
func FilterDownloadOverrides(overrides map[string]any) (map[string]any, []string) {
	if len(overrides) == 0 {
		return nil, nil
	}
	kept := map[string]any{}
	var dropped []string
	for key, value := range overrides {
		if downloadAllowlist[key] {
			kept[key] = value
		} else {
			dropped = append(dropped, key)
		}
	}
	sort.Strings(dropped)
	for _, flag := range metadataOnlyFlags {
		delete(kept, flag)
	}
	return kept, dropped
}

// FormatContext describes how a download should select and post-process
// formats.
type FormatContext struct {
	AudioMode      bool
	TargetFormat   string
	FormatSelector string
	PreferredExts  []string
}

// ResolveDownloadFormat decides audio vs video handling and the selector
// ladder for one download.
func ResolveDownloadFormat(finalFormat, inheritedFormat string, musicMode, audioOnly bool) FormatContext {
	targetFmt := strings.ToLower(finalFormat)
	if targetFmt == "" {
		targetFmt = strings.ToLower(inheritedFormat)
	}

	var audioMode bool
	if musicMode {
		switch {
		case audioOnly:
			audioMode = true
			if !audioFormats[targetFmt] {
				targetFmt = "mp3"
			}
		case targetFmt != "" && !audioFormats[targetFmt]:
			audioMode = false
		default:
			audioMode = true
			if !audioFormats[targetFmt] {
				targetFmt = "mp3"
			}
		}
	} else {
		audioMode = audioOnly || audioFormats[targetFmt]
	}

	ctx := FormatContext{AudioMode: audioMode, TargetFormat: targetFmt}
	if audioMode {
		ctx.FormatSelector = "bestaudio/best"
		if targetFmt != "" {
			ctx.PreferredExts = []string{targetFmt}
		} else {
			ctx.PreferredExts = []string{"mp3"}
		}
		return ctx
	}
	if musicMode {
		ctx.FormatSelector = FormatMusicVideo
	} else {
		ctx.FormatSelector = FormatStrictWebm
	}
	if targetFmt != "" {
		ctx.PreferredExts = append(ctx.PreferredExts, targetFmt)
	}
	ctx.PreferredExts = append(ctx.PreferredExts, "webm", "mp4", "mkv", "m4a", "opus")
	return ctx
}

// overrideArgs translates allowlisted passthrough options into CLI flags.
func overrideArgs(overrides map[string]any) []string {
	if len(overrides) == 0 {
		return nil
	}
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var args []string
	for _, key := range keys {
		value := overrides[key]
		switch key {
		case "concurrent_fragment_downloads":
			args = append(args, "--concurrent-fragments", toArg(value))
		case "cookiefile":
			args = append(args, "--cookies", toArg(value))
		case "cookiesfrombrowser":
			args = append(args, "--cookies-from-browser", toArg(value))
		case "forceipv4":
			if isTrue(value) {
				args = append(args, "--force-ipv4")
			}
		case "forceipv6":
			if isTrue(value) {
				args = append(args, "--force-ipv6")
			}
		case "fragment_retries":
			args = append(args, "--fragment-retries", toArg(value))
		case "geo_verification_proxy":
			args = append(args, "--geo-verification-proxy", toArg(value))
		case "http_headers":
			if headers, ok := value.(map[string]any); ok {
				hkeys := make([]string, 0, len(headers))
				for h := range headers {
					hkeys = append(hkeys, h)
				}
				sort.Strings(hkeys)
				for _, h := range hkeys {
					args = append(args, "--add-headers", fmt.Sprintf("%s:%s", h, toArg(headers[h])))
				}
			}
		case "max_sleep_interval":
			args = append(args, "--max-sleep-interval", toArg(value))
		case "nocheckcertificate":
			if isTrue(value) {
				args = append(args, "--no-check-certificates")
			}
		case "noproxy":
			args = append(args, "--proxy", "")
		case "proxy":
			args = append(args, "--proxy", toArg(value))
		case "ratelimit":
			args = append(args, "--limit-rate", toArg(value))
		case "retries":
			args = append(args, "--retries", toArg(value))
		case "sleep_interval":
			args = append(args, "--sleep-interval", toArg(value))
		case "socket_timeout":
			args = append(args, "--socket-timeout", toArg(value))
		case "source_address":
			args = append(args, "--source-address", toArg(value))
		case "throttledratelimit":
			args = append(args, "--throttled-rate", toArg(value))
		case "user_agent":
			args = append(args, "--user-agent", toArg(value))
		}
	}
	return args
}

func toArg(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func isTrue(value any) bool {
	b, ok := value.(bool)
	return ok && b
}
