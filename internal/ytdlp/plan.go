package ytdlp

import "strings"

// MaxVideoRetries caps the attempt ladder for a single video even when the
// plan plus passthrough retries would allow more.
const MaxVideoRetries = 6

// Attempt is one step of the download ladder. An empty Client means the
// stock extractor configuration.
type Attempt struct {
	Client         string
	UserAgent      string
	AcceptLanguage string
	ExtractorArgs  string
	Format         string
	CookieFile     string
	CookiesBrowser string
}

const acceptLanguage = "en-US,en;q=0.9"

// Impersonation profiles for the hardened ladder. The mobile and TV clients
// are served different player configs and dodge most web-only throttling.
var hardenedProfiles = []struct {
	client    string
	userAgent string
}{
	{"android", "com.google.android.youtube/19.42.37 (Linux; Android 14)"},
	{"tv_embedded", "Mozilla/5.0 (SmartTV; Linux; Tizen 6.5) AppleWebKit/537.36"},
	{"web", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Safari/605.1.15"},
}

// BuildAttemptPlan lays out the ladder of download attempts for one video.
// Hardened mode front-loads alternate player clients with a strict format,
// then falls back to the stock client with progressively looser selectors.
// Cookies, when configured, get a dedicated permissive final step.
func BuildAttemptPlan(strictFormat string, hardened bool, cookieFile, cookiesBrowser string) []Attempt {
	var plan []Attempt
	if hardened {
		for _, profile := range hardenedProfiles {
			plan = append(plan, Attempt{
				Client:         profile.client,
				UserAgent:      profile.userAgent,
				AcceptLanguage: acceptLanguage,
				ExtractorArgs:  "youtube:player_client=" + profile.client,
				Format:         strictFormat,
			})
		}
	}
	plan = append(plan,
		Attempt{Format: strictFormat},
		Attempt{Format: "bestvideo+bestaudio/best"},
	)
	switch {
	case cookieFile != "":
		plan = append(plan, Attempt{Format: "best", CookieFile: cookieFile})
	case cookiesBrowser != "":
		plan = append(plan, Attempt{Format: "best", CookiesBrowser: cookiesBrowser})
	}
	return EnsureFallback(plan)
}

// EnsureFallback guarantees the plan ends in territory that can always
// succeed: at least one stock-client step and at least one permissive
// selector. Plans missing either get a stock best step appended.
func EnsureFallback(plan []Attempt) []Attempt {
	hasStockClient := false
	hasPermissiveFormat := false
	for _, attempt := range plan {
		if attempt.ExtractorArgs == "" {
			hasStockClient = true
		}
		if strings.HasPrefix(attempt.Format, "best") {
			hasPermissiveFormat = true
		}
	}
	if !hasStockClient || !hasPermissiveFormat {
		plan = append(plan, Attempt{Format: "best"})
	}
	if len(plan) > MaxVideoRetries {
		plan = plan[:MaxVideoRetries]
	}
	return plan
}
