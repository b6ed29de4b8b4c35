package jobs

import (
	"strings"
	"time"
)

// Error texts that mean the source will never produce the media. These win
// over the retryable list when both match.
var nonRetryableTokens = []string{
	"drm",
	"http error 403",
	"http error 404",
	"403 forbidden",
	"404 not found",
	"private video",
	"video unavailable",
	"not available",
}

var retryableTokens = []string{
	"timeout",
	"timed out",
	"temporary failure",
	"connection reset",
	"connection aborted",
	"connection refused",
	"network is unreachable",
	"remote end closed connection",
	"http error 429",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
	"extractor error",
	"ssl",
	"tls",
	"eof",
}

// IsRetryable classifies a failure by its error text.
func IsRetryable(errorMessage string) bool {
	if errorMessage == "" {
		return false
	}
	lowered := strings.ToLower(errorMessage)
	for _, token := range nonRetryableTokens {
		if strings.Contains(lowered, token) {
			return false
		}
	}
	for _, token := range retryableTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// RetryDelay returns the backoff before the given attempt number retries.
// attempt is 1-based: the delay doubles with each further attempt.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultRetryDelay
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
