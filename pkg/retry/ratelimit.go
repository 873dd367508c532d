package retry

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/warden-systems/warden/core/pkg/contracts"
)

var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry[\s_-]?after[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)wait[:\s]+(\d+)`),
	regexp.MustCompile(`(?i)reset[\s_-]?in[:\s]+(\d+)`),
}

// rateLimitDelay resolves how long to wait after a rate-limit response.
// The advertised window wins; otherwise the window is scraped from the
// error text in seconds; otherwise a fixed fallback applies. The result
// is capped so a hostile or broken header cannot stall a worker for hours.
func rateLimitDelay(err error, fallback, cap time.Duration) time.Duration {
	delay := fallback

	var rl *contracts.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		delay = rl.RetryAfter
	} else if secs, ok := scrapeRetryAfter(err.Error()); ok {
		delay = time.Duration(secs) * time.Second
	}

	if delay > cap {
		delay = cap
	}
	return delay
}

func scrapeRetryAfter(msg string) (int, bool) {
	for _, re := range retryAfterPatterns {
		if m := re.FindStringSubmatch(msg); len(m) == 2 {
			if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
				return secs, true
			}
		}
	}
	return 0, false
}
