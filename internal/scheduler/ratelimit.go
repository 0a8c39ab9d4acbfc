package scheduler

import "strings"

// rateLimitPatterns are lowercase substrings of upstream output that
// indicate quota exhaustion, HTTP 429 throttling, or exhausted billing.
var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"429",
	"quota exceeded",
	"quota_exceeded",
	"insufficient_quota",
	"resource_exhausted",
	"resource exhausted",
	"billing hard limit",
	"credit balance is too low",
	"out of credits",
	"usage limit",
}

// DetectRateLimit classifies upstream output text. When it matches a known
// rate-limit signature the provider is blocked for the default duration and
// true is returned. Pure text classification; no network calls.
func (s *Scheduler) DetectRateLimit(output, provider string) bool {
	if output == "" {
		return false
	}
	lower := strings.ToLower(output)
	for _, pat := range rateLimitPatterns {
		if strings.Contains(lower, pat) {
			s.log.Info("rate limit detected", "provider", provider, "pattern", pat)
			s.BlockProvider(provider, DefaultBlockMinutes)
			return true
		}
	}
	return false
}
