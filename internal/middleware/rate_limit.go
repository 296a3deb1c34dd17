package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/riskauth/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// IPConfig decides which forwarded addresses are trusted when keying requests
	IPConfig *pkghttp.IPConfig
}

// DefaultLoginRateLimit returns the default limit for login evaluations (60 requests per minute)
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
	}
}

// DefaultChallengeRateLimit returns the default limit for step-up token validation (10 requests per minute)
func DefaultChallengeRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The key uses the same trusted-proxy rules as the login handler, so a
// spoofed X-Forwarded-For cannot reset the counter.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultLoginRateLimit().RequestsPerMinute
	}

	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			ip := pkghttp.ExtractClientIP(r, config.IPConfig)
			if ip == "" {
				ip = "unknown"
			}
			return ip, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
