package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	pkghttp "github.com/hht-diary/authcore/pkg/http"
)

// RateLimitConfig holds the coarse per-address limit applied in front of /auth
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// DefaultAuthRateLimit returns 30 requests per minute per address
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP limits requests per client address. The address is resolved
// the same way the login limiter does it, so forwarding headers are only
// honoured from trusted proxies.
//
// This sits in front of the per-identity sliding window in the auth service
// and bounds traffic that never reaches it, such as requests for unknown sponsors.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate has already set Retry-After
			pkghttp.WriteTooManyRequests(w, "Too many requests", 0)
		}),
	)
}
