package api

import (
	"net/http"
	"strconv"

	"github.com/shehryarbajwa/inapp-messaging/internal/ratelimit"
)

// RateLimitMiddleware rejects requests over the allowance of their key with 429
func RateLimitMiddleware(limiter *ratelimit.Limiter, key func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining := limiter.Allow(key(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.PerHour()))

			if !allowed {
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// getSubject extracts the subject from the request
func getSubject(r *http.Request) string {
	if subject := r.Header.Get("X-Subject-ID"); subject != "" {
		return subject
	}
	return r.URL.Query().Get("subjectId")
}
