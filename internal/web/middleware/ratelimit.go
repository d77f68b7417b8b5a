package middleware

import (
	"net"
	"net/http"

	"github.com/kozaktomas/face-vault/internal/ratelimit"
)

// RateLimit returns middleware that rejects requests over the limiter's
// budget with 429. Authenticated requests are keyed by user id, anonymous
// ones by client IP.
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiter.Allow(key) {
				http.Error(w, `{"error": "rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if session := GetSessionFromContext(r.Context()); session != nil {
		return "user:" + session.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
