// Package ratelimiter throttles clients by IP address, either in process
// or through a shared Redis counter.
package ratelimiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
)

// Limiter decides whether one more request under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// GetClientIP returns the address the request came from. Forwarding headers
// are ignored here; when the server sits behind a trusted proxy, chi's
// RealIP middleware rewrites RemoteAddr before this runs.
func GetClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP stores a bare address without a port.
		return r.RemoteAddr
	}

	return host
}

// Middleware rejects requests from clients that exceeded l with 429.
func Middleware(l Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := GetClientIP(r)

			if !l.Allow(r.Context(), ip) {
				slog.WarnContext(r.Context(), "rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "Too many requests. Try again later.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
