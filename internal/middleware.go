package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/johndosdos/relay/internal/auth"
)

// TokenVerifier resolves an identity token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Middleware validates the client's JWT. The token is read from the
// Authorization header or, for browser websocket clients that cannot set
// headers, from the token query parameter.
func Middleware(next http.Handler, tokens TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w)
			return
		}

		userID, err := tokens.Verify(token)
		if err != nil {
			slog.WarnContext(r.Context(), "token rejected",
				"error", err,
				"path", r.URL.Path)
			unauthorized(w)
			return
		}

		r = r.WithContext(auth.WithUserID(r.Context(), userID))
		next.ServeHTTP(w, r)
	}
}

// bearerToken prefers a Bearer Authorization header. Any other scheme is
// ignored so the query parameter still applies.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
