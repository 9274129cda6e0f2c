package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/coder/websocket"

	"github.com/johndosdos/relay/internal/auth"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/store"
	ws "github.com/johndosdos/relay/internal/websocket"
)

// UserLookup resolves a verified id to its account.
type UserLookup interface {
	GetUserByID(ctx context.Context, id int64) (model.User, error)
}

// ServeWs handles the client's websocket connection upgrade. The request
// must already carry a verified user id, see internal.Middleware.
func ServeWs(h *ws.Hub, users UserLookup, maxFrameBytes int64, allowedOrigins []string) http.HandlerFunc {
	acceptOpts := acceptOptions(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := auth.GetUserFromContext(ctx)
		if err != nil {
			slog.WarnContext(ctx, "websocket upgrade without identity", "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := users.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			slog.ErrorContext(ctx, "failed to load user", "error", err, "user_id", userID)
			writeError(w, http.StatusServiceUnavailable, "Service unavailable")
			return
		}

		conn, err := websocket.Accept(w, r, acceptOpts)
		if err != nil {
			slog.WarnContext(ctx, "websocket accept failed", "error", err, "user_id", userID)
			return
		}
		if maxFrameBytes > 0 {
			conn.SetReadLimit(maxFrameBytes)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// We'll register our new session to the central hub.
		s := ws.NewSession(conn, user.ID, user.Username)
		if _, err := h.Admit(ctx, s); err != nil {
			slog.WarnContext(ctx, "session not admitted", "error", err, "user_id", userID)
			conn.Close(websocket.StatusTryAgainLater, "server unavailable")
			return
		}

		slog.InfoContext(ctx, "upgraded connection",
			"session_id", s.ID.String(),
			"username", user.Username)

		// We block on s.ReadMessage() because the request context will be
		// canceled as soon as we return from the handler.
		go s.WriteMessage(ctx)
		s.ReadMessage(ctx)
	}
}

func acceptOptions(allowedOrigins []string) *websocket.AcceptOptions {
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}

	patterns := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
