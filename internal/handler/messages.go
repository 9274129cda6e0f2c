package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/relay/internal/model"
)

// MessageLister reads a user's history.
type MessageLister interface {
	ListMessages(ctx context.Context, userID int64) ([]model.Message, error)
}

// ServeMessages returns the full history of one user, oldest first.
func ServeMessages(log MessageLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
		if err != nil || userID <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid user id")
			return
		}

		messages, err := log.ListMessages(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load messages from database",
				"error", err,
				"user_id", userID)
			writeError(w, http.StatusBadRequest, "Failed to fetch messages")
			return
		}
		if messages == nil {
			messages = []model.Message{}
		}

		writeJSON(w, http.StatusOK, messages)
	}
}
