package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/johndosdos/relay/internal/auth"
	"github.com/johndosdos/relay/internal/store"
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, username, password string) (int64, error)
}

// SubmitRegister handles user account creation.
func SubmitRegister(creds Registrar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		req, err := decodeCredentials(w, r)
		if err != nil {
			slog.WarnContext(ctx, "registration rejected", "error", err)
			writeError(w, http.StatusBadRequest, "Registration failed")
			return
		}

		userID, err := creds.Register(ctx, req.Username, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicateIdentity), errors.Is(err, auth.ErrInvalidInput):
				slog.InfoContext(ctx, "registration rejected", "error", err)
			default:
				slog.ErrorContext(ctx, "registration failed", "error", err)
			}
			writeError(w, http.StatusBadRequest, "Registration failed")
			return
		}

		slog.InfoContext(ctx, "user registered",
			slog.Int64("user_id", userID))

		writeJSON(w, http.StatusOK, map[string]any{
			"message": "User registered successfully",
			"userId":  userID,
		})
	}
}
