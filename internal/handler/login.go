package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/johndosdos/relay/internal/auth"
	"github.com/johndosdos/relay/internal/store"
)

// Authenticator checks a username/password pair.
type Authenticator interface {
	Verify(ctx context.Context, username, password string) (int64, error)
}

// TokenIssuer mints identity tokens.
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}

// SubmitLogin handles user login. Unknown users and wrong passwords get the
// same response.
func SubmitLogin(creds Authenticator, tokens TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		req, err := decodeCredentials(w, r)
		if err != nil {
			slog.WarnContext(ctx, "login rejected", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid credentials")
			return
		}

		userID, err := creds.Verify(ctx, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) ||
				errors.Is(err, auth.ErrInvalidCredential) ||
				errors.Is(err, auth.ErrInvalidInput) {
				writeError(w, http.StatusBadRequest, "Invalid credentials")
				return
			}

			slog.ErrorContext(ctx, "login failed", "error", err)
			writeError(w, http.StatusBadRequest, "Login failed")
			return
		}

		token, err := tokens.Issue(userID)
		if err != nil {
			slog.ErrorContext(ctx, "failed to issue token", "error", err, "user_id", userID)
			writeError(w, http.StatusBadRequest, "Login failed")
			return
		}

		slog.InfoContext(ctx, "user logged in",
			slog.Int64("user_id", userID))

		writeJSON(w, http.StatusOK, map[string]any{
			"token":  token,
			"userId": userID,
		})
	}
}
