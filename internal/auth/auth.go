// Package auth implements password hashing, identity tokens and the
// credential service built on top of them.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

type ContextKey string

const UserIDKey ContextKey = "userId"

var (
	// ErrInvalidCredential is returned when a password does not match.
	ErrInvalidCredential = errors.New("auth: invalid credential")

	// ErrInvalidToken is returned for tokens that are malformed, tampered
	// with, expired or signed with another secret.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrConfiguration is returned when the issuer is built without a secret.
	ErrConfiguration = errors.New("auth: signing secret is not configured")

	// ErrInvalidInput is returned for blank or oversized usernames/passwords.
	ErrInvalidInput = errors.New("auth: invalid input")
)

func HashPassword(password string) (string, error) {
	hashedPw, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return "", fmt.Errorf("internal/auth: pw hash failed: %w", err)
	}

	return hashedPw, nil
}

// CheckPasswordHash compares password against an argon2id hash in constant
// time. A mismatch yields (false, nil); a corrupt hash yields an error.
func CheckPasswordHash(password, hash string) (bool, error) {
	isMatch, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("internal/auth: pw and hash comparison failed: %w", err)
	}

	return isMatch, nil
}

// GetUserFromContext returns the verified user id stored by the auth
// middleware.
func GetUserFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, errors.New("internal/auth: user id missing from context")
	}
	if userID <= 0 {
		return 0, fmt.Errorf("internal/auth: invalid user id in context: %d", userID)
	}

	return userID, nil
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
