package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/johndosdos/relay/internal/store"
)

const (
	maxUsernameLen = 64
	maxPasswordLen = 256
)

// Credentials registers users and verifies their passwords. Only argon2id
// hashes ever reach the store.
type Credentials struct {
	users store.UserStore

	// dummyHash is compared against when a username is unknown so both
	// failure paths cost the same.
	dummyHash string
}

// NewCredentials builds the credential service on users.
func NewCredentials(users store.UserStore) (*Credentials, error) {
	dummy, err := HashPassword("not-a-real-password")
	if err != nil {
		return nil, err
	}

	return &Credentials{users: users, dummyHash: dummy}, nil
}

// Register creates a user and returns its id. A taken username yields
// store.ErrDuplicateIdentity.
func (c *Credentials) Register(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if err := validate(username, password); err != nil {
		return 0, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}

	user, err := c.users.CreateUser(ctx, username, hash)
	if err != nil {
		return 0, err
	}

	return user.ID, nil
}

// Verify checks a username/password pair and returns the user id. An unknown
// user yields store.ErrNotFound, a wrong password ErrInvalidCredential.
func (c *Credentials) Verify(ctx context.Context, username, password string) (int64, error) {
	username = strings.TrimSpace(username)
	if err := validate(username, password); err != nil {
		return 0, err
	}

	user, err := c.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_, _ = CheckPasswordHash(password, c.dummyHash)
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	ok, err := CheckPasswordHash(password, user.HashedPassword)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrInvalidCredential
	}

	return user.ID, nil
}

func validate(username, password string) error {
	switch {
	case username == "":
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	case utf8.RuneCountInString(username) > maxUsernameLen:
		return fmt.Errorf("%w: username longer than %d characters", ErrInvalidInput, maxUsernameLen)
	case password == "":
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	case len(password) > maxPasswordLen:
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordLen)
	}
	return nil
}
