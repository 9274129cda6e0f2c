// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/johndosdos/relay/internal/config"
	"github.com/johndosdos/relay/internal/model"
)

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateIdentity is returned when a username is already taken.
	ErrDuplicateIdentity = errors.New("store: duplicate identity")

	// ErrStorageUnavailable wraps every failure of the backing database
	// that is not one of the errors above.
	ErrStorageUnavailable = errors.New("store: storage unavailable")
)

// UserStore persists user identity records.
type UserStore interface {
	// CreateUser stores a new user. hash must already be a one-way derivation
	// of the password.
	CreateUser(ctx context.Context, username, hash string) (model.User, error)

	// GetUserByUsername returns ErrNotFound if no such user exists.
	GetUserByUsername(ctx context.Context, username string) (model.User, error)

	// GetUserByID returns ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id int64) (model.User, error)
}

// MessageLog is the append-only record of every message.
type MessageLog interface {
	// AppendMessage durably records one message. Each call is independent
	// and atomic.
	AppendMessage(ctx context.Context, userID int64, content string, origin model.Origin) (model.Message, error)

	// ListMessages returns every message for userID, oldest first. A user
	// without messages yields an empty slice.
	ListMessages(ctx context.Context, userID int64) ([]model.Message, error)
}

// Repository is the full persistence surface used by the server.
type Repository interface {
	UserStore
	MessageLog

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// New opens the repository selected by cfg.Driver and applies migrations.
func New(ctx context.Context, cfg config.Database) (Repository, error) {
	switch cfg.Driver {
	case "postgres":
		s, err := NewPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite", "":
		s, err := NewSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
