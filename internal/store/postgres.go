package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/johndosdos/relay/internal/database"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/sql/schema"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Repository on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    *database.Queries
}

// NewPostgres connects to dbURL and migrates the schema up.
func NewPostgres(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to the postgresql database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := migrateUp(ctx, goose.DialectPostgres, db, schema.Postgres()); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, q: database.New(pool)}, nil
}

// Pool exposes the underlying pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, hash string) (model.User, error) {
	u, err := s.q.CreateUser(ctx, database.CreateUserParams{
		Username:       username,
		HashedPassword: hash,
		CreatedAt:      pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return model.User{}, fmt.Errorf("create user %q: %w", username, ErrDuplicateIdentity)
		}
		return model.User{}, unavailable("create user", err)
	}

	return pgUser(u), nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := s.q.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, unavailable("get user by username", err)
	}
	return pgUser(u), nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	u, err := s.q.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, unavailable("get user by id", err)
	}
	return pgUser(u), nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, userID int64, content string, origin model.Origin) (model.Message, error) {
	m, err := s.q.CreateMessage(ctx, database.CreateMessageParams{
		UserID:       userID,
		Content:      content,
		IsFromServer: origin.IsFromServer(),
		CreatedAt:    pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true},
	})
	if err != nil {
		return model.Message{}, unavailable("append message", err)
	}
	return pgMessage(m), nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, userID int64) ([]model.Message, error) {
	rows, err := s.q.ListMessagesByUser(ctx, userID)
	if err != nil {
		return nil, unavailable("list messages", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, m := range rows {
		messages = append(messages, pgMessage(m))
	}
	return messages, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgUser(u database.User) model.User {
	return model.User{
		ID:             u.ID,
		Username:       u.Username,
		HashedPassword: u.HashedPassword,
		CreatedAt:      u.CreatedAt.Time,
	}
}

func pgMessage(m database.Message) model.Message {
	return model.Message{
		ID:           m.ID,
		Content:      m.Content,
		UserID:       m.UserID,
		IsFromServer: m.IsFromServer,
		CreatedAt:    m.CreatedAt.Time,
	}
}
