package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/sql/schema"
)

const sqliteMemory = ":memory:"

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises writers to avoid SQLITE_BUSY
}

// NewSQLite opens (creating if needed) the database at dbPath and migrates
// the schema up.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath != sqliteMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == sqliteMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateUp(ctx, goose.DialectSQLite3, db, schema.SQLite()); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, hash string) (model.User, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO users (username, hashed_password, created_at)
	VALUES (?, ?, ?)
	RETURNING id`

	now := time.Now().UTC()
	user := model.User{Username: username, HashedPassword: hash, CreatedAt: now}

	err := s.db.QueryRowContext(ctx, query, username, hash, now.UnixNano()).Scan(&user.ID)
	if err != nil {
		if isSQLiteUniqueError(err) {
			return model.User{}, fmt.Errorf("create user %q: %w", username, ErrDuplicateIdentity)
		}
		return model.User{}, unavailable("create user", err)
	}

	return user, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	query := `
	SELECT id, username, hashed_password, created_at
	FROM users WHERE username = ?`

	return s.scanUser(s.db.QueryRowContext(ctx, query, username), "get user by username")
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	query := `
	SELECT id, username, hashed_password, created_at
	FROM users WHERE id = ?`

	return s.scanUser(s.db.QueryRowContext(ctx, query, id), "get user by id")
}

func (s *SQLiteStore) scanUser(row *sql.Row, op string) (model.User, error) {
	var user model.User
	var createdAt int64

	err := row.Scan(&user.ID, &user.Username, &user.HashedPassword, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, unavailable(op, err)
	}

	user.CreatedAt = time.Unix(0, createdAt).UTC()
	return user, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, userID int64, content string, origin model.Origin) (model.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO messages (user_id, content, is_from_server, created_at)
	VALUES (?, ?, ?, ?)
	RETURNING id`

	now := time.Now().UTC()
	msg := model.Message{
		Content:      content,
		UserID:       userID,
		IsFromServer: origin.IsFromServer(),
		CreatedAt:    now,
	}

	err := s.db.QueryRowContext(ctx, query, userID, content, msg.IsFromServer, now.UnixNano()).Scan(&msg.ID)
	if err != nil {
		return model.Message{}, unavailable("append message", err)
	}

	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, userID int64) ([]model.Message, error) {
	query := `
	SELECT id, user_id, content, is_from_server, created_at
	FROM messages
	WHERE user_id = ?
	ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var m model.Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.IsFromServer, &createdAt); err != nil {
			return nil, unavailable("scan message row", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate message rows", err)
	}

	return messages, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isSQLiteUniqueError reports whether err is a UNIQUE constraint violation.
func isSQLiteUniqueError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
