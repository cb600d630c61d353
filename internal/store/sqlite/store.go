// Package sqlite persists sessions as JSON documents in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/talk-practice/backend/internal/model/chat"
)

const (
	maxBusyRetries = 3
	baseBusyDelay  = 50 * time.Millisecond
)

// Store implements chat.Store. Each row holds one whole aggregate.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and initialises the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		stage TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get loads and decodes a session document.
func (s *Store) Get(ctx context.Context, id string) (*chat.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, document FROM sessions WHERE id = ?`, id)

	var version int64
	var document string
	err := row.Scan(&version, &document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var session chat.Session
	if err := json.Unmarshal([]byte(document), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	session.Version = version
	return &session, nil
}

// Insert writes a new session row with version 1.
func (s *Store) Insert(ctx context.Context, session *chat.Session) error {
	document, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = s.withBusyRetry(ctx, "insert", func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, version, stage, document, created_at, updated_at) VALUES (?, 1, ?, ?, ?, ?)`,
			session.ID, string(session.Stage), string(document),
			session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	session.Version = 1
	return nil
}

// Save overwrites the document guarded by the version column.
func (s *Store) Save(ctx context.Context, session *chat.Session) error {
	document, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var rows int64
	err = s.withBusyRetry(ctx, "save", func() error {
		result, execErr := s.db.ExecContext(ctx,
			`UPDATE sessions SET version = version + 1, stage = ?, document = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			string(session.Stage), string(document), session.UpdatedAt.Unix(),
			session.ID, session.Version,
		)
		if execErr != nil {
			return execErr
		}
		rows, execErr = result.RowsAffected()
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if rows == 0 {
		var exists int
		scanErr := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, session.ID).Scan(&exists)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return chat.ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("check session existence: %w", scanErr)
		}
		return chat.ErrVersionConflict
	}

	session.Version++
	return nil
}

// withBusyRetry retries fn with exponential backoff while SQLite reports lock
// contention.
func (s *Store) withBusyRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) {
			return err
		}

		delay := baseBusyDelay * time.Duration(1<<attempt)
		log.Printf("[store] %s hit busy database, retrying in %s (attempt %d)", op, delay, attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
