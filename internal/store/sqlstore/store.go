package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pliu/banter/internal/store"
)

var _ store.Store = (*SQLStore)(nil)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// Every connection to ":memory:" is a separate database, and sqlite
		// allows a single writer anyway.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			name TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		// pair_key is NULL for groups; both dialects allow many NULLs under UNIQUE.
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			name TEXT NOT NULL DEFAULT '',
			admin TEXT NOT NULL DEFAULT '',
			last_message TEXT NOT NULL DEFAULT '',
			pair_key TEXT UNIQUE,
			message_seq BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS participants (
			chat_id TEXT NOT NULL,
			username TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (chat_id, username),
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(username)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			voice TEXT NOT NULL DEFAULT '',
			seen BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_for_everyone BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			UNIQUE (chat_id, seq),
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(receiver, seen, chat_id)`,
	}

	for _, migration := range migrations {
		if s.driverName == "postgres" {
			migration = strings.ReplaceAll(migration, "DATETIME", "TIMESTAMPTZ")
		}
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

// forUpdate row-locks a SELECT inside a transaction. sqlite has no row locks
// and serializes writers instead.
func (s *SQLStore) forUpdate() string {
	if s.driverName == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// isDuplicate reports whether err is a unique constraint violation in
// either dialect.
func isDuplicate(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
