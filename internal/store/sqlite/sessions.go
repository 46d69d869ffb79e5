// Package sqlite implements store.SessionIDStore on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/botparty/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS session_ids (
	session_key TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// SessionIDStore keeps session ids in a single table keyed by canonical session key.
type SessionIDStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*SessionIDStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session storage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One writer at a time; agents share this handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply session schema: %w", err)
	}
	return &SessionIDStore{db: db}, nil
}

func (s *SessionIDStore) LoadSessionIDs(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, session_id FROM session_ids WHERE substr(session_key, 1, ?) = ?`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("query session ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			out[key] = id
		}
	}
	return out, rows.Err()
}

func (s *SessionIDStore) SaveSessionID(ctx context.Context, key, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_ids (session_key, session_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		key, sessionID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save session id %s: %w", key, err)
	}
	return nil
}

func (s *SessionIDStore) Close() error { return s.db.Close() }

var _ store.SessionIDStore = (*SessionIDStore)(nil)
