// Package audit persists the infrastructure action log to SQLite so
// recent_actions survives restarts.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ward-ops/ward/internal/domain/infra"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	action  TEXT NOT NULL,
	details TEXT
);
CREATE INDEX IF NOT EXISTS actions_ts ON actions (ts);
`

// Store is a SQLite-backed action log. It implements infra.ActionLog.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral log.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// SQLite allows one writer; serializing through a single connection
	// avoids SQLITE_BUSY under concurrent records.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, entry infra.ActionEntry) error {
	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to encode action details: %w", err)
		}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (ts, action, details) VALUES (?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), entry.Action, string(details),
	)
	if err != nil {
		return fmt.Errorf("failed to record action: %w", err)
	}
	return nil
}

// Recent returns the newest entries, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]infra.ActionEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, action, details FROM actions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var out []infra.ActionEntry
	for rows.Next() {
		var ts, action, details string
		if err := rows.Scan(&ts, &action, &details); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		entry := infra.ActionEntry{Action: action}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse action timestamp %q: %w", ts, err)
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode action details: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
