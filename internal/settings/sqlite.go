package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema stores one row per settings field, mirroring a key-value extension
// storage area.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const keyReplacementRate = "replacementRate"

// OpenDB opens (or creates) the settings database at path with WAL and a busy
// timeout, and applies Schema.
func OpenDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("settings: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		Schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("settings: %s: %w", firstLine(stmt), err)
		}
	}
	return db, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// SQLiteStore persists settings in the table created by OpenDB.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context) (Settings, error) {
	out := Default()
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return out, fmt.Errorf("settings: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Default(), fmt.Errorf("settings: scan: %w", err)
		}
		switch key {
		case keyReplacementRate:
			var rate int
			if err := json.Unmarshal([]byte(value), &rate); err != nil {
				return Default(), fmt.Errorf("settings: decode %s: %w", key, err)
			}
			out.ReplacementRate = rate
		}
	}
	if err := rows.Err(); err != nil {
		return Default(), fmt.Errorf("settings: rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Save(ctx context.Context, p Partial) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ReplacementRate == nil {
		return nil
	}
	raw, err := json.Marshal(*p.ReplacementRate)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, keyReplacementRate, string(raw), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}
