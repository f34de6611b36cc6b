package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS publications (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		delivery_id TEXT NOT NULL DEFAULT '',
		published_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publications_published_at ON publications(published_at)`,
	`CREATE TABLE IF NOT EXISTS engagement (
		delivery_id TEXT PRIMARY KEY,
		posted_at INTEGER NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		forwards INTEGER NOT NULL DEFAULT 0,
		reactions INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_posted_at ON engagement(posted_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		event_date TEXT NOT NULL,
		keywords TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date)`,
}

// OpenSQLite opens (creating if needed) a sqlite database file.
func OpenSQLite(path string, log *slog.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under concurrent callers
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(db, sq.Question, sqliteSchema, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
