package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS publications (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		category VARCHAR(64) NOT NULL DEFAULT '',
		delivery_id VARCHAR(64) NOT NULL DEFAULT '',
		published_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publications_published_at ON publications(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_publications_delivery_id ON publications(delivery_id)`,
	`CREATE TABLE IF NOT EXISTS engagement (
		delivery_id VARCHAR(64) PRIMARY KEY,
		posted_at BIGINT NOT NULL,
		views BIGINT NOT NULL DEFAULT 0,
		forwards BIGINT NOT NULL DEFAULT 0,
		reactions BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_posted_at ON engagement(posted_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		event_date VARCHAR(10) NOT NULL,
		keywords TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date)`,
}

// OpenPostgres connects to PostgreSQL and ensures the schema exists.
func OpenPostgres(ctx context.Context, connectionString string, log *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s, err := newSQLStore(db, sq.Dollar, postgresSchema, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.log.Info("postgres store connected")
	return s, nil
}
