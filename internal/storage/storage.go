// Package storage persists the publication ledger, engagement samples and
// the upcoming-events table.
package storage

import (
	"context"
	"time"
)

// PublicationRecord is written once per delivered item; ID is the dedup key.
type PublicationRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	DeliveryID  string    `json:"delivery_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// EngagementSample is upserted per delivery id as stats arrive.
type EngagementSample struct {
	DeliveryID string    `json:"delivery_id"`
	PostedAt   time.Time `json:"posted_at"`
	Views      int64     `json:"views"`
	Forwards   int64     `json:"forwards"`
	Reactions  int64     `json:"reactions"`
}

// Engagement is the weighted audience metric used for ranking.
func (s EngagementSample) Engagement() float64 {
	return float64(s.Views + 5*s.Forwards + 2*s.Reactions)
}

// RankedPublication joins a publication with its engagement.
type RankedPublication struct {
	PublicationRecord
	PostedAt  time.Time `json:"posted_at"`
	Views     int64     `json:"views"`
	Forwards  int64     `json:"forwards"`
	Reactions int64     `json:"reactions"`
}

func (r RankedPublication) Engagement() float64 {
	return float64(r.Views + 5*r.Forwards + 2*r.Reactions)
}

// Event is an upcoming industry event; its keywords feed the scorer.
type Event struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Keywords []string  `json:"keywords"`
}

// SweepResult counts rows removed by a retention sweep.
type SweepResult struct {
	Publications int64
	Engagement   int64
	Events       int64
}

// Ledger answers "already published?" and records publications.
type Ledger interface {
	IsPublished(ctx context.Context, id string) (bool, error)
	// Record is an idempotent upsert keyed by ID.
	Record(ctx context.Context, rec PublicationRecord) error
	CountPublishedSince(ctx context.Context, since time.Time) (int, error)
	// PublishedSince returns records at or after since, oldest first.
	PublishedSince(ctx context.Context, since time.Time) ([]PublicationRecord, error)
	LastPublication(ctx context.Context) (PublicationRecord, bool, error)
}

type EngagementStore interface {
	UpsertEngagement(ctx context.Context, s EngagementSample) error
	// EngagementSince returns samples posted at or after since, newest first.
	EngagementSince(ctx context.Context, since time.Time) ([]EngagementSample, error)
	TopPublications(ctx context.Context, limit int) ([]RankedPublication, error)
}

type EventStore interface {
	// ReplaceEvents drops events dated before today and stores events.
	ReplaceEvents(ctx context.Context, today time.Time, events []Event) error
	EventsOn(ctx context.Context, day time.Time) ([]Event, error)
	UpcomingEvents(ctx context.Context, from time.Time, limit int) ([]Event, error)
}

// Store is everything the service persists.
type Store interface {
	Ledger
	EngagementStore
	EventStore
	// RetentionSweep removes everything older than the horizon.
	RetentionSweep(ctx context.Context, olderThan time.Time) (SweepResult, error)
	Close() error
}

const dateLayout = "2006-01-02"

func dayKey(t time.Time) string {
	return t.Format(dateLayout)
}
