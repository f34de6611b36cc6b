// Package admin is the operator control surface: an HTTP API and Telegram
// commands over the same set of actions.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/technews/internal/app"
	"github.com/deusflow/technews/internal/cadence"
	"github.com/deusflow/technews/internal/metrics"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/storage"
)

// Engine is the publication engine as operators drive it.
type Engine interface {
	Pause(d time.Duration) time.Time
	Resume()
	ResetDelay()
	Status() app.Status
	Scores(ctx context.Context) ([]news.ScoredItem, error)
}

type ProfileSource interface {
	Profile() cadence.Profile
}

type EventLister interface {
	Upcoming(ctx context.Context, limit int) ([]storage.Event, error)
}

const (
	maxPause     = 7 * 24 * time.Hour
	topLimit     = 10
	eventsLimit  = 10
	statsWindow  = 7 * 24 * time.Hour
	scoresShown  = 10
	defaultPause = time.Hour
)

// Service holds the collaborators both surfaces act on.
type Service struct {
	Engine     Engine
	Engagement storage.EngagementStore
	Cadence    ProfileSource
	Events     EventLister
	Metrics    *metrics.Metrics
	Notifier   app.Notifier
	Location   *time.Location
	Log        *slog.Logger
}

func (s *Service) loc() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

func (s *Service) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Pause validates d and pauses publication.
func (s *Service) Pause(ctx context.Context, d time.Duration) (time.Time, error) {
	if d <= 0 || d > maxPause {
		return time.Time{}, fmt.Errorf("pause must be between 0 and %s, got %s", maxPause, d)
	}
	until := s.Engine.Pause(d)
	s.log().Info("paused by operator", "until", until)
	s.notify(ctx, fmt.Sprintf("⏸ Публикации приостановлены до %s", until.In(s.loc()).Format(timeLayout)))
	return until, nil
}

func (s *Service) Resume(ctx context.Context) {
	s.Engine.Resume()
	s.log().Info("resumed by operator")
	s.notify(ctx, "▶️ Публикации возобновлены")
}

func (s *Service) ResetDelay(ctx context.Context) {
	s.Engine.ResetDelay()
	s.log().Info("extra delay reset by operator")
	s.notify(ctx, "🔄 Дополнительная задержка сброшена")
}

// RecordEngagement stores fresh stats for a delivery.
func (s *Service) RecordEngagement(ctx context.Context, sample storage.EngagementSample) error {
	if sample.DeliveryID == "" {
		return fmt.Errorf("delivery_id is required")
	}
	if sample.PostedAt.IsZero() {
		return fmt.Errorf("posted_at is required")
	}
	if sample.Views < 0 || sample.Forwards < 0 || sample.Reactions < 0 {
		return fmt.Errorf("counters must not be negative")
	}
	return s.Engagement.UpsertEngagement(ctx, sample)
}

func (s *Service) Top(ctx context.Context, limit int) ([]storage.RankedPublication, error) {
	if limit <= 0 {
		limit = topLimit
	}
	return s.Engagement.TopPublications(ctx, limit)
}

// Stats lists the engagement samples of the last week, newest first.
func (s *Service) Stats(ctx context.Context) ([]storage.EngagementSample, error) {
	return s.Engagement.EngagementSince(ctx, time.Now().Add(-statsWindow))
}

func (s *Service) notify(ctx context.Context, text string) {
	if s.Notifier != nil {
		s.Notifier.Notify(ctx, text)
	}
}
