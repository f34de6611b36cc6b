package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/technews/internal/logger"
)

var base = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), logger.Discard())
	require.NoError(t, err)

	file, err := OpenFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)

	all := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   file,
		"sqlite": sqlite,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestLedgerRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.IsPublished(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Record(ctx, PublicationRecord{ID: "a", Title: "first", PublishedAt: base}))
			ok, err = s.IsPublished(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)

			// idempotent upsert overwrites instead of duplicating
			require.NoError(t, s.Record(ctx, PublicationRecord{ID: "a", Title: "renamed", PublishedAt: base.Add(time.Minute)}))
			n, err := s.CountPublishedSince(ctx, base.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			last, found, err := s.LastPublication(ctx)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, "renamed", last.Title)
			assert.True(t, last.PublishedAt.Equal(base.Add(time.Minute)))
		})
	}
}

func TestLedgerWindows(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.LastPublication(ctx)
			require.NoError(t, err)
			assert.False(t, found)

			for i := 0; i < 5; i++ {
				rec := PublicationRecord{ID: fmt.Sprintf("p%d", i), Title: "t", PublishedAt: base.Add(time.Duration(i) * 20 * time.Minute)}
				require.NoError(t, s.Record(ctx, rec))
			}

			n, err := s.CountPublishedSince(ctx, base.Add(40*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			recs, err := s.PublishedSince(ctx, base.Add(40*time.Minute))
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.Equal(t, "p2", recs[0].ID)
			assert.Equal(t, "p4", recs[2].ID)

			res, err := s.RetentionSweep(ctx, base.Add(30*time.Minute))
			require.NoError(t, err)
			assert.EqualValues(t, 2, res.Publications)

			ok, err := s.IsPublished(ctx, "p0")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEngagementAndTop(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Record(ctx, PublicationRecord{ID: "x", Title: "x", DeliveryID: "100", PublishedAt: base}))
			require.NoError(t, s.Record(ctx, PublicationRecord{ID: "y", Title: "y", DeliveryID: "101", PublishedAt: base}))
			require.NoError(t, s.Record(ctx, PublicationRecord{ID: "z", Title: "no stats", PublishedAt: base}))

			require.NoError(t, s.UpsertEngagement(ctx, EngagementSample{DeliveryID: "100", PostedAt: base}))
			require.NoError(t, s.UpsertEngagement(ctx, EngagementSample{DeliveryID: "101", PostedAt: base, Views: 10}))
			// later stats replace the zero seed
			require.NoError(t, s.UpsertEngagement(ctx, EngagementSample{DeliveryID: "100", PostedAt: base, Views: 5, Forwards: 2}))

			samples, err := s.EngagementSince(ctx, base.Add(-time.Hour))
			require.NoError(t, err)
			require.Len(t, samples, 2)

			top, err := s.TopPublications(ctx, 10)
			require.NoError(t, err)
			require.Len(t, top, 2)
			assert.Equal(t, "x", top[0].ID)
			assert.Equal(t, 15.0, top[0].Engagement())
			assert.Equal(t, "y", top[1].ID)
		})
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	today := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			events := []Event{
				{Name: "Past Con", Date: today.AddDate(0, 0, -2), Keywords: []string{"past"}},
				{Name: "DevSummit", Date: today, Keywords: []string{"devsummit", "berlin"}},
				{Name: "AI Week", Date: today.AddDate(0, 0, 3), Keywords: []string{"week"}},
			}
			require.NoError(t, s.ReplaceEvents(ctx, today, events))

			got, err := s.EventsOn(ctx, today)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "DevSummit", got[0].Name)
			assert.Equal(t, []string{"devsummit", "berlin"}, got[0].Keywords)

			upcoming, err := s.UpcomingEvents(ctx, today.AddDate(0, 0, -10), 10)
			require.NoError(t, err)
			require.Len(t, upcoming, 2, "past events are not stored")
			assert.Equal(t, "AI Week", upcoming[1].Name)

			// a second scrape replaces the table
			require.NoError(t, s.ReplaceEvents(ctx, today, events[2:]))
			got, err = s.EventsOn(ctx, today)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Record(ctx, PublicationRecord{ID: "keep", Title: "k", PublishedAt: base}))
	require.NoError(t, fs.UpsertEngagement(ctx, EngagementSample{DeliveryID: "1", PostedAt: base, Views: 3}))

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	ok, err := reopened.IsPublished(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)
	samples, err := reopened.EngagementSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestLedgerConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := fmt.Sprintf("c%d", i%4)
					assert.NoError(t, s.Record(ctx, PublicationRecord{ID: id, Title: id, PublishedAt: base}))
					_, err := s.IsPublished(ctx, id)
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			n, err := s.CountPublishedSince(ctx, base)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}
