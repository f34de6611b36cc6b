package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/technews/internal/cadence"
	"github.com/deusflow/technews/internal/config"
	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/storage"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		TelegramToken:     "TOKEN",
		TelegramChannelID: "@technews",
		FeedsConfigPath:   "../../configs/feeds.yaml",
		RulesConfigPath:   "../../configs/rules.yaml",
		ArticlesPerFeed:   10,
		SummaryLength:     200,
		EventsURL:         "http://127.0.0.1:1/events",
		PublishInterval:   time.Minute,
		MinInterval:       3 * time.Minute,
		MaxPerHour:        20,
		MaxUrgentPerHour:  3,
		MinInterestScore:  1.5,
		DelayIncrease:     30 * time.Minute,
		TargetCount:       5,
		TopFraction:       0.7,
		SelectorStrategy:  config.StrategyGreedy,
		CadenceWindowDays: 30,
		CadenceTopHours:   5,
		CadenceSchedule:   "0 0 * * *",
		Timezone:          "UTC",
		StoreDriver:       driver,
		RetentionDays:     30,
		RequestTimeout:    time.Second,
		RetryAttempts:     1,
	}
	switch driver {
	case config.DriverFile:
		cfg.DatabaseURL = filepath.Join(dir, "news_bot.json")
	default:
		cfg.DatabaseURL = filepath.Join(dir, "news_bot.db")
	}
	return cfg
}

func newTestApp(t *testing.T, driver string) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(t, driver), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	a.Notifier = &recordingNotifier{}
	return a
}

func TestOpenStoreDrivers(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverFile} {
		t.Run(driver, func(t *testing.T) {
			st, err := OpenStore(context.Background(), testConfig(t, driver), logger.Discard())
			require.NoError(t, err)
			defer st.Close()

			ctx := context.Background()
			require.NoError(t, st.Record(ctx, storage.PublicationRecord{ID: "x", Title: "X", PublishedAt: time.Now()}))
			ok, err := st.IsPublished(ctx, "x")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestNewRejectsMissingRules(t *testing.T) {
	cfg := testConfig(t, config.DriverFile)
	cfg.RulesConfigPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, logger.Discard())
	assert.Error(t, err)
}

func TestRestoreSeedsGovernorFromLedger(t *testing.T) {
	a := newTestApp(t, config.DriverSQLite)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	for i, age := range []time.Duration{2 * time.Hour, 20 * time.Minute, 10 * time.Minute} {
		require.NoError(t, a.Store.Record(ctx, storage.PublicationRecord{
			ID:          string(rune('a' + i)),
			Title:       "item",
			PublishedAt: now.Add(-age),
		}))
	}

	require.NoError(t, a.Restore(ctx))
	st := a.Governor.Status()
	assert.Equal(t, 2, st.PublicationsLastHour)
	assert.True(t, st.LastPublication.Equal(now.Add(-10*time.Minute)))
}

func TestRegisterJobs(t *testing.T) {
	a := newTestApp(t, config.DriverFile)
	require.NoError(t, a.registerJobs())

	var names []string
	for _, j := range a.Scheduler.ListJobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{jobCadence, jobEvents, jobPublish, jobRetention}, names)
	assert.Error(t, a.registerJobs(), "jobs are registered once")
}

func TestRefreshCadenceExportsProfile(t *testing.T) {
	a := newTestApp(t, config.DriverFile)

	p, err := a.RefreshCadence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cadence.DefaultHours, p.Hours)
	assert.Equal(t, 5, testutil.CollectAndCount(a.Metrics.CadenceHours))
	assert.Len(t, a.Notifier.(*recordingNotifier).msgs, 1)
}

func TestSweepRemovesOldRows(t *testing.T) {
	a := newTestApp(t, config.DriverSQLite)
	ctx := context.Background()

	require.NoError(t, a.Store.Record(ctx, storage.PublicationRecord{ID: "old", Title: "old", PublishedAt: time.Now().AddDate(0, 0, -40)}))
	require.NoError(t, a.Store.Record(ctx, storage.PublicationRecord{ID: "new", Title: "new", PublishedAt: time.Now()}))

	res, err := a.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Publications)

	ok, err := a.Store.IsPublished(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}
