// Package app wires the publication engine: feeds, scoring, the rate
// governor, cadence, persistence and the periodic jobs around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/deusflow/technews/internal/cadence"
	"github.com/deusflow/technews/internal/config"
	"github.com/deusflow/technews/internal/events"
	"github.com/deusflow/technews/internal/gemini"
	"github.com/deusflow/technews/internal/governor"
	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/metrics"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/ratelimit"
	"github.com/deusflow/technews/internal/rss"
	"github.com/deusflow/technews/internal/scheduler"
	"github.com/deusflow/technews/internal/storage"
	"github.com/deusflow/technews/internal/telegram"
	"github.com/deusflow/technews/internal/translate"
)

const (
	jobPublish   = "publish"
	jobCadence   = "cadence"
	jobRetention = "retention"
	jobEvents    = "events"

	maxFeedAge  = 7 * 24 * time.Hour
	feedWorkers = 8
)

// App is the assembled service.
type App struct {
	Config       *config.Config
	Store        storage.Store
	Rules        *news.Rules
	Fetcher      *rss.Fetcher
	Telegram     *telegram.Client
	Governor     *governor.Governor
	Cadence      *cadence.Optimizer
	Events       *events.Service
	Metrics      *metrics.Metrics
	Quota        *ratelimit.DailyQuota
	Orchestrator *Orchestrator
	Scheduler    *scheduler.Scheduler
	Notifier     Notifier

	log     *slog.Logger
	closers []func() error
}

// New builds every component from cfg. Missing or malformed rule and feed
// tables are configuration errors.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = logger.Component("app")
	}
	loc := cfg.Location()
	a := &App{Config: cfg, log: log, Metrics: metrics.New()}

	rules, err := news.LoadRules(cfg.RulesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	a.Rules = rules

	feeds, err := rss.LoadFeeds(cfg.FeedsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	a.Fetcher = rss.NewFetcher(feeds, rss.Options{
		ArticlesPerFeed: cfg.ArticlesPerFeed,
		MaxAge:          maxFeedAge,
		Concurrency:     feedWorkers,
		Timeout:         cfg.RequestTimeout,
		Client:          httpClient,
	}, logger.Component("rss"))

	store, err := OpenStore(ctx, cfg, logger.Component("storage"))
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	a.Telegram = telegram.NewClient(cfg.TelegramToken,
		telegram.WithRateLimit(rate.Every(time.Second), 3),
		telegram.WithLogger(logger.Component("telegram")),
	)
	a.Notifier = &adminNotifier{sender: a.Telegram, chatID: cfg.AdminChatID, log: logger.Component("notifier")}

	a.Governor = governor.New(governor.Config{
		MinInterval: cfg.MinInterval,
		MaxPerHour:  cfg.MaxPerHour,
	}, logger.Component("governor"))
	a.Governor.OnStateChange(func(s governor.State) {
		a.Metrics.GovernorState.Set(float64(s))
	})

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	a.Cadence = cadence.NewOptimizer(cadence.Config{
		WindowDays: cfg.CadenceWindowDays,
		TopHours:   cfg.CadenceTopHours,
		Location:   loc,
	}, store, rng, logger.Component("cadence"))

	a.Events = events.NewService(
		events.NewScraper(cfg.EventsURL, httpClient, logger.Component("events")),
		store, loc, logger.Component("events"))

	var translator translate.Translator = translate.Noop{}
	if cfg.TranslationEnabled() {
		gc, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, gemini.DefaultModel)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		a.closers = append(a.closers, gc.Close)
		a.Quota = ratelimit.NewDailyQuota("gemini", cfg.MaxGeminiRequests, logger.Component("quota"))
		translator = translate.NewAI(gc, cfg.TargetLanguage, a.Quota, logger.Component("translate"))
	}

	deliverer := NewTelegramDeliverer(a.Telegram, cfg.TelegramChannelID, rules,
		cfg.SummaryLength, cfg.MaxUrgentPerHour, store, logger.Component("deliverer"))

	a.Orchestrator = NewOrchestrator(Options{
		MinInterest:   cfg.MinInterestScore,
		DelayIncrease: cfg.DelayIncrease,
		TargetCount:   cfg.TargetCount,
	}, Deps{
		Feeds:      a.Fetcher,
		Translator: translator,
		Scorer:     news.NewScorer(rules, nil, logger.Component("scorer")),
		Selector:   news.NewSelector(cfg.TopFraction, news.ParseStrategy(cfg.SelectorStrategy), nil),
		Governor:   a.Governor,
		Ledger:     store,
		Deliverer:  deliverer,
		Events:     a.Events,
		Cadence:    a.Cadence,
		Metrics:    a.Metrics,
		Notifier:   a.Notifier,
	}, logger.Component("cycle"))

	a.Scheduler = scheduler.New(loc, logger.Component("scheduler"))
	return a, nil
}

// Restore seeds the governor from the ledger so spacing and the hourly cap
// survive a restart.
func (a *App) Restore(ctx context.Context) error {
	last, ok, err := a.Store.LastPublication(ctx)
	if err != nil {
		return fmt.Errorf("load last publication: %w", err)
	}
	recent, err := a.Store.PublishedSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		return fmt.Errorf("load recent publications: %w", err)
	}

	stamps := make([]time.Time, len(recent))
	for i, r := range recent {
		stamps[i] = r.PublishedAt
	}
	var lastAt time.Time
	if ok {
		lastAt = last.PublishedAt
	}
	a.Governor.Restore(lastAt, stamps)
	a.log.Info("governor restored from ledger", "last_publication", lastAt, "last_hour", len(stamps))
	return nil
}

// RefreshCadence recomputes the profile and exports it.
func (a *App) RefreshCadence(ctx context.Context) (cadence.Profile, error) {
	p, err := a.Cadence.Refresh(ctx)
	a.Metrics.SetCadenceHours(p.Hours)
	if err != nil {
		return p, err
	}
	a.Notifier.Notify(ctx, fmt.Sprintf("🕰 Оптимальные часы публикаций обновлены: %v", p.Hours))
	return p, nil
}

// Sweep removes ledger, engagement and event rows past the retention horizon.
func (a *App) Sweep(ctx context.Context) (storage.SweepResult, error) {
	horizon := time.Now().AddDate(0, 0, -a.Config.RetentionDays)
	res, err := a.Store.RetentionSweep(ctx, horizon)
	if err != nil {
		return res, fmt.Errorf("retention sweep: %w", err)
	}
	a.log.Info("retention sweep finished",
		"publications", res.Publications, "engagement", res.Engagement, "events", res.Events)
	return res, nil
}

func (a *App) registerJobs() error {
	cfg := a.Config
	jobs := []struct {
		name    string
		spec    string
		timeout time.Duration
		job     scheduler.Job
	}{
		{jobPublish, "@every " + cfg.PublishInterval.String(), 0, func(ctx context.Context) error {
			_, err := a.Orchestrator.Tick(ctx)
			return err
		}},
		{jobCadence, cfg.CadenceSchedule, time.Minute, func(ctx context.Context) error {
			_, err := a.RefreshCadence(ctx)
			return err
		}},
		{jobRetention, "30 3 * * *", 5 * time.Minute, func(ctx context.Context) error {
			_, err := a.Sweep(ctx)
			return err
		}},
		{jobEvents, "0 6 * * *", 2 * time.Minute, func(ctx context.Context) error {
			_, err := a.Events.Refresh(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if err := a.Scheduler.AddJob(j.name, j.spec, j.timeout, j.job); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the periodic jobs and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Restore(ctx); err != nil {
		a.log.Warn("could not restore governor state", "error", err)
	}
	if _, err := a.RefreshCadence(ctx); err != nil {
		a.log.Warn("initial cadence refresh failed, using previous profile", "error", err)
	}
	if _, err := a.Events.Refresh(ctx); err != nil {
		a.log.Warn("initial events refresh failed", "error", err)
	}

	if err := a.registerJobs(); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}
	a.Scheduler.Start()
	for _, j := range a.Scheduler.ListJobs() {
		a.log.Debug("job scheduled", "job", j.Name, "schedule", j.Schedule, "next_run", j.NextRun)
	}
	a.Notifier.Notify(ctx, "🤖 Бот запущен и готов к работе!")
	a.log.Info("service started",
		"feeds", len(a.Fetcher.Feeds()),
		"store", a.Config.StoreDriver,
		"translation", a.Config.TranslationEnabled())

	<-ctx.Done()

	a.log.Info("shutting down")
	stopCtx := a.Scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		a.log.Warn("jobs did not finish in time")
	}
	a.Governor.Stop()

	noticeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Notifier.Notify(noticeCtx, "🛑 Бот остановлен")
	return nil
}

// Close releases the store and the translation client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
