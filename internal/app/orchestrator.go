package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/technews/internal/governor"
	"github.com/deusflow/technews/internal/metrics"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/storage"
	"github.com/deusflow/technews/internal/translate"
)

// FeedSource returns fresh candidates. Items may already be published.
type FeedSource interface {
	FetchCandidates(ctx context.Context) ([]news.CandidateItem, error)
}

// Deliverer publishes one item and returns an opaque delivery id.
type Deliverer interface {
	Deliver(ctx context.Context, item news.ScoredItem) (string, error)
}

// KeywordProvider returns the keyword sets of today's events.
type KeywordProvider interface {
	TodayKeywords(ctx context.Context) ([][]string, error)
}

// Gate decides whether a cycle should run at all at the given moment.
type Gate interface {
	ShouldPublishNow(now time.Time) bool
}

// Notifier sends short operator-facing messages.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Options struct {
	MinInterest   float64
	DelayIncrease time.Duration
	TargetCount   int
}

// CycleResult summarizes one tick.
type CycleResult struct {
	Outcome   string
	Fetched   int
	Fresh     int
	Qualified int
	Planned   int
	Published int
}

// Status is the control-surface view of the publication engine.
type Status struct {
	governor.Status
	ExtraDelayMinutes int        `json:"current_extra_delay"`
	DeferredUntil     *time.Time `json:"deferred_until,omitempty"`
}

// Orchestrator runs the publication cycle. Tick is not reentrant; the
// scheduler skips a tick while the previous one is still running.
type Orchestrator struct {
	opts       Options
	feeds      FeedSource
	translator translate.Translator
	scorer     *news.Scorer
	selector   *news.Selector
	gov        *governor.Governor
	ledger     storage.Ledger
	deliverer  Deliverer
	events     KeywordProvider
	cadence    Gate
	metrics    *metrics.Metrics
	notify     Notifier
	log        *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	extraDelay time.Duration
	dryAt      time.Time
}

// Deps bundles the orchestrator collaborators. Translator, Events, Cadence
// and Notifier are optional.
type Deps struct {
	Feeds      FeedSource
	Translator translate.Translator
	Scorer     *news.Scorer
	Selector   *news.Selector
	Governor   *governor.Governor
	Ledger     storage.Ledger
	Deliverer  Deliverer
	Events     KeywordProvider
	Cadence    Gate
	Metrics    *metrics.Metrics
	Notifier   Notifier
}

func NewOrchestrator(opts Options, deps Deps, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if deps.Translator == nil {
		deps.Translator = translate.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Orchestrator{
		opts:       opts,
		feeds:      deps.Feeds,
		translator: deps.Translator,
		scorer:     deps.Scorer,
		selector:   deps.Selector,
		gov:        deps.Governor,
		ledger:     deps.Ledger,
		deliverer:  deps.Deliverer,
		events:     deps.Events,
		cadence:    deps.Cadence,
		metrics:    deps.Metrics,
		notify:     deps.Notifier,
		log:        log,
		now:        time.Now,
	}
}

// Tick runs one publication cycle.
func (o *Orchestrator) Tick(ctx context.Context) (CycleResult, error) {
	start := o.now()
	res, err := o.tick(ctx, start)
	o.metrics.ObserveCycle(res.Outcome, o.now().Sub(start))
	if err != nil {
		o.metrics.SetError(err.Error())
	} else {
		o.metrics.SetLastRun()
	}

	attrs := []any{
		"outcome", res.Outcome,
		"fetched", res.Fetched,
		"fresh", res.Fresh,
		"qualified", res.Qualified,
		"planned", res.Planned,
		"published", res.Published,
	}
	if err != nil {
		o.log.Error("cycle failed", append(attrs, "error", err)...)
	} else {
		o.log.Info("cycle finished", attrs...)
	}
	return res, err
}

func (o *Orchestrator) tick(ctx context.Context, now time.Time) (CycleResult, error) {
	var res CycleResult

	if o.gov.IsPaused() {
		res.Outcome = metrics.OutcomePaused
		return res, nil
	}

	if until, deferred := o.deferredUntil(now); deferred {
		o.log.Debug("cycle deferred by extra delay", "until", until)
		res.Outcome = metrics.OutcomeDeferred
		return res, nil
	}

	if o.cadence != nil && !o.cadence.ShouldPublishNow(now) {
		res.Outcome = metrics.OutcomeOffPeak
		return res, nil
	}

	items, err := o.feeds.FetchCandidates(ctx)
	if err != nil {
		res.Outcome = metrics.OutcomeFetchError
		return res, fmt.Errorf("fetch candidates: %w", err)
	}
	res.Fetched = len(items)
	o.metrics.CandidatesFetched.Add(float64(len(items)))

	fresh := o.unpublished(ctx, items)
	res.Fresh = len(fresh)
	if len(fresh) == 0 {
		res.Outcome = metrics.OutcomeNoCandidates
		return res, nil
	}

	scored := o.score(ctx, fresh, now)
	qualifying := news.Qualifying(scored, o.opts.MinInterest)
	res.Qualified = len(qualifying)
	o.metrics.Qualified.Add(float64(len(qualifying)))

	if len(qualifying) == 0 {
		delay := o.increaseDelay(now)
		o.notifyf(ctx, "😴 No interesting articles, extra delay is now %s", delay)
		res.Outcome = metrics.OutcomeDry
		return res, nil
	}

	plan := o.selector.Select(qualifying, o.opts.TargetCount)
	res.Planned = len(plan)
	o.notifyf(ctx, "📋 Selected %d articles for publication", len(plan))

	res.Outcome = metrics.OutcomePublished
	for _, item := range plan {
		d := o.gov.TryAcquire(ctx)
		if !d.Granted {
			switch d.Reason {
			case governor.ReasonHourCapped:
				res.Outcome = metrics.OutcomeHourCapped
			case governor.ReasonPaused:
				res.Outcome = metrics.OutcomePaused
			}
			o.log.Info("publication stopped", "reason", d.Reason, "retry_after", d.RetryAfter)
			break
		}

		if o.publish(ctx, item) {
			res.Published++
		}
	}

	o.notifyf(ctx, "✅ Cycle finished, published %d of %d", res.Published, res.Planned)
	if errors.Is(ctx.Err(), context.Canceled) {
		return res, ctx.Err()
	}
	return res, nil
}

// publish runs one granted slot through dedup, delivery and the ledger.
// The caller holds a grant that publish always resolves.
func (o *Orchestrator) publish(ctx context.Context, item news.ScoredItem) bool {
	log := o.log.With("id", item.ID, "title", item.Title)

	dup, err := o.ledger.IsPublished(ctx, item.ID)
	if err != nil {
		o.gov.OnSkipped()
		o.metrics.LedgerErrors.Inc()
		log.Error("ledger lookup failed, item skipped", "error", err)
		return false
	}
	if dup {
		o.gov.OnSkipped()
		o.metrics.DuplicatesSkipped.Inc()
		log.Debug("already published")
		return false
	}

	deliveryID, err := o.deliverer.Deliver(ctx, item)
	if err != nil {
		o.gov.OnSkipped()
		o.metrics.DeliveryFailures.Inc()
		log.Warn("delivery failed", "error", err)
		return false
	}

	ts := o.now()
	// the item is out; spacing and the hourly cap count it either way
	o.gov.OnPublished(ts)
	o.metrics.Publications.WithLabelValues(item.Category).Inc()

	rec := storage.PublicationRecord{
		ID:          item.ID,
		Title:       item.Title,
		Category:    item.Category,
		DeliveryID:  deliveryID,
		PublishedAt: ts,
	}
	if err := o.ledger.Record(ctx, rec); err != nil {
		o.metrics.LedgerErrors.Inc()
		log.Error("failed to record publication", "delivery_id", deliveryID, "error", err)
		return true
	}

	log.Info("published", "category", item.Category, "score", item.Score, "delivery_id", deliveryID)
	o.notifyf(ctx, "📤 Published: %s", item.Title)
	return true
}

// unpublished drops items already in the ledger. A failed lookup drops the
// item for this cycle.
func (o *Orchestrator) unpublished(ctx context.Context, items []news.CandidateItem) []news.CandidateItem {
	out := make([]news.CandidateItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}

		done, err := o.ledger.IsPublished(ctx, it.ID)
		if err != nil {
			o.metrics.LedgerErrors.Inc()
			o.log.Warn("ledger lookup failed", "id", it.ID, "error", err)
			continue
		}
		if !done {
			out = append(out, it)
		}
	}
	return out
}

func (o *Orchestrator) score(ctx context.Context, items []news.CandidateItem, now time.Time) []news.ScoredItem {
	items = translate.All(ctx, o.translator, items, o.log)

	sc := news.ScoreContext{Now: now}
	if o.events != nil {
		kw, err := o.events.TodayKeywords(ctx)
		if err != nil {
			o.log.Warn("event keywords unavailable", "error", err)
		}
		sc.EventKeywords = kw
	}
	return o.scorer.ScoreAll(items, sc)
}

// Scores fetches and scores the current candidates once, highest first.
func (o *Orchestrator) Scores(ctx context.Context) ([]news.ScoredItem, error) {
	items, err := o.feeds.FetchCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	scored := o.score(ctx, items, o.now())
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

func (o *Orchestrator) increaseDelay(now time.Time) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.extraDelay += o.opts.DelayIncrease
	o.dryAt = now
	o.metrics.ExtraDelay.Set(o.extraDelay.Seconds())
	return o.extraDelay
}

func (o *Orchestrator) deferredUntil(now time.Time) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.extraDelay <= 0 {
		return time.Time{}, false
	}
	until := o.dryAt.Add(o.extraDelay)
	return until, now.Before(until)
}

func (o *Orchestrator) ExtraDelay() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.extraDelay
}

// ResetDelay clears the backoff accumulated by dry cycles.
func (o *Orchestrator) ResetDelay() {
	o.mu.Lock()
	o.extraDelay = 0
	o.dryAt = time.Time{}
	o.mu.Unlock()
	o.metrics.ExtraDelay.Set(0)
}

// Pause stops publication for d. It takes effect at the next acquisition
// point and never interrupts a delivery in flight.
func (o *Orchestrator) Pause(d time.Duration) time.Time {
	return o.gov.Pause(d)
}

// Resume lifts a pause and clears the extra delay.
func (o *Orchestrator) Resume() {
	o.gov.Resume()
	o.ResetDelay()
}

func (o *Orchestrator) Status() Status {
	st := Status{Status: o.gov.Status()}

	o.mu.Lock()
	defer o.mu.Unlock()
	st.ExtraDelayMinutes = int(o.extraDelay / time.Minute)
	if o.extraDelay > 0 {
		until := o.dryAt.Add(o.extraDelay)
		if o.now().Before(until) {
			st.DeferredUntil = &until
		}
	}
	return st
}

func (o *Orchestrator) notifyf(ctx context.Context, format string, args ...any) {
	if o.notify == nil {
		return
	}
	o.notify.Notify(ctx, fmt.Sprintf(format, args...))
}
