// Package events scrapes the upcoming tech-events calendar and serves
// today's event keywords to the scorer.
package events

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/technews/internal/cache"
	"github.com/deusflow/technews/internal/retry"
	"github.com/deusflow/technews/internal/storage"
)

const DefaultURL = "https://www.techmeme.com/events"

// Scraper downloads and parses the events page.
type Scraper struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

func NewScraper(url string, client *http.Client, log *slog.Logger) *Scraper {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{url: url, client: client, log: log}
}

func (s *Scraper) Fetch(ctx context.Context, now time.Time) ([]storage.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading events page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events page: HTTP %d", resp.StatusCode)
	}

	events, err := ParseEvents(resp.Body, now, s.log)
	if err != nil {
		return nil, err
	}
	s.log.Info("upcoming events fetched", "count", len(events))
	return events, nil
}

// ParseEvents reads `.rhov` rows whose first three divs hold the date, the
// event name and its location. Rows that do not parse are skipped.
func ParseEvents(r io.Reader, now time.Time, log *slog.Logger) ([]storage.Event, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}

	var events []storage.Event
	doc.Find(".rhov").Each(func(_ int, row *goquery.Selection) {
		divs := row.Find("div")
		if divs.Length() < 3 {
			return
		}
		dateText := strings.TrimSpace(divs.Eq(0).Text())
		name := strings.TrimSpace(divs.Eq(1).Text())
		location := strings.TrimSpace(divs.Eq(2).Text())

		date, err := ParseDate(dateText, now)
		if err != nil {
			if log != nil {
				log.Debug("skipping event row", "date", dateText, "error", err)
			}
			return
		}
		events = append(events, storage.Event{
			Name:     name,
			Date:     date,
			Keywords: Keywords(name, location),
		})
	})
	return events, nil
}

// ParseDate accepts "Jan 5", "Jan 5-7" and "Jan 5-7, 2027". The year
// defaults to now's year; for ranges only the first day counts.
func ParseDate(s string, now time.Time) (time.Time, error) {
	parts := strings.Fields(strings.ReplaceAll(s, ",", ""))
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("unrecognised event date %q", s)
	}
	month := parts[0]
	if len(month) > 3 {
		month = month[:3]
	}
	day := strings.SplitN(parts[1], "-", 2)[0]
	year := fmt.Sprint(now.Year())
	if len(parts) > 2 {
		year = parts[2]
	}
	t, err := time.Parse("Jan 2 2006", month+" "+day+" "+year)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised event date %q: %w", s, err)
	}
	return t, nil
}

// Keywords are the distinct lowercased words longer than three characters.
func Keywords(name, location string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(strings.ToLower(name + " " + location)) {
		w = strings.Trim(w, ".,:;()[]\"'")
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Service keeps the event table fresh and answers keyword lookups for the
// current day from a short-lived cache.
type Service struct {
	scraper *Scraper
	store   storage.EventStore
	cache   *cache.Cache[string, [][]string]
	retry   retry.Config
	loc     *time.Location
	log     *slog.Logger
	now     func() time.Time
}

func NewService(scraper *Scraper, store storage.EventStore, loc *time.Location, log *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		scraper: scraper,
		store:   store,
		cache:   cache.New[string, [][]string](8, time.Hour),
		retry:   retry.Config{MaxAttempts: 3, Delay: 5 * time.Second, Backoff: true},
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) today() time.Time {
	n := s.now().In(s.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// Refresh scrapes the page and replaces the stored events, dropping past ones.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	today := s.today()

	var scraped []storage.Event
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		var err error
		scraped, err = s.scraper.Fetch(ctx, today)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch events: %w", err)
	}

	if err := s.store.ReplaceEvents(ctx, today, scraped); err != nil {
		return 0, fmt.Errorf("store events: %w", err)
	}
	s.cache.Purge()

	kept := 0
	for _, e := range scraped {
		if !e.Date.Before(today) {
			kept++
		}
	}
	s.log.Info("events updated", "scraped", len(scraped), "stored", kept)
	return kept, nil
}

// TodayKeywords returns one keyword set per event scheduled today.
func (s *Service) TodayKeywords(ctx context.Context) ([][]string, error) {
	today := s.today()
	key := today.Format("2006-01-02")
	if kw, ok := s.cache.Get(key); ok {
		return kw, nil
	}

	evs, err := s.store.EventsOn(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("load today's events: %w", err)
	}
	kw := make([][]string, 0, len(evs))
	for _, e := range evs {
		if len(e.Keywords) > 0 {
			kw = append(kw, e.Keywords)
		}
	}
	s.cache.Set(key, kw)
	return kw, nil
}

// Upcoming lists events from today on, earliest first.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]storage.Event, error) {
	return s.store.UpcomingEvents(ctx, s.today(), limit)
}
