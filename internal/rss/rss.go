package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/technews/internal/news"
)

// FeedsConfig is YAML config structure
// feeds:
//   - https://...
type FeedsConfig struct {
	Feeds []string `yaml:"feeds"`
}

// LoadFeeds reads RSS feeds list from YAML file
func LoadFeeds(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode feeds %s: %w", path, err)
	}

	feeds := make([]string, 0, len(cfg.Feeds))
	for _, u := range cfg.Feeds {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		feeds = append(feeds, u)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("feeds %s: no feeds configured", path)
	}
	return feeds, nil
}

// ErrAllFeedsFailed is returned when not a single feed could be read.
var ErrAllFeedsFailed = errors.New("all feeds failed")

type Options struct {
	ArticlesPerFeed int
	// MaxAge drops entries published longer ago than this. Zero keeps all.
	MaxAge      time.Duration
	Concurrency int
	Timeout     time.Duration
	Client      *http.Client
}

// Fetcher downloads the configured feeds and turns entries into candidates.
type Fetcher struct {
	feeds []string
	opts  Options
	log   *slog.Logger
	now   func() time.Time
}

func NewFetcher(feeds []string, opts Options, log *slog.Logger) *Fetcher {
	if opts.ArticlesPerFeed <= 0 {
		opts.ArticlesPerFeed = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{feeds: feeds, opts: opts, log: log, now: time.Now}
}

func (f *Fetcher) Feeds() []string {
	return append([]string(nil), f.feeds...)
}

// FetchCandidates reads every feed concurrently. A failing feed is logged and
// skipped; the error is only returned when every feed failed.
func (f *Fetcher) FetchCandidates(ctx context.Context) ([]news.CandidateItem, error) {
	results := make([][]news.CandidateItem, len(f.feeds))
	failed := make([]error, len(f.feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for i, feedURL := range f.feeds {
		g.Go(func() error {
			items, err := f.fetchFeed(gctx, feedURL)
			if err != nil {
				f.log.Warn("error parsing feed", "feed", feedURL, "error", err)
				failed[i] = err
				return nil
			}
			f.log.Debug("feed loaded", "feed", feedURL, "items", len(items))
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var all []news.CandidateItem
	ok := 0
	for i := range f.feeds {
		if failed[i] == nil {
			ok++
		}
		all = append(all, results[i]...)
	}
	f.log.Info("processed feeds", "ok", ok, "total", len(f.feeds), "items", len(all))

	if ok == 0 && len(f.feeds) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllFeedsFailed, errors.Join(failed...))
	}
	return all, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, feedURL string) ([]news.CandidateItem, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = f.opts.Client
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, err
	}

	entries := feed.Items
	if len(entries) > f.opts.ArticlesPerFeed {
		entries = entries[:f.opts.ArticlesPerFeed]
	}

	now := f.now()
	items := make([]news.CandidateItem, 0, len(entries))
	for _, it := range entries {
		c, ok := toCandidate(it, feedURL, now)
		if !ok {
			continue
		}
		if f.opts.MaxAge > 0 && now.Sub(c.PublishedAt) > f.opts.MaxAge {
			continue
		}
		items = append(items, c)
	}
	return items, nil
}

func toCandidate(it *gofeed.Item, feedURL string, now time.Time) (news.CandidateItem, bool) {
	if it == nil {
		return news.CandidateItem{}, false
	}
	title := CleanHTML(it.Title)
	if title == "" {
		return news.CandidateItem{}, false
	}

	published := now
	switch {
	case it.PublishedParsed != nil:
		published = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		published = *it.UpdatedParsed
	}

	id := strings.TrimSpace(it.GUID)
	if id == "" {
		id = strings.TrimSpace(it.Link)
	}
	if id == "" {
		id = ItemHash(title, feedURL)
	}

	var text string
	if len(it.Categories) > 0 {
		text = strings.ToLower(strings.Join(it.Categories, " "))
	}

	return news.CandidateItem{
		ID:          id,
		Title:       title,
		Summary:     CleanHTML(it.Description),
		Link:        strings.TrimSpace(it.Link),
		Source:      feedURL,
		PublishedAt: published,
		Text:        text,
	}, true
}

// ItemHash identifies an entry that carries neither GUID nor link by its
// normalized title and the domain it came from.
func ItemHash(title, link string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	h := sha256.New()
	h.Write([]byte(normalized + "|" + extractDomain(link)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func extractDomain(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return link
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// CleanHTML drops markup and images from a feed field and collapses whitespace.
func CleanHTML(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.Join(strings.Fields(raw), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	doc.Find("img, script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
