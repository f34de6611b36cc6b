// Package translate localizes candidate titles and summaries before scoring.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/technews/internal/cache"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/ratelimit"
)

// Translator rewrites an item's title and summary into the target language.
type Translator interface {
	Translate(ctx context.Context, item news.CandidateItem) (news.CandidateItem, error)
}

// Noop is used when no translation backend is configured.
type Noop struct{}

func (Noop) Translate(_ context.Context, item news.CandidateItem) (news.CandidateItem, error) {
	return item, nil
}

// Generator produces model output for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type result struct {
	Title   string
	Summary string
}

const maxPromptChars = 4000

// AI translates through a generative model, behind a cache and a daily quota.
type AI struct {
	gen   Generator
	lang  string
	cache *cache.Cache[string, result]
	quota *ratelimit.DailyQuota
	log   *slog.Logger
}

func NewAI(gen Generator, lang string, quota *ratelimit.DailyQuota, log *slog.Logger) *AI {
	if log == nil {
		log = slog.Default()
	}
	return &AI{
		gen:   gen,
		lang:  lang,
		cache: cache.New[string, result](2048, 48*time.Hour),
		quota: quota,
		log:   log,
	}
}

func (a *AI) Translate(ctx context.Context, item news.CandidateItem) (news.CandidateItem, error) {
	if strings.TrimSpace(item.Title) == "" && strings.TrimSpace(item.Summary) == "" {
		return item, nil
	}

	key := cache.Key(a.lang, item.Title, item.Summary)
	if r, ok := a.cache.Get(key); ok {
		if a.quota != nil {
			a.quota.RecordCacheHit()
		}
		return apply(item, r), nil
	}

	if a.quota != nil {
		if err := a.quota.Use(); err != nil {
			return item, err
		}
	}

	out, err := a.gen.Generate(ctx, buildPrompt(a.lang, item.Title, item.Summary))
	if err != nil {
		return item, fmt.Errorf("translate %q: %w", item.ID, err)
	}
	r, err := parseResponse(out)
	if err != nil {
		return item, fmt.Errorf("translate %q: %w", item.ID, err)
	}
	if r.Summary == "" && strings.TrimSpace(item.Summary) != "" {
		r.Summary = item.Summary
	}

	a.cache.Set(key, r)
	return apply(item, r), nil
}

func apply(item news.CandidateItem, r result) news.CandidateItem {
	item.Title = r.Title
	item.Summary = r.Summary
	return item
}

func buildPrompt(lang, title, summary string) string {
	summary = strings.Join(strings.Fields(summary), " ")
	if utf8.RuneCountInString(summary) > maxPromptChars {
		summary = string([]rune(summary)[:maxPromptChars])
	}
	return fmt.Sprintf(`Translate this tech news item into the language with ISO code %q.
Keep brand, product and company names as they are. Do not add notes or comments.

TITLE: %s
SUMMARY: %s

Answer strictly in this format:
TITLE: <translated title>
SUMMARY: <translated summary>
`, lang, title, summary)
}

var (
	titleLabel   = regexp.MustCompile(`(?i)^\**\s*(TITLE|ЗАГОЛОВОК)\s*\**\s*:\s*\**\s*`)
	summaryLabel = regexp.MustCompile(`(?i)^\**\s*(SUMMARY|ОПИСАНИЕ|КРАТКО)\s*\**\s*:\s*\**\s*`)
)

var errUnparsable = errors.New("could not parse model response: missing title")

// parseResponse reads the TITLE:/SUMMARY: blocks; lines without a label
// continue the current block.
func parseResponse(response string) (result, error) {
	var title, summary strings.Builder
	var current *strings.Builder

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || noteLine.MatchString(line) {
			continue
		}
		switch {
		case titleLabel.MatchString(line):
			current = &title
			line = titleLabel.ReplaceAllString(line, "")
		case summaryLabel.MatchString(line):
			current = &summary
			line = summaryLabel.ReplaceAllString(line, "")
		}
		if current == nil || line == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(line)
	}

	r := result{
		Title:   SanitizeAIText(title.String()),
		Summary: SanitizeAIText(summary.String()),
	}
	if r.Title == "" {
		return result{}, errUnparsable
	}
	return r, nil
}

var noteLine = regexp.MustCompile(`(?i)^(?:note|примечание)\s*:`)

var disclaimerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\((?:note|примечание)\s*:[^)]*\)`),
	regexp.MustCompile(`(?i)\[(?:note|примечание)\s*:?[^\]]*\]`),
	regexp.MustCompile(`(?im)^(?:note|примечание)\s*:.*$`),
}

// SanitizeAIText strips machine-translation disclaimers models like to add.
func SanitizeAIText(s string) string {
	for _, re := range disclaimerPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}

// All translates items one by one. An item that fails keeps its original
// text; once the quota runs out the rest are passed through untouched.
func All(ctx context.Context, t Translator, items []news.CandidateItem, log *slog.Logger) []news.CandidateItem {
	out := make([]news.CandidateItem, len(items))
	exhausted := false
	for i, it := range items {
		if exhausted {
			out[i] = it
			continue
		}
		tr, err := t.Translate(ctx, it)
		if err != nil {
			if errors.Is(err, ratelimit.ErrQuotaExceeded) {
				exhausted = true
			}
			if log != nil {
				log.Warn("translation failed, using original text", "id", it.ID, "error", err)
			}
			out[i] = it
			continue
		}
		out[i] = tr
	}
	return out
}
