package news

import (
	"strings"
	"time"
	"unicode/utf8"
)

// CategoryNone marks items that matched no category or hit a blocked term.
const CategoryNone = "none"

// CandidateItem is a fetched feed entry. Treat it as immutable.
type CandidateItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	// Text is extra category-relevant text (feed content, tags).
	Text string `json:"text,omitempty"`
}

// Content is the lowercased title and summary the scoring rules run against.
func (c CandidateItem) Content() string {
	return strings.ToLower(c.Title + " " + c.Summary)
}

// CategoryText is Content plus the feed-supplied tags, used to pick a category.
func (c CandidateItem) CategoryText() string {
	if c.Text == "" {
		return c.Content()
	}
	return c.Content() + " " + strings.ToLower(c.Text)
}

// Breakdown lists each additive signal that went into a score.
type Breakdown struct {
	Base       float64 `json:"base"`
	Sentiment  float64 `json:"sentiment"`
	Event      float64 `json:"event"`
	Recency    float64 `json:"recency"`
	Source     float64 `json:"source"`
	Length     float64 `json:"length"`
	Importance float64 `json:"importance"`
}

func (b Breakdown) Total() float64 {
	return b.Base + b.Sentiment + b.Event + b.Recency + b.Source + b.Length + b.Importance
}

// ScoredItem is recomputed every cycle and never persisted.
type ScoredItem struct {
	CandidateItem
	Category  string    `json:"category"`
	Score     float64   `json:"score"`
	Urgent    bool      `json:"urgent"`
	Blocked   bool      `json:"blocked,omitempty"`
	Breakdown Breakdown `json:"breakdown"`
}

// Eligible reports whether the item may be selected at all.
func (s ScoredItem) Eligible() bool {
	return !s.Blocked && s.Category != CategoryNone && s.Score > 0
}

// Qualifying keeps eligible items scoring at least minScore, preserving order.
func Qualifying(items []ScoredItem, minScore float64) []ScoredItem {
	out := make([]ScoredItem, 0, len(items))
	for _, it := range items {
		if it.Eligible() && it.Score >= minScore {
			out = append(out, it)
		}
	}
	return out
}

// TruncateSummary cuts s to at most max characters on a word boundary and
// appends "...".
func TruncateSummary(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	end, n := len(s), 0
	for i := range s {
		if n == max {
			end = i
			break
		}
		n++
	}
	truncated := s[:end]
	if idx := strings.LastIndex(truncated, " "); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
