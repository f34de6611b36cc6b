package news

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	nonPriorityDampening = 0.1
	sentimentFactor      = 0.1
	eventBonus           = 0.5
	sameDayBonus         = 0.3
	recentBonus          = 0.1
	prioritySourceBonus  = 0.2
	longTextBonus        = 0.2
	mediumTextBonus      = 0.1
	importanceBonus      = 0.3

	longTextLen   = 1000
	mediumTextLen = 500
)

// ScoreContext carries the per-cycle inputs of scoring.
type ScoreContext struct {
	// EventKeywords holds one keyword set per event scheduled for today.
	EventKeywords [][]string
	Now           time.Time
}

type Scorer struct {
	rules     *Rules
	sentiment Sentiment
	log       *slog.Logger
}

func NewScorer(rules *Rules, sentiment Sentiment, log *slog.Logger) *Scorer {
	if sentiment == nil {
		sentiment = NewLexicon()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scorer{rules: rules, sentiment: sentiment, log: log}
}

func (s *Scorer) Rules() *Rules {
	return s.rules
}

// Score rates one item. Missing fields count as empty text or zero time.
func (s *Scorer) Score(item CandidateItem, sc ScoreContext) ScoredItem {
	out := ScoredItem{CandidateItem: item, Category: CategoryNone}
	content := item.Content()

	out.Urgent = containsAny(content, s.rules.BreakingKeywords) || s.rules.IsPrioritySource(item.Source)

	if containsAny(content, s.rules.BlockedTerms) {
		out.Blocked = true
		return out
	}

	category, ok := s.categorize(item.CategoryText())
	if !ok {
		return out
	}
	out.Category = category.Name

	b := Breakdown{Base: category.Weight}
	if !category.Priority {
		b.Base *= nonPriorityDampening
	}

	b.Sentiment = s.sentiment.Polarity(content) * sentimentFactor

	for _, kw := range sc.EventKeywords {
		if containsAny(content, kw) {
			b.Event = eventBonus
			break
		}
	}

	b.Recency = recencyBonus(item.PublishedAt, sc.Now)

	if s.rules.IsPrioritySource(item.Source) {
		b.Source = prioritySourceBonus
	}

	switch n := utf8.RuneCountInString(content); {
	case n > longTextLen:
		b.Length = longTextBonus
	case n > mediumTextLen:
		b.Length = mediumTextBonus
	}

	if containsAny(content, s.rules.ImportanceTerms) {
		b.Importance = importanceBonus
	}

	out.Breakdown = b
	out.Score = b.Total()
	return out
}

// ScoreAll scores a batch. An item whose scoring panics is logged and dropped.
func (s *Scorer) ScoreAll(items []CandidateItem, sc ScoreContext) []ScoredItem {
	out := make([]ScoredItem, 0, len(items))
	for _, it := range items {
		scored, err := s.safeScore(it, sc)
		if err != nil {
			s.log.Error("scoring failed, item dropped", "id", it.ID, "error", err)
			continue
		}
		out = append(out, scored)
	}
	return out
}

func (s *Scorer) safeScore(item CandidateItem, sc ScoreContext) (scored ScoredItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Score(item, sc), nil
}

// categorize picks the category with the most keyword occurrences.
// Ties go to the category listed first.
func (s *Scorer) categorize(content string) (Category, bool) {
	best, bestCount := -1, 0
	for i, c := range s.rules.Categories {
		count := 0
		for _, kw := range c.Keywords {
			if kw != "" {
				count += strings.Count(content, kw)
			}
		}
		if count > bestCount {
			best, bestCount = i, count
		}
	}
	if best < 0 {
		return Category{}, false
	}
	return s.rules.Categories[best], true
}

func recencyBonus(published, now time.Time) float64 {
	if published.IsZero() {
		return 0
	}
	age := now.Sub(published)
	switch {
	case age < 24*time.Hour:
		return sameDayBonus
	case age < 3*24*time.Hour:
		return recentBonus
	}
	return 0
}
