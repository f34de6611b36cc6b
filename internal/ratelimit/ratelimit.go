package ratelimit

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQuotaExceeded = errors.New("daily quota exceeded")

// DailyQuota caps requests to a paid API per calendar day and tracks how
// many calls a cache saved. Counters reset at midnight in the location of
// the clock's times.
type DailyQuota struct {
	mu        sync.Mutex
	name      string
	max       int
	used      int
	hits      int
	misses    int
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

// NewDailyQuota creates a quota of max requests per day. max <= 0 is unlimited.
func NewDailyQuota(name string, max int, log *slog.Logger) *DailyQuota {
	if log == nil {
		log = slog.Default()
	}
	q := &DailyQuota{name: name, max: max, now: time.Now, log: log}
	q.resetTime = nextMidnight(q.now())
	return q
}

// Allow reports whether another request fits in today's quota.
func (q *DailyQuota) Allow() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.checkReset()
	return q.max <= 0 || q.used < q.max
}

// Use consumes one request.
func (q *DailyQuota) Use() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.checkReset()
	if q.max > 0 && q.used >= q.max {
		q.log.Warn("rate limit reached", "service", q.name, "used", q.used, "limit", q.max)
		return ErrQuotaExceeded
	}
	q.used++
	q.misses++
	q.log.Debug("quota usage", "service", q.name, "used", q.used, "limit", q.max)
	return nil
}

// RecordCacheHit counts a request the cache answered instead of the API.
func (q *DailyQuota) RecordCacheHit() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hits++
}

type Stats struct {
	Service      string    `json:"service"`
	Used         int       `json:"used"`
	Limit        int       `json:"limit"`
	CacheHits    int       `json:"cache_hits"`
	CacheMisses  int       `json:"cache_misses"`
	CacheHitRate float64   `json:"cache_hit_rate"`
	ResetTime    time.Time `json:"reset_time"`
}

func (q *DailyQuota) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		Service:     q.name,
		Used:        q.used,
		Limit:       q.max,
		CacheHits:   q.hits,
		CacheMisses: q.misses,
		ResetTime:   q.resetTime,
	}
	if total := q.hits + q.misses; total > 0 {
		st.CacheHitRate = float64(q.hits) / float64(total) * 100
	}
	return st
}

// checkReset resets counters if reset time has passed
func (q *DailyQuota) checkReset() {
	now := q.now()
	if now.Before(q.resetTime) {
		return
	}
	q.log.Info("resetting quota counters", "service", q.name, "used", q.used, "cache_hits", q.hits)
	q.used = 0
	q.hits = 0
	q.misses = 0
	q.resetTime = nextMidnight(now)
}

func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
