// Package cadence derives the preferred publishing hours from engagement
// history and decides whether the current hour is a good moment to publish.
package cadence

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/technews/internal/storage"
)

// DefaultHours is used until engagement history exists.
var DefaultHours = []int{9, 12, 15, 18, 21}

const (
	DefaultWindowDays = 30
	DefaultTopHours   = 5

	baseOffPeakChance   = 0.2
	offPeakDecayPerHour = 0.01
	minOffPeakChance    = 0.05
)

// Profile is the ordered set of favourable hours of day.
type Profile struct {
	Hours      []int     `json:"hours"`
	ComputedAt time.Time `json:"computed_at"`
	Default    bool      `json:"default"`
}

func defaultProfile(now time.Time) Profile {
	return Profile{Hours: append([]int(nil), DefaultHours...), ComputedAt: now, Default: true}
}

// Contains reports whether hour is one of the profile's hours.
func (p Profile) Contains(hour int) bool {
	for _, h := range p.Hours {
		if h == hour {
			return true
		}
	}
	return false
}

// Recompute aggregates samples posted within windowDays of now by local
// hour of day, averages views + 5*forwards + 2*reactions per hour and keeps
// the topN hours. Ties go to the earlier hour. Hours come back sorted.
func Recompute(samples []storage.EngagementSample, now time.Time, loc *time.Location, windowDays, topN int) Profile {
	if loc == nil {
		loc = time.UTC
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	if topN <= 0 {
		topN = DefaultTopHours
	}

	cutoff := now.AddDate(0, 0, -windowDays)
	var sum [24]float64
	var count [24]int
	seen := false
	for _, s := range samples {
		if s.PostedAt.Before(cutoff) {
			continue
		}
		h := s.PostedAt.In(loc).Hour()
		sum[h] += s.Engagement()
		count[h]++
		seen = true
	}
	if !seen {
		return defaultProfile(now)
	}

	type hourAvg struct {
		hour int
		avg  float64
	}
	var ranked []hourAvg
	for h := 0; h < 24; h++ {
		if count[h] > 0 {
			ranked = append(ranked, hourAvg{hour: h, avg: sum[h] / float64(count[h])})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].avg > ranked[j].avg })
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	hours := make([]int, len(ranked))
	for i, r := range ranked {
		hours[i] = r.hour
	}
	sort.Ints(hours)
	return Profile{Hours: hours, ComputedAt: now}
}

// HourDistance is the circular distance between two hours of day.
func HourDistance(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= 24
	if d > 12 {
		d = 24 - d
	}
	return d
}

// OffPeakChance is the probability of publishing at hour when it is not one
// of the profile's hours.
func OffPeakChance(p Profile, hour int) float64 {
	if len(p.Hours) == 0 {
		return baseOffPeakChance
	}
	nearest := 24
	for _, h := range p.Hours {
		if d := HourDistance(h, hour); d < nearest {
			nearest = d
		}
	}
	chance := baseOffPeakChance - offPeakDecayPerHour*float64(nearest)
	if chance < minOffPeakChance {
		chance = minOffPeakChance
	}
	return chance
}

// ShouldPublishNow is true inside the profile's hours, and otherwise when
// roll (uniform in [0,1)) falls below the off-peak chance.
func ShouldPublishNow(p Profile, hour int, roll float64) bool {
	if p.Contains(hour) {
		return true
	}
	return roll < OffPeakChance(p, hour)
}

type Config struct {
	WindowDays int
	TopHours   int
	Location   *time.Location
}

// Optimizer owns the current profile. Refresh runs on the daily schedule;
// ShouldPublishNow is read by every publication cycle.
type Optimizer struct {
	cfg   Config
	store storage.EngagementStore
	log   *slog.Logger
	now   func() time.Time

	mu      sync.RWMutex
	profile Profile

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewOptimizer(cfg Config, store storage.EngagementStore, rng *rand.Rand, log *slog.Logger) *Optimizer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if log == nil {
		log = slog.Default()
	}
	o := &Optimizer{
		cfg:   cfg,
		store: store,
		log:   log,
		now:   time.Now,
		rng:   rng,
	}
	o.profile = defaultProfile(o.now())
	return o
}

// Refresh reloads engagement samples and recomputes the profile. On error
// the previous profile stays in place.
func (o *Optimizer) Refresh(ctx context.Context) (Profile, error) {
	now := o.now()
	days := o.cfg.WindowDays
	if days <= 0 {
		days = DefaultWindowDays
	}
	samples, err := o.store.EngagementSince(ctx, now.AddDate(0, 0, -days))
	if err != nil {
		return o.Profile(), fmt.Errorf("load engagement samples: %w", err)
	}

	p := Recompute(samples, now, o.cfg.Location, days, o.cfg.TopHours)

	o.mu.Lock()
	o.profile = p
	o.mu.Unlock()

	o.log.Info("cadence profile recomputed", "hours", p.Hours, "samples", len(samples), "default", p.Default)
	return p, nil
}

func (o *Optimizer) Profile() Profile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p := o.profile
	p.Hours = append([]int(nil), p.Hours...)
	return p
}

func (o *Optimizer) ShouldPublishNow(now time.Time) bool {
	p := o.Profile()
	hour := now.In(o.cfg.Location).Hour()

	o.rngMu.Lock()
	roll := o.rng.Float64()
	o.rngMu.Unlock()

	ok := ShouldPublishNow(p, hour, roll)
	if !ok {
		o.log.Debug("outside preferred hours", "hour", hour, "chance", OffPeakChance(p, hour))
	}
	return ok
}
