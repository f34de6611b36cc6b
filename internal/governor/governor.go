// Package governor enforces publication spacing, the hourly ceiling and the
// administrative pause.
package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Open State = iota
	Throttled
	HourCapped
	Paused
)

func (s State) String() string {
	switch s {
	case Throttled:
		return "throttled"
	case HourCapped:
		return "hour_capped"
	case Paused:
		return "paused"
	default:
		return "open"
	}
}

// Reason explains a denied acquisition.
type Reason string

const (
	ReasonPaused     Reason = "paused"
	ReasonHourCapped Reason = "hour_capped"
	ReasonCanceled   Reason = "canceled"
)

// Decision is the result of TryAcquire. A granted decision must be followed
// by exactly one OnPublished or OnSkipped call.
type Decision struct {
	Granted    bool
	At         time.Time
	Reason     Reason
	RetryAfter time.Duration
}

type Config struct {
	MinInterval time.Duration
	MaxPerHour  int
}

// Status is a point-in-time view of the governor.
type Status struct {
	State                State      `json:"state"`
	PauseUntil           *time.Time `json:"pause_until,omitempty"`
	LastPublication      time.Time  `json:"last_publication_time"`
	PublicationsLastHour int        `json:"publications_in_last_hour"`
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Governor struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu            sync.Mutex
	state         State
	lastGrant     time.Time
	lastPublished time.Time
	published     []time.Time // ascending, pruned to the last hour
	inflight      int
	pauseUntil    time.Time
	resumeTimer   *time.Timer
	pauseGen      uint64
	wake          chan struct{} // closed when a pause should interrupt waiters
	onChange      func(State)
}

func New(cfg Config, log *slog.Logger) *Governor {
	if log == nil {
		log = slog.Default()
	}
	return &Governor{
		cfg:  cfg,
		log:  log,
		now:  time.Now,
		wake: make(chan struct{}),
	}
}

// OnStateChange registers a hook called (under the governor lock) with every new state.
func (g *Governor) OnStateChange(fn func(State)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Restore seeds the in-memory window from ledger history after a restart.
func (g *Governor) Restore(lastPublished time.Time, recent []time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if lastPublished.After(g.lastPublished) {
		g.lastPublished = lastPublished
	}
	for _, ts := range recent {
		g.insertPublished(ts)
	}
	g.prune(g.now())
}

// TryAcquire asks for permission to publish one item. It blocks while the
// minimum interval since the last grant or publication has not elapsed, and
// returns early if the governor is paused meanwhile or ctx ends.
func (g *Governor) TryAcquire(ctx context.Context) Decision {
	for {
		g.mu.Lock()
		now := g.now()
		g.prune(now)

		if g.pausedAt(now) {
			g.setState(Paused)
			d := Decision{Reason: ReasonPaused, RetryAfter: g.pauseUntil.Sub(now)}
			g.mu.Unlock()
			return d
		}

		if g.cfg.MaxPerHour > 0 && len(g.published)+g.inflight >= g.cfg.MaxPerHour {
			g.setState(HourCapped)
			retry := time.Duration(0)
			if len(g.published) > 0 {
				retry = g.published[0].Add(time.Hour).Sub(now)
			}
			g.mu.Unlock()
			return Decision{Reason: ReasonHourCapped, RetryAfter: retry}
		}

		wait := g.spacingWait(now)
		if wait <= 0 {
			g.lastGrant = now
			g.inflight++
			g.setState(Open)
			g.mu.Unlock()
			return Decision{Granted: true, At: now}
		}

		g.setState(Throttled)
		wake := g.wake
		g.mu.Unlock()

		g.log.Debug("waiting out minimum interval", "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.mu.Lock()
			if g.state == Throttled {
				g.setState(Open)
			}
			g.mu.Unlock()
			return Decision{Reason: ReasonCanceled}
		case <-wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// OnPublished turns the oldest in-flight grant into a publication at ts.
func (g *Governor) OnPublished(ts time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight > 0 {
		g.inflight--
	}
	g.insertPublished(ts)
	if ts.After(g.lastPublished) {
		g.lastPublished = ts
	}
}

// OnSkipped releases an in-flight grant whose delivery did not happen.
func (g *Governor) OnSkipped() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inflight > 0 {
		g.inflight--
	}
}

// Pause denies acquisitions for d and schedules an automatic resume,
// replacing any earlier pending resume.
func (g *Governor) Pause(d time.Duration) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resumeTimer != nil {
		g.resumeTimer.Stop()
	}
	g.pauseGen++
	gen := g.pauseGen
	g.pauseUntil = g.now().Add(d)
	g.resumeTimer = time.AfterFunc(d, func() { g.autoResume(gen) })
	g.setState(Paused)

	close(g.wake)
	g.wake = make(chan struct{})

	g.log.Info("publications paused", "until", g.pauseUntil)
	return g.pauseUntil
}

// Resume lifts a pause immediately.
func (g *Governor) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resumeTimer != nil {
		g.resumeTimer.Stop()
		g.resumeTimer = nil
	}
	g.pauseGen++
	g.pauseUntil = time.Time{}
	g.setState(Open)
	g.log.Info("publications resumed")
}

func (g *Governor) autoResume(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gen != g.pauseGen {
		return
	}
	g.resumeTimer = nil
	g.pauseUntil = time.Time{}
	g.setState(Open)
	g.log.Info("pause expired, publications resumed")
}

// Stop cancels a pending auto-resume timer.
func (g *Governor) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resumeTimer != nil {
		g.resumeTimer.Stop()
		g.resumeTimer = nil
	}
}

func (g *Governor) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pausedAt(g.now())
}

func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Paused && !g.pausedAt(g.now()) {
		return Open
	}
	return g.state
}

func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)
	st := Status{
		State:                g.state,
		LastPublication:      g.lastPublished,
		PublicationsLastHour: len(g.published),
	}
	if g.pausedAt(now) {
		until := g.pauseUntil
		st.PauseUntil = &until
		st.State = Paused
	} else if st.State == Paused {
		st.State = Open
	}
	return st
}

func (g *Governor) pausedAt(now time.Time) bool {
	return !g.pauseUntil.IsZero() && now.Before(g.pauseUntil)
}

func (g *Governor) spacingWait(now time.Time) time.Duration {
	last := g.lastGrant
	if g.lastPublished.After(last) {
		last = g.lastPublished
	}
	if last.IsZero() {
		return 0
	}
	return last.Add(g.cfg.MinInterval).Sub(now)
}

// prune drops publications that left the rolling hour.
func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(g.published) && !g.published[i].After(cutoff) {
		i++
	}
	g.published = g.published[i:]
}

func (g *Governor) insertPublished(ts time.Time) {
	i := len(g.published)
	for i > 0 && g.published[i-1].After(ts) {
		i--
	}
	g.published = append(g.published, time.Time{})
	copy(g.published[i+1:], g.published[i:])
	g.published[i] = ts
}

func (g *Governor) setState(s State) {
	if g.state == s {
		return
	}
	g.state = s
	if g.onChange != nil {
		g.onChange(s)
	}
}
