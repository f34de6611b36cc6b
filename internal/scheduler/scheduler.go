package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled task. ctx ends when the job times out or the
// scheduler stops.
type Job func(ctx context.Context) error

type entry struct {
	id      cron.EntryID
	spec    string
	timeout time.Duration
	job     Job
}

// Scheduler runs named jobs on cron specs. A job still running when its next
// activation comes around is skipped rather than overlapped.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
	loc  *time.Location

	mu     sync.Mutex
	jobs   map[string]entry
	base   context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   c,
		log:    log,
		loc:    loc,
		jobs:   make(map[string]entry),
		base:   base,
		cancel: cancel,
	}
}

// AddJob registers job under name.
// spec format: "0 0 * * *" (midnight daily) or "@every 1m".
func (s *Scheduler) AddJob(name, spec string, timeout time.Duration, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		if err := s.run(name, timeout, job); err != nil {
			s.log.Error("job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: id, spec: spec, timeout: timeout, job: job}
	s.log.Info("job added", "job", name, "schedule", spec)
	return nil
}

// AddInterval registers job to run every d.
func (s *Scheduler) AddInterval(name string, d time.Duration, timeout time.Duration, job Job) error {
	if d <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.AddJob(name, "@every "+d.String(), timeout, job)
}

func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.log.Info("job removed", "job", name)
	}
}

func (s *Scheduler) Start() {
	s.log.Info("scheduler started", "timezone", s.loc.String())
	s.cron.Start()
}

// Stop cancels the context of running jobs and returns a context that is
// done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("scheduler stopping")
	s.cancel()
	return s.cron.Stop()
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	return s.run(name, e.timeout, e.job)
}

func (s *Scheduler) run(name string, timeout time.Duration, job Job) error {
	ctx := s.base
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Debug("job started", "job", name)
	if err := job(ctx); err != nil {
		return err
	}
	s.log.Debug("job completed", "job", name, "took", time.Since(start))
	return nil
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

// ListJobs returns scheduled jobs sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.spec,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
