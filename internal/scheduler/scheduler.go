// Package scheduler fires periodic archive runs, persisting its state so a
// restart keeps the last/next run visible, and deferring scheduled runs
// that land inside the configured downtime window.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tubevault/internal/config"
)

// RunFunc starts an archive run. It returns false when a run was already
// active and nothing was started.
type RunFunc func(ctx context.Context) bool

// DowntimeFunc returns the current downtime block, nil when none applies.
type DowntimeFunc func() *config.Downtime

// Scheduler is an interval trigger. The first fire comes one interval
// after Apply, matching the behavior of enabling a schedule: enable now,
// run in interval_hours.
type Scheduler struct {
	state    *StateStore
	run      RunFunc
	downtime DowntimeFunc
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	timer    *time.Timer
	enabled  bool
	interval time.Duration
	nextRun  time.Time
}

// New builds a stopped scheduler. Apply arms it.
func New(state *StateStore, run RunFunc, downtime DowntimeFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{state: state, run: run, downtime: downtime, logger: logger, now: time.Now}
}

// Apply replaces the current trigger with the given schedule. A disabled
// schedule stops the timer and clears the persisted next run.
func (s *Scheduler) Apply(sched config.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if !sched.Enabled {
		s.enabled = false
		s.persistNextRun(time.Time{})
		return
	}
	hours := sched.IntervalHours
	if hours < 1 {
		hours = 1
	}
	s.enabled = true
	s.interval = time.Duration(hours) * time.Hour
	s.armLocked(s.now().Add(s.interval))
	s.logger.Info("Schedule applied", "interval_hours", hours, "next_run", s.nextRun.UTC().Format(time.RFC3339))
}

// Stop disarms the timer without touching persisted state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.enabled = false
}

// NextRun returns the pending fire time, zero when disabled.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return time.Time{}
	}
	return s.nextRun
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextRun = time.Time{}
}

func (s *Scheduler) armLocked(at time.Time) {
	s.nextRun = at
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, s.fire)
	s.persistNextRun(at)
}

func (s *Scheduler) persistNextRun(at time.Time) {
	if s.state == nil {
		return
	}
	value := ""
	if !at.IsZero() {
		value = at.UTC().Format(time.RFC3339)
	}
	if err := s.state.SetNextRun(context.Background(), value); err != nil {
		s.logger.Warn("Persisting next run failed", "error", err)
	}
}

func (s *Scheduler) persistLastRun(at time.Time) {
	if s.state == nil {
		return
	}
	if err := s.state.SetLastRun(context.Background(), at.UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("Persisting last run failed", "error", err)
	}
}

// fire handles one timer expiry: defer through downtime, otherwise start a
// run and arm the next interval. Skipped runs (already active) still
// reschedule.
func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	now := s.now()
	if s.downtime != nil {
		if deferred, until := DowntimeDeferral(s.downtime(), now); deferred && until.After(now) {
			s.logger.Info("Scheduled run deferred by downtime", "until", until.Format(time.RFC3339))
			s.armLocked(until)
			s.mu.Unlock()
			return
		}
	}
	run := s.run
	interval := s.interval
	s.mu.Unlock()

	started := false
	if run != nil {
		started = run(context.Background())
	}
	if !started {
		s.logger.Info("Scheduled run skipped; run already active")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	if started {
		s.persistLastRun(now)
	}
	s.armLocked(s.now().Add(interval))
}
