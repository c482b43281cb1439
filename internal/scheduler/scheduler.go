// Package scheduler runs the fleet backup job on a resettable fixed interval.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "panel-backup/internal/errors"
	"panel-backup/internal/logging"
	"panel-backup/internal/models"
)

// Job is the work run on every firing
type Job func(ctx context.Context)

// SettingStore persists the schedule setting
type SettingStore interface {
	Load(ctx context.Context) models.ScheduleSetting
	Save(ctx context.Context, setting models.ScheduleSetting) error
}

// Scheduler keeps exactly one armed timer. Changing the interval replaces the timer; the first
// firing after a change is one full interval later, then it repeats.
type Scheduler struct {
	mu       sync.Mutex
	clock    Clock
	store    SettingStore
	job      Job
	logger   *logging.Logger
	ctx      context.Context
	started  bool
	timer    Timer
	gen      uint64
	interval time.Duration
	next     time.Time
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a scheduler. A nil clock uses the wall clock.
func New(store SettingStore, job Job, clock Clock, logger *logging.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		clock:  clock,
		store:  store,
		job:    job,
		logger: logger,
	}
}

// Start loads the persisted interval and arms the timer. Nothing runs immediately.
func (s *Scheduler) Start(ctx context.Context) models.ScheduleSetting {
	setting := s.store.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.started = true
	s.arm(setting.Interval())

	s.logger.WithFields(map[string]interface{}{
		"interval": setting.Label,
		"next_run": s.next.Format(time.RFC3339),
	}).Info("Scheduler started")
	return setting
}

// SetInterval validates and persists a new interval, then re-arms the timer when started
func (s *Scheduler) SetInterval(ctx context.Context, seconds int64, label string) (models.ScheduleSetting, error) {
	setting, err := models.NewScheduleSetting(seconds, label)
	if err != nil {
		return models.ScheduleSetting{}, apperrors.NewValidationError(err.Error())
	}
	if err := s.store.Save(ctx, setting); err != nil {
		return models.ScheduleSetting{}, apperrors.NewStorageError("failed to persist schedule", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.arm(setting.Interval())
		s.logger.WithFields(map[string]interface{}{
			"interval": setting.Label,
			"next_run": s.next.Format(time.RFC3339),
		}).Info("Schedule updated")
	}
	return setting, nil
}

// Reload re-reads the persisted setting and re-arms the timer if the interval changed
func (s *Scheduler) Reload(ctx context.Context) (models.ScheduleSetting, bool) {
	setting := s.store.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || setting.Interval() == s.interval {
		return setting, false
	}
	s.arm(setting.Interval())
	s.logger.WithField("interval", setting.Label).Info("Schedule reloaded")
	return setting, true
}

// NextRun returns the time of the next firing, zero when not started
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Interval returns the armed interval
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Running reports whether a job is in progress
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Stop disarms the timer and waits for an in-flight job to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.started = false
	s.next = time.Time{}
	s.mu.Unlock()

	s.wg.Wait()
}

// arm replaces the current timer. Caller holds mu.
func (s *Scheduler) arm(interval time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	s.interval = interval
	s.next = s.clock.Now().Add(interval)
	gen := s.gen
	s.timer = s.clock.AfterFunc(interval, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.started {
		s.mu.Unlock()
		return
	}
	s.next = s.clock.Now().Add(s.interval)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(s.interval, func() { s.fire(gen) })
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous backup run still active; skipping this firing")
		return
	}
	defer s.running.Store(false)

	s.job(ctx)
}
