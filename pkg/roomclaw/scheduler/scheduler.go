// Package scheduler fires agent wakeups from cron expressions and one-shot
// timers. Uses robfig/cron for expression parsing and execution; jobs live
// in memory and standing schedules are re-registered from config at start.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// WakeFunc is called when a schedule fires, carrying the wake reason.
type WakeFunc func(reason string)

// Job is one standing cron wakeup.
type Job struct {
	// ID is the unique job identifier.
	ID string

	// Cron is the schedule expression ("0 9 * * *", "@hourly", "@every 5m").
	Cron string

	// Reason is surfaced as the wake reason when the job fires.
	Reason string

	// CreatedAt is the registration timestamp.
	CreatedAt time.Time

	// LastFiredAt is the most recent firing, nil before the first.
	LastFiredAt *time.Time

	// FireCount tracks how often the job has fired.
	FireCount int
}

// Scheduler manages cron wakeups and one-shot timers for one agent.
type Scheduler struct {
	wake   WakeFunc
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	cronIDs map[string]cron.EntryID
	timers  map[string]*time.Timer
	started bool
}

// New creates a scheduler that calls wake on every firing. The wake
// function may be set later with SetWake when construction order demands
// it; firings before that are dropped.
func New(wake WakeFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		wake:    wake,
		cron:    cron.New(),
		logger:  logger.With("component", "scheduler"),
		jobs:    make(map[string]*Job),
		cronIDs: make(map[string]cron.EntryID),
		timers:  make(map[string]*time.Timer),
	}
}

// SetWake replaces the wake function.
func (s *Scheduler) SetWake(wake WakeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wake = wake
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts the cron runner and cancels pending one-shot timers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.cron.Stop()
		s.started = false
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.logger.Info("scheduler stopped")
}

// ScheduleCron registers a standing wakeup and returns its job id.
func (s *Scheduler) ScheduleCron(spec, reason string) (string, error) {
	job := &Job{
		ID:        uuid.NewString()[:8],
		Cron:      spec,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, err := s.cron.AddFunc(spec, func() { s.fire(job) })
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.jobs[job.ID] = job
	s.cronIDs[job.ID] = entryID
	s.logger.Info("cron wakeup registered", "job_id", job.ID, "schedule", spec, "reason", reason)
	return job.ID, nil
}

// ScheduleOnce wakes the agent once after the delay.
func (s *Scheduler) ScheduleOnce(delay time.Duration, reason string) {
	id := uuid.NewString()[:8]
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, id)
		wake := s.wake
		s.mu.Unlock()
		s.logger.Info("one-shot wakeup fired", "timer_id", id, "reason", reason)
		if wake != nil {
			wake(reason)
		}
	})
	s.logger.Info("one-shot wakeup registered", "timer_id", id, "delay", delay, "reason", reason)
}

// Remove deletes a standing job by id.
func (s *Scheduler) Remove(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	if entryID, ok := s.cronIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.cronIDs, jobID)
	}
	delete(s.jobs, jobID)
	s.logger.Info("cron wakeup removed", "job_id", jobID)
	return nil
}

// List returns the standing jobs.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

func (s *Scheduler) fire(job *Job) {
	now := time.Now()
	s.mu.Lock()
	job.LastFiredAt = &now
	job.FireCount++
	wake := s.wake
	s.mu.Unlock()

	s.logger.Info("cron wakeup fired", "job_id", job.ID, "reason", job.Reason)
	if wake != nil {
		wake(job.Reason)
	}
}
