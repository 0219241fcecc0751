// Package scheduler runs the background jobs: content polls, the retry
// sweep, the due-task processor and the release monitor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is one scheduled job body. Errors are logged, never propagated.
type TaskFunc func(ctx context.Context) error

// TaskConfig describes a recurring job. Exactly one of Interval or Cron
// must be set.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Interval    time.Duration
	Cron        string
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo is the admin-surface view of a registered job.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Interval    string     `json:"interval,omitempty"`
	Cron        string     `json:"cron,omitempty"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	Running     bool       `json:"running"`
}

type registration struct {
	cfg     TaskConfig
	job     gocron.Job
	lastRun *time.Time
	running bool
}

// Scheduler hosts the recurring jobs on a gocron scheduler.
type Scheduler struct {
	host   gocron.Scheduler
	logger zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*registration
}

func New(logger zerolog.Logger) (*Scheduler, error) {
	host, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		host:   host,
		logger: logger.With().Str("component", "scheduler").Logger(),
		jobs:   make(map[string]*registration),
	}, nil
}

// RegisterTask adds a job. Duplicate ids are an error.
func (s *Scheduler) RegisterTask(cfg TaskConfig) error {
	var def gocron.JobDefinition
	switch {
	case cfg.Interval > 0:
		def = gocron.DurationJob(cfg.Interval)
	case cfg.Cron != "":
		def = gocron.CronJob(cfg.Cron, false)
	default:
		return fmt.Errorf("task %q needs an interval or a cron expression", cfg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[cfg.ID]; dup {
		return fmt.Errorf("task %q already registered", cfg.ID)
	}

	job, err := s.host.NewJob(def,
		gocron.NewTask(func() { s.run(cfg.ID) }),
		gocron.WithName(cfg.Name),
		gocron.WithTags(cfg.ID))
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", cfg.ID, err)
	}

	s.jobs[cfg.ID] = &registration{cfg: cfg, job: job}
	s.logger.Info().Str("id", cfg.ID).Dur("interval", cfg.Interval).
		Str("cron", cfg.Cron).Bool("runOnStart", cfg.RunOnStart).Msg("task registered")
	return nil
}

// run executes one job body. Errors are contained here so a failing job
// never takes the scheduler down.
func (s *Scheduler) run(id string) {
	s.mu.Lock()
	reg, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	reg.running = true
	s.mu.Unlock()

	started := time.Now()
	err := reg.cfg.Func(context.Background())

	s.mu.Lock()
	reg.running = false
	reg.lastRun = &started
	s.mu.Unlock()

	elapsed := time.Since(started)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Dur("elapsed", elapsed).Msg("task failed")
		return
	}
	s.logger.Debug().Str("id", id).Dur("elapsed", elapsed).Msg("task completed")
}

// Start begins the schedule and fires RunOnStart jobs once.
func (s *Scheduler) Start() error {
	s.host.Start()

	s.mu.RLock()
	var immediate []string
	for id, reg := range s.jobs {
		if reg.cfg.RunOnStart {
			immediate = append(immediate, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range immediate {
		go s.run(id)
	}
	s.logger.Info().Int("tasks", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop shuts the scheduler down, waiting for in-flight jobs.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("scheduler stopping")
	return s.host.Shutdown()
}

// RunNow triggers a job out of schedule.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	reg, ok := s.jobs[id]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	if reg.running {
		return fmt.Errorf("task %q is already running", id)
	}
	go s.run(id)
	return nil
}

// ListTasks reports every registered job.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskInfo, 0, len(s.jobs))
	for _, reg := range s.jobs {
		info := TaskInfo{
			ID:          reg.cfg.ID,
			Name:        reg.cfg.Name,
			Description: reg.cfg.Description,
			Cron:        reg.cfg.Cron,
			LastRun:     reg.lastRun,
			Running:     reg.running,
		}
		if reg.cfg.Interval > 0 {
			info.Interval = reg.cfg.Interval.String()
		}
		if next, err := reg.job.NextRun(); err == nil {
			info.NextRun = &next
		}
		out = append(out, info)
	}
	return out
}
