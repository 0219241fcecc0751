package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/metrics"
	"github.com/harborr/harborr/internal/schedule"
)

// ContentSource is a content provider polled by the scheduler. Webhook-only
// sources run once at startup instead of on an interval.
type ContentSource interface {
	Key() string
	Interval() time.Duration
	WebhookOnly() bool
	Fetch(ctx context.Context) ([]*media.Item, error)
}

// Reindexer re-runs the metadata indexer for one item synchronously, in its
// own transaction.
type Reindexer interface {
	ReindexItem(ctx context.Context, itemID int64) error
}

// Jobs wires the periodic work onto the scheduler.
type Jobs struct {
	store   *media.Store
	tasks   *schedule.Store
	manager *events.Manager
	reindex Reindexer
	sources []ContentSource
	cfg     config.SchedulerConfig
	m       *metrics.Metrics
	logger  zerolog.Logger
}

// NewJobs creates the job set.
func NewJobs(store *media.Store, tasks *schedule.Store, manager *events.Manager,
	reindex Reindexer, sources []ContentSource, cfg config.SchedulerConfig,
	mtr *metrics.Metrics, logger zerolog.Logger) *Jobs {
	return &Jobs{
		store:   store,
		tasks:   tasks,
		manager: manager,
		reindex: reindex,
		sources: sources,
		cfg:     cfg,
		m:       mtr,
		logger:  logger.With().Str("component", "scheduler-jobs").Logger(),
	}
}

// Register adds every periodic job to the scheduler.
func (j *Jobs) Register(s *Scheduler) error {
	if err := s.RegisterTask(TaskConfig{
		ID:          "due-tasks",
		Name:        "Due task processor",
		Description: "Executes scheduled tasks whose time has come",
		Interval:    time.Minute,
		Func:        j.ProcessDueTasks,
		RunOnStart:  true,
	}); err != nil {
		return err
	}

	if err := s.RegisterTask(TaskConfig{
		ID:          "release-monitor",
		Name:        "Release monitor",
		Description: "Schedules release and reindex tasks for upcoming media",
		Interval:    15 * time.Minute,
		Func:        j.MonitorReleases,
		RunOnStart:  true,
	}); err != nil {
		return err
	}

	if j.cfg.RetryIntervalMinutes > 0 {
		if err := s.RegisterTask(TaskConfig{
			ID:          "retry-library",
			Name:        "Library retry sweep",
			Description: "Re-enqueues items that have not completed",
			Interval:    time.Duration(j.cfg.RetryIntervalMinutes) * time.Minute,
			Func:        j.RetryLibrary,
		}); err != nil {
			return err
		}
	}

	for _, src := range j.sources {
		src := src
		cfg := TaskConfig{
			ID:          "content-" + src.Key(),
			Name:        fmt.Sprintf("Content poll (%s)", src.Key()),
			Description: "Polls the provider for new requests",
			Func: func(ctx context.Context) error {
				return j.pollSource(ctx, src)
			},
		}
		if src.WebhookOnly() {
			// One pass at startup; webhooks carry the rest.
			cfg.Interval = 24 * time.Hour
			cfg.RunOnStart = true
		} else {
			cfg.Interval = src.Interval()
			cfg.RunOnStart = true
		}
		if err := s.RegisterTask(cfg); err != nil {
			return err
		}
	}

	return nil
}

// pollSource fetches provider submissions and enqueues them as content
// events; the manager's dedupe drops the ones already in flight.
func (j *Jobs) pollSource(ctx context.Context, src ContentSource) error {
	items, err := src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("provider %s fetch failed: %w", src.Key(), err)
	}

	accepted := 0
	for _, item := range items {
		ok, err := j.manager.AddEvent(ctx, events.NewContentEvent(item, events.Service(src.Key())))
		if err != nil {
			j.logger.Warn().Err(err).Str("provider", src.Key()).Msg("failed to enqueue submission")
			continue
		}
		if ok {
			accepted++
		}
	}
	j.logger.Debug().
		Str("provider", src.Key()).
		Int("fetched", len(items)).
		Int("accepted", accepted).
		Msg("content poll finished")
	return nil
}

// RetryLibrary enqueues every non-completed movie and show.
func (j *Jobs) RetryLibrary(ctx context.Context) error {
	ids, err := j.store.RetryLibrary(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		if _, err := j.manager.AddEvent(ctx, events.NewItemEvent(id, events.ServiceScheduler, now, "")); err != nil {
			j.logger.Warn().Err(err).Int64("itemId", id).Msg("retry enqueue failed")
		}
	}
	j.logger.Info().Int("items", len(ids)).Msg("library retry sweep finished")
	return nil
}

// ProcessDueTasks executes every pending task whose time has passed. Each
// task is contained: one failure never aborts the rest.
func (j *Jobs) ProcessDueTasks(ctx context.Context) error {
	now := time.Now()
	due, err := j.tasks.DueTasks(ctx, now)
	if err != nil {
		return err
	}

	for _, task := range due {
		j.processTask(ctx, task, now)
	}
	return nil
}

func (j *Jobs) processTask(ctx context.Context, task *schedule.Task, now time.Time) {
	outcome := "completed"
	defer func() {
		if j.m != nil {
			j.m.TasksProcessed.WithLabelValues(outcome).Inc()
		}
	}()

	item, err := j.store.GetByID(ctx, task.ItemID)
	if errors.Is(err, media.ErrNotFound) {
		j.logger.Debug().Int64("taskId", task.ID).Int64("itemId", task.ItemID).Msg("task target missing")
		j.markTask(ctx, task.ID, schedule.StatusFailed, now)
		outcome = "failed"
		return
	}
	if err != nil {
		j.logger.Warn().Err(err).Int64("taskId", task.ID).Msg("task target load failed")
		j.markTask(ctx, task.ID, schedule.StatusFailed, now)
		outcome = "failed"
		return
	}

	if task.Type.IsReindex() {
		if err := j.reindex.ReindexItem(ctx, item.ID); err != nil {
			j.logger.Warn().Err(err).Int64("itemId", item.ID).Msg("scheduled reindex failed")
			j.markTask(ctx, task.ID, schedule.StatusFailed, now)
			outcome = "failed"
			return
		}
		j.markTask(ctx, task.ID, schedule.StatusCompleted, now)
		return
	}

	state, err := j.store.RefreshState(ctx, item.ID)
	if err != nil {
		j.logger.Warn().Err(err).Int64("itemId", item.ID).Msg("state refresh failed")
		j.markTask(ctx, task.ID, schedule.StatusFailed, now)
		outcome = "failed"
		return
	}
	if state != media.StateCompleted {
		if _, err := j.manager.AddEvent(ctx, events.NewItemEvent(item.ID, events.ServiceScheduler, now, state)); err != nil {
			j.logger.Warn().Err(err).Int64("itemId", item.ID).Msg("task enqueue failed")
		}
	}
	j.markTask(ctx, task.ID, schedule.StatusCompleted, now)
}

func (j *Jobs) markTask(ctx context.Context, taskID int64, status schedule.Status, now time.Time) {
	if err := j.tasks.Mark(ctx, taskID, status, now); err != nil {
		j.logger.Warn().Err(err).Int64("taskId", taskID).Msg("failed to mark task")
	}
}

// MonitorReleases schedules release and reindex tasks for upcoming media.
func (j *Jobs) MonitorReleases(ctx context.Context) error {
	now := time.Now()
	offset := time.Duration(j.cfg.ReleaseOffsetSeconds) * time.Second
	offsetSeconds := j.cfg.ReleaseOffsetSeconds

	episodes, err := j.store.Upcoming(ctx, media.TypeEpisode, now)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		j.scheduleOnce(ctx, ep.ID, schedule.TaskEpisodeRelease, ep.AiredAt.Add(offset), &offsetSeconds, "upcoming episode", now)
	}

	movies, err := j.store.Upcoming(ctx, media.TypeMovie, now)
	if err != nil {
		return err
	}
	for _, mv := range movies {
		j.scheduleOnce(ctx, mv.ID, schedule.TaskMovieRelease, mv.AiredAt.Add(offset), &offsetSeconds, "upcoming movie", now)
	}

	shows, err := j.store.ShowsInStates(ctx, media.StateOngoing, media.StateUnreleased)
	if err != nil {
		return err
	}
	for _, show := range shows {
		when, ok := ComputeNextAirDatetime(show.ReleaseData, now)
		if !ok {
			when = dailyFallback(now)
		}
		j.scheduleOnce(ctx, show.ID, schedule.TaskReindexShow, when, nil, "next air", now)
	}

	airless, err := j.store.MoviesWithoutAirDate(ctx)
	if err != nil {
		return err
	}
	for _, mv := range airless {
		j.scheduleOnce(ctx, mv.ID, schedule.TaskReindexMovie, dailyFallback(now), nil, "missing air date", now)
	}

	return nil
}

// scheduleOnce schedules unless an equivalent future task already exists.
func (j *Jobs) scheduleOnce(ctx context.Context, itemID int64, taskType schedule.TaskType,
	when time.Time, offsetSeconds *int, reason string, now time.Time) {
	exists, err := j.tasks.HasFutureTask(ctx, itemID, taskType, now)
	if err != nil {
		j.logger.Warn().Err(err).Int64("itemId", itemID).Msg("future task check failed")
		return
	}
	if exists {
		return
	}
	if _, err := j.tasks.Schedule(ctx, itemID, taskType, when, offsetSeconds, reason); err != nil {
		j.logger.Warn().Err(err).Int64("itemId", itemID).Str("taskType", string(taskType)).Msg("scheduling failed")
	}
}

// dailyFallback is the next full hour plus one day, used when no air hints
// resolve.
func dailyFallback(now time.Time) time.Time {
	return now.Truncate(time.Hour).Add(time.Hour).AddDate(0, 0, 1)
}
