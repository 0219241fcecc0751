package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/schedule"
	"github.com/harborr/harborr/internal/testutil"
)

type fakeReindexer struct {
	calls []int64
}

func (f *fakeReindexer) ReindexItem(_ context.Context, itemID int64) error {
	f.calls = append(f.calls, itemID)
	return nil
}

type jobsFixture struct {
	jobs    *Jobs
	store   *media.Store
	tasks   *schedule.Store
	manager *events.Manager
	reindex *fakeReindexer
	conn    *sql.DB
	cleanup func()
}

func newJobsFixture(t *testing.T) *jobsFixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	store := media.NewStore(tdb.Conn, tdb.Logger)
	tasks := schedule.NewStore(tdb.Conn, tdb.Logger)
	manager := events.NewManager(store, tdb.Logger, nil, false)
	reindex := &fakeReindexer{}
	cfg := config.SchedulerConfig{RetryIntervalMinutes: 60, ReleaseOffsetSeconds: 600}
	jobs := NewJobs(store, tasks, manager, reindex, nil, cfg, nil, tdb.Logger)
	return &jobsFixture{
		jobs: jobs, store: store, tasks: tasks,
		manager: manager, reindex: reindex, conn: tdb.Conn, cleanup: tdb.Close,
	}
}

// insertPendingTask bypasses Schedule's future-only check so tests can plant
// tasks that are already due.
func insertPendingTask(t *testing.T, conn *sql.DB, itemID int64, taskType schedule.TaskType, when time.Time) {
	t.Helper()
	const layout = "2006-01-02 15:04:05"
	_, err := conn.ExecContext(context.Background(), `
		INSERT INTO scheduled_tasks (item_id, task_type, scheduled_for, status, created_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		itemID, taskType, when.Format(layout), time.Now().Format(layout))
	if err != nil {
		t.Fatalf("failed to insert pending task: %v", err)
	}
}

func findTask(tasks []*schedule.Task, itemID int64, typ schedule.TaskType) *schedule.Task {
	for _, task := range tasks {
		if task.ItemID == itemID && task.Type == typ {
			return task
		}
	}
	return nil
}

func TestProcessDueTasks(t *testing.T) {
	f := newJobsFixture(t)
	defer f.cleanup()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	movie := &media.Item{Type: media.TypeMovie, Title: "Released", AiredAt: &past}
	if err := f.store.Create(ctx, movie); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	show := &media.Item{Type: media.TypeShow, Title: "Tracked", AiredAt: &past}
	if err := f.store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	insertPendingTask(t, f.conn, movie.ID, schedule.TaskMovieRelease, past)
	insertPendingTask(t, f.conn, show.ID, schedule.TaskReindexShow, past)

	// A future task must survive the sweep untouched.
	future := time.Now().Add(2 * time.Hour)
	if ok, err := f.tasks.Schedule(ctx, movie.ID, schedule.TaskReindexMovie, future, nil, ""); err != nil || !ok {
		t.Fatalf("Schedule() = %v, %v, want true", ok, err)
	}

	if err := f.jobs.ProcessDueTasks(ctx); err != nil {
		t.Fatalf("ProcessDueTasks() error = %v", err)
	}

	if len(f.reindex.calls) != 1 || f.reindex.calls[0] != show.ID {
		t.Errorf("reindex calls = %v, want [%d]", f.reindex.calls, show.ID)
	}

	// The non-completed movie is pushed back into the pipeline.
	queued := f.manager.QueueSnapshot()
	found := false
	for _, e := range queued {
		if e.ItemID == movie.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("queue = %v, want an event for item %d", queued, movie.ID)
	}

	pending, err := f.tasks.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Type != schedule.TaskReindexMovie {
		t.Errorf("pending after sweep = %v, want only the future reindex task", pending)
	}
}

func TestProcessDueTasks_MissingItemFails(t *testing.T) {
	f := newJobsFixture(t)
	defer f.cleanup()
	ctx := context.Background()

	insertPendingTask(t, f.conn, 999, schedule.TaskMovieRelease, time.Now().Add(-time.Minute))

	if err := f.jobs.ProcessDueTasks(ctx); err != nil {
		t.Fatalf("ProcessDueTasks() error = %v", err)
	}

	if len(f.reindex.calls) != 0 {
		t.Errorf("reindex calls = %v, want none", f.reindex.calls)
	}
	if queued := f.manager.QueueSnapshot(); len(queued) != 0 {
		t.Errorf("queue = %v, want empty", queued)
	}
	pending, err := f.tasks.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %v, want the orphan task marked failed", pending)
	}
}

func TestMonitorReleases_SchedulesUpcoming(t *testing.T) {
	f := newJobsFixture(t)
	defer f.cleanup()
	ctx := context.Background()

	past := time.Now().Add(-30 * 24 * time.Hour)
	movieAir := time.Now().Add(48 * time.Hour)
	episodeAir := time.Now().Add(72 * time.Hour)

	movie := &media.Item{Type: media.TypeMovie, Title: "Upcoming Movie", AiredAt: &movieAir}
	if err := f.store.Create(ctx, movie); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	show := &media.Item{
		Type: media.TypeShow, Title: "Airing Show", AiredAt: &past,
		Children: []*media.Item{
			{Type: media.TypeSeason, Number: 1, AiredAt: &past, Children: []*media.Item{
				{Type: media.TypeEpisode, Number: 1, AiredAt: &episodeAir},
			}},
		},
	}
	if err := f.store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	episodeID := show.Children[0].Children[0].ID

	if err := f.jobs.MonitorReleases(ctx); err != nil {
		t.Fatalf("MonitorReleases() error = %v", err)
	}

	pending, err := f.tasks.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}

	offset := 10 * time.Minute
	movieTask := findTask(pending, movie.ID, schedule.TaskMovieRelease)
	if movieTask == nil {
		t.Fatalf("pending = %v, want a movie release task for %d", pending, movie.ID)
	}
	if want := movieAir.Add(offset).Truncate(time.Second); !movieTask.ScheduledFor.Equal(want) {
		t.Errorf("movie release at %v, want air date plus offset %v", movieTask.ScheduledFor, want)
	}
	if movieTask.OffsetSeconds == nil || *movieTask.OffsetSeconds != 600 {
		t.Errorf("movie task offset = %v, want 600", movieTask.OffsetSeconds)
	}

	episodeTask := findTask(pending, episodeID, schedule.TaskEpisodeRelease)
	if episodeTask == nil {
		t.Fatalf("pending = %v, want an episode release task for %d", pending, episodeID)
	}
	if want := episodeAir.Add(offset).Truncate(time.Second); !episodeTask.ScheduledFor.Equal(want) {
		t.Errorf("episode release at %v, want air date plus offset %v", episodeTask.ScheduledFor, want)
	}

	// A second pass schedules nothing new.
	if err := f.jobs.MonitorReleases(ctx); err != nil {
		t.Fatalf("MonitorReleases() second pass error = %v", err)
	}
	again, err := f.tasks.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(again) != len(pending) {
		t.Errorf("pending after second pass = %d tasks, want %d", len(again), len(pending))
	}
}

func TestMonitorReleases_ReindexFallbacks(t *testing.T) {
	f := newJobsFixture(t)
	defer f.cleanup()
	ctx := context.Background()

	future := time.Now().Add(60 * 24 * time.Hour)
	show := &media.Item{Type: media.TypeShow, Title: "Announced", AiredAt: &future}
	if err := f.store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := f.store.UpdateState(ctx, show.ID, media.StateUnreleased); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	airless := &media.Item{Type: media.TypeMovie, Title: "No Date Yet"}
	if err := f.store.Create(ctx, airless); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := f.jobs.MonitorReleases(ctx); err != nil {
		t.Fatalf("MonitorReleases() error = %v", err)
	}

	pending, err := f.tasks.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}

	showTask := findTask(pending, show.ID, schedule.TaskReindexShow)
	if showTask == nil {
		t.Fatalf("pending = %v, want a show reindex task for %d", pending, show.ID)
	}
	// No air hints resolve, so the daily fallback applies.
	if !showTask.ScheduledFor.After(time.Now().Add(23 * time.Hour)) {
		t.Errorf("show reindex at %v, want roughly a day out", showTask.ScheduledFor)
	}

	movieTask := findTask(pending, airless.ID, schedule.TaskReindexMovie)
	if movieTask == nil {
		t.Fatalf("pending = %v, want a movie reindex task for %d", pending, airless.ID)
	}
	if !movieTask.ScheduledFor.After(time.Now().Add(23 * time.Hour)) {
		t.Errorf("movie reindex at %v, want roughly a day out", movieTask.ScheduledFor)
	}
}
