// Package schedule persists time-based tasks that survive restarts.
package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TaskType names the work a scheduled task triggers when due.
type TaskType string

const (
	TaskEpisodeRelease TaskType = "episode_release"
	TaskMovieRelease   TaskType = "movie_release"
	TaskReindexShow    TaskType = "reindex_show"
	TaskReindexMovie   TaskType = "reindex_movie"
	TaskReindex        TaskType = "reindex"
)

// IsReindex reports whether the task type re-runs the indexer.
func (t TaskType) IsReindex() bool {
	switch t {
	case TaskReindexShow, TaskReindexMovie, TaskReindex:
		return true
	}
	return false
}

// Status is the lifecycle status of a scheduled task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one persisted schedule row.
type Task struct {
	ID            int64
	ItemID        int64
	Type          TaskType
	ScheduledFor  time.Time // naive local time
	Status        Status
	CreatedAt     time.Time
	ExecutedAt    *time.Time
	OffsetSeconds *int
	Reason        string
}

// timeLayout stores scheduled_for as a naive local timestamp so lexical
// comparison in SQL matches wall-clock ordering.
const timeLayout = "2006-01-02 15:04:05"

// Store provides scheduled task persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a schedule store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "schedule-store").Logger(),
	}
}

// Schedule inserts a pending task. Returns false without error when the time
// is not in the future or when an identical (item, type, time) row exists.
func (s *Store) Schedule(ctx context.Context, itemID int64, taskType TaskType, when time.Time, offsetSeconds *int, reason string) (bool, error) {
	now := time.Now()
	if !when.After(now) {
		s.logger.Debug().
			Int64("itemId", itemID).
			Str("taskType", string(taskType)).
			Time("when", when).
			Msg("rejecting schedule in the past")
		return false, nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (item_id, task_type, scheduled_for, status, created_at, offset_seconds, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		itemID, taskType, when.Format(timeLayout), StatusPending,
		now.Format(timeLayout), offsetSeconds, nullable(reason))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			s.logger.Debug().
				Int64("itemId", itemID).
				Str("taskType", string(taskType)).
				Msg("duplicate scheduled task ignored")
			return false, nil
		}
		return false, fmt.Errorf("failed to insert scheduled task: %w", err)
	}
	return true, nil
}

// DueTasks returns pending tasks whose scheduled time has passed, oldest
// first.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, task_type, scheduled_for, status, created_at, executed_at, offset_seconds, COALESCE(reason, '')
		FROM scheduled_tasks
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC`,
		StatusPending, now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// HasFutureTask reports whether a pending task of the given type is already
// scheduled after now for the item. The monitor uses this to avoid
// duplicate scheduling.
func (s *Store) HasFutureTask(ctx context.Context, itemID int64, taskType TaskType, now time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM scheduled_tasks
		WHERE item_id = ? AND task_type = ? AND status = ? AND scheduled_for > ?`,
		itemID, taskType, StatusPending, now.Format(timeLayout)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check future tasks: %w", err)
	}
	return count > 0, nil
}

// Mark atomically updates a task's status and execution time.
func (s *Store) Mark(ctx context.Context, taskID int64, status Status, executedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET status = ?, executed_at = ? WHERE id = ?`,
		status, executedAt.Format(timeLayout), taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CancelForItem cancels all pending tasks for an item, used when an item is
// removed or paused.
func (s *Store) CancelForItem(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET status = ? WHERE item_id = ? AND status = ?`,
		StatusCancelled, itemID, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel tasks: %w", err)
	}
	return nil
}

// Pending lists all pending tasks, soonest first, for the admin surface.
func (s *Store) Pending(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, task_type, scheduled_for, status, created_at, executed_at, offset_seconds, COALESCE(reason, '')
		FROM scheduled_tasks
		WHERE status = ?
		ORDER BY scheduled_for ASC`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(rows *sql.Rows) (*Task, error) {
	var task Task
	var scheduledFor, createdAt time.Time
	var executedAt sql.NullTime
	var offset sql.NullInt64

	// The driver converts TIMESTAMP columns to time.Time on scan. The text
	// carries no zone, so the parsed value is labelled UTC; reattach local.
	if err := rows.Scan(&task.ID, &task.ItemID, &task.Type, &scheduledFor,
		&task.Status, &createdAt, &executedAt, &offset, &task.Reason); err != nil {
		return nil, err
	}

	task.ScheduledFor = localWall(scheduledFor)
	task.CreatedAt = localWall(createdAt)
	if executedAt.Valid {
		t := localWall(executedAt.Time)
		task.ExecutedAt = &t
	}
	if offset.Valid {
		o := int(offset.Int64)
		task.OffsetSeconds = &o
	}
	return &task, nil
}

// localWall keeps the stored wall-clock fields and moves the zone to local.
func localWall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
