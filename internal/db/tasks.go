package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task status values, forming the state machine described in spec §4.5.
const (
	TaskScheduled = "SCHEDULED"
	TaskWaiting   = "WAITING"
	TaskPending   = "PENDING"
	TaskRunning   = "RUNNING"
	TaskSucceeded = "SUCCEEDED"
	TaskFailed    = "FAILED"
	TaskTLE       = "TLE"
	TaskMLE       = "MLE"
	TaskDeleting  = "DELETING"
)

// terminalTaskStatuses are sticky: the watcher never queries them again.
var terminalTaskStatuses = map[string]bool{
	TaskSucceeded: true,
	TaskFailed:    true,
	TaskTLE:       true,
	TaskMLE:       true,
}

// IsTerminalTaskStatus reports whether status is a terminal, sticky state.
func IsTerminalTaskStatus(status string) bool {
	return terminalTaskStatuses[status]
}

// Task mirrors the Task entity of spec §3.
type Task struct {
	UUID        string
	TemplateRef string
	UserRef     string
	Status      string
	CreateTime  time.Time
	Logs        string
	LogsGet     bool
	ExitCode    sql.NullInt64
}

// TaskDB handles database operations for tasks.
type TaskDB struct {
	db *sql.DB
}

// NewTaskDB creates a new TaskDB instance.
func NewTaskDB(sqlDB *sql.DB) *TaskDB {
	return &TaskDB{db: sqlDB}
}

// CreateTask inserts a new task in SCHEDULED state.
func (t *TaskDB) CreateTask(ctx context.Context, templateRef, userRef string) (*Task, error) {
	task := &Task{
		UUID:        uuid.New().String(),
		TemplateRef: templateRef,
		UserRef:     userRef,
		Status:      TaskScheduled,
		CreateTime:  time.Now(),
	}

	query := `
		INSERT INTO tasks (uuid, template_ref, user_ref, status, create_time, logs, logs_get)
		VALUES ($1, $2, $3, $4, $5, '', false)
	`
	_, err := t.db.ExecContext(ctx, query, task.UUID, task.TemplateRef, task.UserRef, task.Status, task.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create task for template %s user %s: %w", templateRef, userRef, err)
	}
	return task, nil
}

// GetTask retrieves a task by uuid.
func (t *TaskDB) GetTask(ctx context.Context, taskUUID string) (*Task, error) {
	task := &Task{}
	query := `
		SELECT uuid, template_ref, user_ref, status, create_time, logs, logs_get, exit_code
		FROM tasks WHERE uuid = $1
	`
	err := t.db.QueryRowContext(ctx, query, taskUUID).Scan(
		&task.UUID, &task.TemplateRef, &task.UserRef, &task.Status, &task.CreateTime, &task.Logs, &task.LogsGet, &task.ExitCode,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %s: %w", taskUUID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskUUID, err)
	}
	return task, nil
}

// ListScheduledTasks returns SCHEDULED tasks ordered by create_time ascending,
// for the Job Dispatcher to drain.
func (t *TaskDB) ListScheduledTasks(ctx context.Context) ([]*Task, error) {
	return t.listTasksByStatus(ctx, []string{TaskScheduled})
}

// ListActiveTasks returns tasks in {WAITING, PENDING, RUNNING} ordered by
// create_time ascending, for the Job Watcher to poll.
func (t *TaskDB) ListActiveTasks(ctx context.Context) ([]*Task, error) {
	return t.listTasksByStatus(ctx, []string{TaskWaiting, TaskPending, TaskRunning})
}

// ListDeletingTasks returns tasks in DELETING state.
func (t *TaskDB) ListDeletingTasks(ctx context.Context) ([]*Task, error) {
	return t.listTasksByStatus(ctx, []string{TaskDeleting})
}

func (t *TaskDB) listTasksByStatus(ctx context.Context, statuses []string) ([]*Task, error) {
	query := `
		SELECT uuid, template_ref, user_ref, status, create_time, logs, logs_get, exit_code
		FROM tasks WHERE status = ANY($1)
		ORDER BY create_time ASC
	`
	rows, err := t.db.QueryContext(ctx, query, pqStringArray(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks with status %v: %w", statuses, err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task := &Task{}
		if err := rows.Scan(&task.UUID, &task.TemplateRef, &task.UserRef, &task.Status, &task.CreateTime, &task.Logs, &task.LogsGet, &task.ExitCode); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus transitions a task's status, optionally appending to logs
// and recording an exit code. Only called when the new status differs from
// the current one (callers check before calling, per spec §4.5).
func (t *TaskDB) UpdateTaskStatus(ctx context.Context, taskUUID, status string) error {
	query := `UPDATE tasks SET status = $1 WHERE uuid = $2`
	_, err := t.db.ExecContext(ctx, query, status, taskUUID)
	if err != nil {
		return fmt.Errorf("failed to update task %s to status %s: %w", taskUUID, status, err)
	}
	return nil
}

// FailTask transitions a task to FAILED with a human-readable message.
func (t *TaskDB) FailTask(ctx context.Context, taskUUID, message string) error {
	query := `UPDATE tasks SET status = $1, logs = $2, logs_get = true WHERE uuid = $3`
	_, err := t.db.ExecContext(ctx, query, TaskFailed, message, taskUUID)
	if err != nil {
		return fmt.Errorf("failed to fail task %s: %w", taskUUID, err)
	}
	return nil
}

// CompleteTask records a terminal status along with harvested logs and exit code.
func (t *TaskDB) CompleteTask(ctx context.Context, taskUUID, status, logs string, exitCode int) error {
	query := `UPDATE tasks SET status = $1, logs = $2, logs_get = true, exit_code = $3 WHERE uuid = $4`
	_, err := t.db.ExecContext(ctx, query, status, logs, exitCode, taskUUID)
	if err != nil {
		return fmt.Errorf("failed to complete task %s with status %s: %w", taskUUID, status, err)
	}
	return nil
}

// DeleteTask removes a task row entirely, used once a DELETING task's Job
// has been torn down.
func (t *TaskDB) DeleteTask(ctx context.Context, taskUUID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM tasks WHERE uuid = $1`, taskUUID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskUUID, err)
	}
	return nil
}

// MarkDeleting transitions a task (from any state) to DELETING, per an
// external deletion request.
func (t *TaskDB) MarkDeleting(ctx context.Context, taskUUID string) error {
	query := `UPDATE tasks SET status = $1 WHERE uuid = $2`
	_, err := t.db.ExecContext(ctx, query, TaskDeleting, taskUUID)
	if err != nil {
		return fmt.Errorf("failed to mark task %s deleting: %w", taskUUID, err)
	}
	return nil
}
