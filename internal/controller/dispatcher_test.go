package controller

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tasksched/controller/internal/db"
)

var errDispatchDBDown = errors.New("db down")

func TestBuildTaskScript_OverlaysUserspaceThenTemplate(t *testing.T) {
	cfg := db.ContainerConfig{
		Shell:          "/bin/bash",
		Commands:       []string{"./build.sh", "./run.sh"},
		WorkingPath:    "/work",
		TaskScriptPath: "/tpl/task",
	}

	script := buildTaskScript(cfg, 90)

	require.Contains(t, script, "mkdir -p /work")
	require.Contains(t, script, "timeout --signal TERM 90 /bin/bash")
	require.Contains(t, script, "./build.sh && ./run.sh")
	require.True(t, strings.Index(script, "/cloud_scheduler_userspace") < strings.Index(script, "/tpl/task"))
}

func TestDispatchTask_TemplateMissing_FailsTask(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "missing-tpl", UserRef: "user-1", Status: db.TaskScheduled}

	mock.ExpectQuery(`SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit`).
		WithArgs("missing-tpl").
		WillReturnError(errDispatchDBDown)
	mock.ExpectExec(`UPDATE tasks SET status = \$1, logs = \$2, logs_get = true WHERE uuid = \$3`).
		WithArgs(db.TaskFailed, sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	e.dispatchTask(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchTask_InvalidContainerConfig_FailsTask(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "tpl-1", UserRef: "user-1", Status: db.TaskScheduled}

	rows := sqlmock.NewRows([]string{"container_config", "replica", "max_sharing_users", "ttl_interval", "time_limit"}).
		AddRow(`{"image": ""}`, 1, 2, 60, 120)
	mock.ExpectQuery(`SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit`).
		WithArgs("tpl-1").
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE tasks SET status = \$1, logs = \$2, logs_get = true WHERE uuid = \$3`).
		WithArgs(db.TaskFailed, sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	e.dispatchTask(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchTask_UnknownUser_FailsTask(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "tpl-1", UserRef: "ghost", Status: db.TaskScheduled}

	rows := sqlmock.NewRows([]string{"container_config", "replica", "max_sharing_users", "ttl_interval", "time_limit"}).
		AddRow(testContainerConfigJSON, 1, 2, 60, 120)
	mock.ExpectQuery(`SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit`).
		WithArgs("tpl-1").
		WillReturnRows(rows)
	mock.ExpectExec(`UPDATE tasks SET status = \$1, logs = \$2, logs_get = true WHERE uuid = \$3`).
		WithArgs(db.TaskFailed, sqlmock.AnyArg(), "task-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	e.dispatchTask(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}
