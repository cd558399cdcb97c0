package controller

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/tasksched/controller/internal/db"
)

func TestClassifyExitStatus(t *testing.T) {
	require.Equal(t, db.TaskTLE, classifyExitStatus(corev1.PodFailed, exitCodeTLE))
	require.Equal(t, db.TaskMLE, classifyExitStatus(corev1.PodFailed, exitCodeMLE))
	require.Equal(t, db.TaskSucceeded, classifyExitStatus(corev1.PodSucceeded, 0))
	require.Equal(t, db.TaskFailed, classifyExitStatus(corev1.PodFailed, 1))
	require.Equal(t, db.TaskFailed, classifyExitStatus(corev1.PodSucceeded, 2))
}

func TestTerminalExitCode(t *testing.T) {
	pod := &corev1.Pod{
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{
				{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 137}}},
			},
		},
	}
	require.Equal(t, 137, terminalExitCode(pod))

	noTermination := &corev1.Pod{}
	require.Equal(t, 0, terminalExitCode(noTermination))
}

func TestTransitionTask_NoOpWhenStatusUnchanged(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "tpl-1", Status: db.TaskRunning}

	changed := e.transitionTask(context.Background(), task, db.TaskRunning)

	require.False(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLimitMessage(t *testing.T) {
	require.True(t, strings.Contains(appendLimitMessage("boot log", db.TaskTLE), "Time limit exceeded when executing job."))
	require.True(t, strings.Contains(appendLimitMessage("boot log", db.TaskMLE), "Memory limit exceeded when executing job."))
	require.Equal(t, "boot log", appendLimitMessage("boot log", db.TaskFailed))
	require.Equal(t, "boot log", appendLimitMessage("boot log", db.TaskSucceeded))
}

func TestFinalizeTask_AppendsTLEMessage(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "tpl-1", Status: db.TaskRunning}
	pod := &corev1.Pod{
		Status: corev1.PodStatus{
			Phase: corev1.PodFailed,
			ContainerStatuses: []corev1.ContainerStatus{
				{State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: exitCodeTLE}}},
			},
		},
	}

	mock.ExpectExec(`UPDATE tasks SET status`).
		WithArgs(db.TaskTLE, sqlmock.AnyArg(), exitCodeTLE, "task-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	changed := e.finalizeTask(context.Background(), task, pod)

	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTask_WritesOnChange(t *testing.T) {
	e, mock := newTestExecutor(t)
	task := &db.Task{UUID: "task-1", TemplateRef: "tpl-1", Status: db.TaskPending}

	mock.ExpectExec(`UPDATE tasks SET status`).
		WithArgs(db.TaskRunning, "task-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	changed := e.transitionTask(context.Background(), task, db.TaskRunning)

	require.True(t, changed)
	require.NoError(t, mock.ExpectationsWereMet())
}
