package controller

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
)

// watchIdleSleep governs how often the watcher polls active/deleting tasks
// when the last pass made no progress.
const watchIdleSleep = 1 * time.Second

// Exit codes the watcher classifies specially, per spec §4.5.
const (
	exitCodeTLE = 124 // timeout(1)'s TERM-killed exit code
	exitCodeMLE = 137 // 128 + SIGKILL, the OOM killer's signature
)

// RunWatcher polls WAITING/PENDING/RUNNING and DELETING tasks, advancing
// each through the state machine described in spec §4.5, until ctx is
// cancelled.
func (e *Executor) RunWatcher(ctx context.Context) {
	log := logger.Watch()
	log.Info().Msg("watcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watcher stopped")
			return
		default:
		}

		progressed := e.watchActiveTasks(ctx)
		progressed += e.watchDeletingTasks(ctx)

		if progressed == 0 {
			e.sleepOrDone(ctx, watchIdleSleep)
		}
	}
}

func (e *Executor) watchActiveTasks(ctx context.Context) int {
	log := logger.Watch()
	tasks, err := e.Tasks.ListActiveTasks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active tasks")
		return 0
	}

	progressed := 0
	for _, task := range tasks {
		if e.watchTask(ctx, task) {
			progressed++
		}
	}
	return progressed
}

// watchTask advances a single WAITING/PENDING/RUNNING task by one step.
// Returns true iff the task's persisted status changed this pass — per spec
// §4.5, status is only written when it actually changes.
func (e *Executor) watchTask(ctx context.Context, task *db.Task) bool {
	log := logger.Watch().With().Str("task", task.UUID).Logger()

	pods, err := e.Orchestrator.ListJobPods(ctx, task.UUID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to list job pods")
		return false
	}
	if len(pods) == 0 {
		return false
	}
	pod := pods[0]

	switch pod.Status.Phase {
	case corev1.PodPending:
		return e.transitionTask(ctx, task, db.TaskPending)
	case corev1.PodRunning:
		return e.transitionTask(ctx, task, db.TaskRunning)
	case corev1.PodSucceeded, corev1.PodFailed:
		return e.finalizeTask(ctx, task, &pod)
	default:
		return false
	}
}

func (e *Executor) transitionTask(ctx context.Context, task *db.Task, status string) bool {
	if task.Status == status {
		return false
	}
	log := logger.Watch().With().Str("task", task.UUID).Logger()
	if err := e.Tasks.UpdateTaskStatus(ctx, task.UUID, status); err != nil {
		log.Warn().Err(err).Str("status", status).Msg("failed to persist task status")
		return false
	}
	e.publishTaskStatus(task.UUID, task.TemplateRef, status)
	metrics.RecordTaskStatus(status)
	return true
}

// finalizeTask harvests logs and exit code from a terminated pod, classifies
// the terminal status, persists it, and tears down the Job.
func (e *Executor) finalizeTask(ctx context.Context, task *db.Task, pod *corev1.Pod) bool {
	log := logger.Watch().With().Str("task", task.UUID).Logger()

	exitCode := terminalExitCode(pod)
	status := classifyExitStatus(pod.Status.Phase, exitCode)

	logs, err := e.Orchestrator.GetPodLog(ctx, pod.Name)
	if err != nil {
		log.Warn().Err(err).Msg("failed to harvest pod logs")
	}

	logs = appendLimitMessage(logs, status)

	if err := e.Tasks.CompleteTask(ctx, task.UUID, status, logs, exitCode); err != nil {
		log.Error().Err(err).Msg("failed to persist terminal task status")
		return false
	}
	e.publishTaskStatus(task.UUID, task.TemplateRef, status)
	metrics.RecordTaskStatus(status)

	if err := e.Orchestrator.DeleteJob(ctx, task.UUID); err != nil {
		log.Warn().Err(err).Msg("failed to delete job after completion")
	}
	return true
}

// appendLimitMessage appends the spec-mandated human-readable explanation for
// TLE/MLE outcomes to the harvested logs, per §8. Other statuses pass through
// unchanged.
func appendLimitMessage(logs, status string) string {
	switch status {
	case db.TaskTLE:
		return logs + "\nTime limit exceeded when executing job."
	case db.TaskMLE:
		return logs + "\nMemory limit exceeded when executing job."
	}
	return logs
}

// terminalExitCode reads the single container's exit code, defaulting to 0
// when it cannot be determined (e.g. the pod was evicted rather than run).
func terminalExitCode(pod *corev1.Pod) int {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode)
		}
	}
	return 0
}

// classifyExitStatus maps a terminated pod's phase and exit code onto the
// task status vocabulary, per spec §4.5: 124 signals timeout(1)'s TERM kill
// (TLE), 137 signals SIGKILL from the OOM killer (MLE), anything else
// non-zero is a generic FAILED, and zero with Succeeded is SUCCEEDED.
func classifyExitStatus(phase corev1.PodPhase, exitCode int) string {
	switch exitCode {
	case exitCodeTLE:
		return db.TaskTLE
	case exitCodeMLE:
		return db.TaskMLE
	}
	if phase == corev1.PodSucceeded && exitCode == 0 {
		return db.TaskSucceeded
	}
	return db.TaskFailed
}

func (e *Executor) watchDeletingTasks(ctx context.Context) int {
	log := logger.Watch()
	tasks, err := e.Tasks.ListDeletingTasks(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list deleting tasks")
		return 0
	}

	progressed := 0
	for _, task := range tasks {
		if err := e.Orchestrator.DeleteJob(ctx, task.UUID); err != nil {
			log.Warn().Err(err).Str("task", task.UUID).Msg("failed to delete job for deleting task")
			continue
		}
		if err := e.Tasks.DeleteTask(ctx, task.UUID); err != nil {
			log.Warn().Err(err).Str("task", task.UUID).Msg("failed to delete task row")
			continue
		}
		progressed++
	}
	return progressed
}
