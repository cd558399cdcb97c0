package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
)

// dispatchIdleSleep governs how often the dispatcher checks for new
// SCHEDULED tasks when the last pass found none.
const dispatchIdleSleep = 1 * time.Second

// RunDispatcher drains SCHEDULED tasks in create_time order, dispatching one
// Kubernetes Job per task, until ctx is cancelled.
func (e *Executor) RunDispatcher(ctx context.Context) {
	log := logger.Dispatch()
	log.Info().Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopped")
			return
		default:
		}

		tasks, err := e.Tasks.ListScheduledTasks(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to list scheduled tasks")
			e.sleepOrDone(ctx, dispatchIdleSleep)
			continue
		}

		for _, task := range tasks {
			e.dispatchTask(ctx, task)
		}

		if len(tasks) == 0 {
			e.sleepOrDone(ctx, dispatchIdleSleep)
		}
	}
}

func (e *Executor) sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// dispatchTask bootstraps the namespace/PVCs and creates a Job for one
// SCHEDULED task, per spec §4.4. Config validation failures are terminal
// (FAILED); orchestrator errors leave the task SCHEDULED for a future pass.
func (e *Executor) dispatchTask(ctx context.Context, task *db.Task) {
	log := logger.Dispatch().With().Str("task", task.UUID).Str("template", task.TemplateRef).Logger()

	tpl, err := e.Templates.GetTemplate(ctx, task.TemplateRef)
	if err != nil {
		log.Warn().Err(err).Msg("template missing, failing task")
		_ = e.Tasks.FailTask(ctx, task.UUID, fmt.Sprintf("template %s not found", task.TemplateRef))
		e.publishTaskStatus(task.UUID, task.TemplateRef, db.TaskFailed)
		metrics.RecordJobDispatched("template_missing")
		return
	}

	if err := tpl.ContainerConfig.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid container config, failing task")
		_ = e.Tasks.FailTask(ctx, task.UUID, fmt.Sprintf("invalid container config: %v", err))
		e.publishTaskStatus(task.UUID, task.TemplateRef, db.TaskFailed)
		metrics.RecordJobDispatched("invalid_config")
		return
	}

	user, err := e.Users.GetUser(ctx, task.UserRef)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve user, failing task")
		_ = e.Tasks.FailTask(ctx, task.UUID, fmt.Sprintf("unknown user %s", task.UserRef))
		e.publishTaskStatus(task.UUID, task.TemplateRef, db.TaskFailed)
		metrics.RecordJobDispatched("unknown_user")
		return
	}

	if err := e.ensureBootstrap(ctx, tpl); err != nil {
		log.Warn().Err(err).Msg("bootstrap failed, leaving task scheduled")
		metrics.RecordJobDispatched("bootstrap_failed")
		return
	}

	if _, err := e.Orchestrator.GetUserspacePVC(ctx, e.Config.UserspaceName); err != nil {
		log.Warn().Err(err).Msg("userspace PVC not readable, failing task")
		_ = e.Tasks.FailTask(ctx, task.UUID, fmt.Sprintf("userspace volume unavailable: %v", err))
		e.publishTaskStatus(task.UUID, task.TemplateRef, db.TaskFailed)
		metrics.RecordJobDispatched("pvc_unreadable")
		return
	}

	username := fmt.Sprintf("%s_%s", user.Username, task.TemplateRef)
	userspaceSubPath := fmt.Sprintf("user_%d_task_%s", user.ID, task.TemplateRef)
	timeLimit := tpl.TimeLimit
	if timeLimit <= 0 {
		timeLimit = e.Config.GlobalTaskTimeLimit
	}

	script := buildTaskScript(tpl.ContainerConfig, timeLimit)

	err = e.Orchestrator.CreateJob(ctx, orchestrator.JobSpecInput{
		TaskUUID:         task.UUID,
		Image:            tpl.ContainerConfig.Image,
		Command:          []string{"sh", "-c", script},
		TemplatePVC:      tpl.ContainerConfig.PersistentVolume.Name,
		TemplateMount:    tpl.ContainerConfig.PersistentVolume.MountPath,
		UserspacePVC:     e.Config.UserspaceName,
		UserspaceSubPath: userspaceSubPath,
		Username:         username,
		UserUUID:         task.UserRef,
		MemoryLimit:      tpl.ContainerConfig.MemoryLimit,
		TimeLimitSecs:    timeLimit,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to create job, leaving task scheduled")
		metrics.RecordJobDispatched("create_failed")
		return
	}

	if err := e.Tasks.UpdateTaskStatus(ctx, task.UUID, db.TaskWaiting); err != nil {
		log.Error().Err(err).Msg("failed to mark task waiting after dispatch")
		return
	}
	e.publishTaskStatus(task.UUID, task.TemplateRef, db.TaskWaiting)
	metrics.RecordJobDispatched("dispatched")
}

// buildTaskScript composes the in-container setup-and-run script: create the
// working directory, overlay the user's persisted files with the template's
// script files (script files win on conflict), mark everything executable,
// then run the template's commands under a hard wall-clock timeout.
func buildTaskScript(cfg db.ContainerConfig, timeLimit int) string {
	joined := strings.Join(cfg.Commands, " && ")
	return fmt.Sprintf(`set -e
mkdir -p %[1]s
cp -a /cloud_scheduler_userspace/. %[1]s/ 2>/dev/null || true
cp -a %[2]s/. %[1]s/
chmod -R +x %[1]s
cd %[1]s
timeout --signal TERM %[3]d %[4]s -c '%[5]s'`,
		cfg.WorkingPath, cfg.TaskScriptPath, timeLimit, cfg.Shell, joined)
}

func (e *Executor) publishTaskStatus(taskUUID, templateUUID, status string) {
	if e.Events == nil {
		return
	}
	_ = e.Events.PublishTaskStatus(taskStatusEvent(taskUUID, templateUUID, status))
}

func taskStatusEvent(taskUUID, templateUUID, status string) events.TaskStatusEvent {
	return events.TaskStatusEvent{
		TaskUUID:     taskUUID,
		TemplateUUID: templateUUID,
		Status:       status,
		Timestamp:    time.Now().Unix(),
	}
}
