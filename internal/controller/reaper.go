package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
)

// reapIdleSleep is how long the Reaper sleeps after a scan that processed no
// due rows, per spec §4.3.
const reapIdleSleep = 1 * time.Second

// RunReaper scans Workspace and VNCWorkspace rows whose expire_time has
// elapsed and releases them, looping until ctx is cancelled. It only sleeps
// when a full scan processes zero due rows, so backlogged expirations drain
// immediately.
func (e *Executor) RunReaper(ctx context.Context) {
	log := logger.Reaper()
	log.Info().Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reaper stopped")
			return
		default:
		}

		processed := e.reapWorkspaces(ctx)
		processed += e.reapVNCWorkspaces(ctx)

		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reapIdleSleep):
			}
		}
	}
}

func (e *Executor) reapWorkspaces(ctx context.Context) int {
	log := logger.Reaper()
	due, err := e.Workspaces.ListDueWorkspaces(ctx, time.Now().Unix())
	if err != nil {
		log.Error().Err(err).Msg("failed to list due workspaces")
		return 0
	}

	for _, ws := range due {
		if err := e.releaseWorkspace(ctx, ws); err != nil {
			log.Warn().Err(err).Str("template", ws.TemplateRef).Str("user", ws.UserRef).Msg("failed to release workspace")
			continue
		}
		metrics.RecordReaped("workspace")
	}
	return len(due)
}

func (e *Executor) releaseWorkspace(ctx context.Context, ws *db.Workspace) error {
	log := logger.Reaper().With().Str("template", ws.TemplateRef).Str("user", ws.UserRef).Logger()

	if ws.PodName != "" {
		pod, err := e.Orchestrator.GetPod(ctx, ws.PodName)
		switch {
		case err != nil && orchestrator.IsNotFound(err):
			log.Info().Str("pod", ws.PodName).Msg("pod already gone, clearing row without contacting it")
		case err != nil:
			return fmt.Errorf("failed to read pod %s: %w", ws.PodName, err)
		default:
			if e.Users != nil {
				if user, uerr := e.Users.GetUser(ctx, ws.UserRef); uerr == nil {
					e.deprovisionUser(ctx, ws.PodName, ws.TemplateRef, user)
				}
			}
			occupied := pod.Labels[orchestrator.LabelOccupied]
			next := decrementClamped(occupied)
			if err := e.Orchestrator.PatchOccupied(ctx, ws.PodName, next, pod.ResourceVersion); err != nil && !orchestrator.IsConflict(err) {
				log.Warn().Err(err).Msg("failed to decrement occupied count")
			}
		}
	}

	if err := e.Workspaces.ReleaseWorkspace(ctx, ws.TemplateRef, ws.UserRef); err != nil {
		return err
	}

	if e.Events != nil {
		_ = e.Events.PublishWorkspaceFreed(events.WorkspaceEvent{
			TemplateUUID: ws.TemplateRef,
			UserUUID:     ws.UserRef,
			PodName:      ws.PodName,
			Timestamp:    time.Now().Unix(),
		})
	}
	return nil
}

// deprovisionUser removes the unix account and home symlink seeded by Lease.
// Best-effort: a failure here must not block releasing the row. The account
// name must match the compound <username>_<templateUUID> formula Lease used
// to provision it (lease_manager.go).
func (e *Executor) deprovisionUser(ctx context.Context, podName, templateUUID string, user *UserInfo) {
	username := fmt.Sprintf("%s_%s", user.Username, templateUUID)
	script := fmt.Sprintf(`set +e
unlink /home/%s
userdel %s`, username, username)
	if _, err := e.Orchestrator.Exec(ctx, podName, "webshell", script); err != nil {
		logger.Reaper().Warn().Err(err).Str("pod", podName).Msg("deprovision script reported an error")
	}
}

func (e *Executor) reapVNCWorkspaces(ctx context.Context) int {
	log := logger.Reaper()
	due, err := e.VNCWorkspaces.ListDueVNCWorkspaces(ctx, time.Now().Unix())
	if err != nil {
		log.Error().Err(err).Msg("failed to list due vnc workspaces")
		return 0
	}

	for _, vw := range due {
		if vw.PodName != "" {
			if err := e.Orchestrator.DeleteVNCDeployment(ctx, vw.PodName); err != nil {
				log.Warn().Err(err).Str("deployment", vw.PodName).Msg("failed to delete vnc deployment")
				continue
			}
		}
		if err := e.VNCWorkspaces.ReleaseVNCWorkspace(ctx, vw.TemplateRef, vw.UserRef); err != nil {
			log.Warn().Err(err).Str("template", vw.TemplateRef).Str("user", vw.UserRef).Msg("failed to release vnc workspace")
			continue
		}
		metrics.RecordReaped("vnc_workspace")
	}
	return len(due)
}

// decrementClamped parses an occupied label value and decrements it, never
// going below zero.
func decrementClamped(value string) int {
	n := 0
	fmt.Sscanf(value, "%d", &n)
	if n <= 0 {
		return 0
	}
	return n - 1
}
