// Package controller implements the five cooperating subsystems of the task
// execution controller: Pool Reconciler, Lease Manager, Reaper, Job
// Dispatcher, and Job Watcher, plus the VNC Workspace Manager supplement.
// All subsystems share one Executor and mutate state via the db and
// orchestrator packages; none of them locks shared state (spec §5).
package controller

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
)

// poolClassification buckets a pool pod per spec §4.1.
type poolClassification struct {
	usable   []orchestrator.PoolPod
	base     []orchestrator.PoolPod
	idle     []orchestrator.PoolPod
	terminal []orchestrator.PoolPod
}

func classifyPool(pods []orchestrator.PoolPod, maxSharingUsers int) poolClassification {
	var c poolClassification
	for _, p := range pods {
		switch p.Phase {
		case corev1.PodRunning:
			if p.HasDeletionStamp {
				continue
			}
			c.base = append(c.base, p)
			if p.Occupied < maxSharingUsers {
				c.usable = append(c.usable, p)
			}
			if p.Occupied == 0 {
				c.idle = append(c.idle, p)
			}
		case corev1.PodPending:
			if p.HasDeletionStamp {
				continue
			}
			c.base = append(c.base, p)
			c.usable = append(c.usable, p)
		case corev1.PodSucceeded, corev1.PodFailed, corev1.PodUnknown:
			c.terminal = append(c.terminal, p)
		}
	}
	return c
}

// ReconcilePool brings a single template's pool into compliance with
// replica policy (spec §4.1). Invoked periodically by the Scheduler at the
// template's ttl_interval; non-blocking with respect to other templates.
func (e *Executor) ReconcilePool(ctx context.Context, templateUUID string) {
	start := time.Now()
	log := logger.Pool().With().Str("template", templateUUID).Logger()

	result := "ok"
	defer func() {
		metrics.RecordReconciliation(templateUUID, result)
		metrics.ObserveReconciliationDuration(templateUUID, time.Since(start).Seconds())
	}()

	tpl, err := e.Templates.GetTemplate(ctx, templateUUID)
	if err != nil {
		if err == db.ErrNotFound {
			log.Info().Msg("template missing, purging pool and cancelling schedule")
			e.purgePool(ctx, templateUUID, false)
			e.Scheduler.Remove(templateUUID)
			return
		}
		log.Error().Err(err).Msg("failed to load template")
		result = "error"
		return
	}

	if err := e.ensureBootstrap(ctx, tpl); err != nil {
		log.Warn().Err(err).Msg("bootstrap failed, skipping this pass")
		result = "bootstrap_failed"
		return
	}

	pods, err := e.Orchestrator.ListPoolPods(ctx, templateUUID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list pool pods")
		result = "error"
		return
	}

	c := classifyPool(pods, tpl.MaxSharingUsers)
	metrics.RecordPoolPods(templateUUID, "usable", float64(len(c.usable)))
	metrics.RecordPoolPods(templateUUID, "base", float64(len(c.base)))
	metrics.RecordPoolPods(templateUUID, "idle", float64(len(c.idle)))
	metrics.RecordPoolPods(templateUUID, "terminal", float64(len(c.terminal)))

	if len(c.terminal) > 0 {
		log.Warn().Int("terminal_count", len(c.terminal)).Msg("terminal pod detected, purging pool")
		e.purgePool(ctx, templateUUID, true)
		e.Scheduler.Remove(templateUUID)
		return
	}

	switch {
	case len(c.base) <= tpl.Replica:
		deficit := tpl.Replica - len(c.base)
		log.Info().Int("deficit", deficit).Msg("expanding pool to replica floor")
		e.createPoolPods(ctx, tpl, deficit)
	case len(c.usable) < 1:
		log.Info().Int("doubling", len(c.base)).Msg("usable headroom exhausted, doubling pool")
		e.createPoolPods(ctx, tpl, len(c.base))
	case len(c.base) > tpl.Replica && len(c.idle) > len(c.base)/2:
		victim := c.idle[0]
		log.Info().Str("pod", victim.Name).Msg("idle surplus, shrinking pool by one")
		if err := e.Orchestrator.DeletePod(ctx, victim.Name); err != nil {
			log.Warn().Err(err).Str("pod", victim.Name).Msg("failed to delete idle pod")
		}
	}
}

// ensureBootstrap verifies the namespace and global user-space PVC exist
// before any pool pods are created for this template.
func (e *Executor) ensureBootstrap(ctx context.Context, tpl *db.TaskTemplate) error {
	if err := e.Orchestrator.EnsureNamespace(ctx); err != nil {
		return fmt.Errorf("namespace bootstrap: %w", err)
	}
	if err := e.Orchestrator.EnsureUserspacePVC(ctx, e.Config.UserspaceName, e.Config.CephStorageClassName); err != nil {
		return fmt.Errorf("userspace PVC bootstrap: %w", err)
	}
	return nil
}

func (e *Executor) createPoolPods(ctx context.Context, tpl *db.TaskTemplate, count int) {
	log := logger.Pool().With().Str("template", tpl.UUID).Logger()
	for i := 0; i < count; i++ {
		name := poolPodName(tpl.UUID)
		err := e.Orchestrator.CreatePoolPod(ctx, tpl.UUID, name, e.Config.UserWebshellImage,
			tpl.ContainerConfig.PersistentVolume.Name, tpl.ContainerConfig.PersistentVolume.MountPath, e.Config.UserspaceName)
		if err != nil {
			log.Warn().Err(err).Str("pod", name).Msg("failed to create pool pod")
			continue
		}
	}
}

// purgePool deletes every pod matching the template's selector. When
// relabel is true, each pod is relabelled task=<uuid>_deleted first so it
// stops matching the selector before the delete races with a future list,
// per spec §4.1 step 1.
func (e *Executor) purgePool(ctx context.Context, templateUUID string, relabel bool) {
	pods, err := e.Orchestrator.ListPoolPods(ctx, templateUUID)
	if err != nil {
		logger.Pool().Warn().Err(err).Str("template", templateUUID).Msg("failed to list pods for purge")
		return
	}
	for _, p := range pods {
		if relabel {
			if err := e.Orchestrator.RelabelPodDeleted(ctx, p.Name, templateUUID); err != nil {
				logger.Pool().Warn().Err(err).Str("pod", p.Name).Msg("failed to relabel pod before purge")
			}
		}
		if err := e.Orchestrator.DeletePod(ctx, p.Name); err != nil {
			logger.Pool().Warn().Err(err).Str("pod", p.Name).Msg("failed to delete pod during purge")
		}
	}
}

func poolPodName(templateUUID string) string {
	return fmt.Sprintf("pool-%s-%s", shortUUID(templateUUID), randSuffix())
}
