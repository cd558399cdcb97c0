package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
)

// ErrUnknownUser is returned (wrapped) by Lease when the requested user uuid
// cannot be resolved, so callers like the IPC server can distinguish it from
// a generic lookup failure per spec §4.6.
var ErrUnknownUser = errors.New("unknown user")

func workspaceLeasedEvent(templateUUID, userUUID, podName string) events.WorkspaceEvent {
	return events.WorkspaceEvent{
		TemplateUUID: templateUUID,
		UserUUID:     userUUID,
		PodName:      podName,
		Timestamp:    time.Now().Unix(),
	}
}

// LeaseOptions modifies Lease's default behavior per spec §4.2.
type LeaseOptions struct {
	Recreate bool // re-seed the user's home directory
	Purge    bool // wipe the home directory before re-seeding
}

// uidOffset is added to the user's numeric id to compute the unix uid,
// matching the original system's useradd -u <499+user.id>.
const uidOffset = 499

// Lease allocates a workspace pod to a (template, user) pair. Returns ""
// with no error when the pool has no usable headroom — the caller must
// wait for the Pool Reconciler to expand (spec §4.2 step 4).
func (e *Executor) Lease(ctx context.Context, templateUUID, userUUID string, opts LeaseOptions) (string, error) {
	log := logger.Lease().With().Str("template", templateUUID).Str("user", userUUID).Logger()

	user, err := e.Users.GetUser(ctx, userUUID)
	if err != nil {
		metrics.RecordLease(templateUUID, "unknown_user")
		return "", fmt.Errorf("failed to resolve user %s: %w: %w", userUUID, ErrUnknownUser, err)
	}
	username := fmt.Sprintf("%s_%s", user.Username, templateUUID)

	ws, created, err := e.Workspaces.GetOrCreateWorkspace(ctx, templateUUID, userUUID)
	if err != nil {
		metrics.RecordLease(templateUUID, "error")
		return "", fmt.Errorf("failed to load workspace: %w", err)
	}

	expireAt := time.Now().Unix() + int64(e.Config.UserSpacePodTimeout)

	if ws.PodName != "" {
		pod, err := e.Orchestrator.GetPod(ctx, ws.PodName)
		if err != nil {
			if !orchestrator.IsNotFound(err) {
				metrics.RecordLease(templateUUID, "error")
				return "", fmt.Errorf("failed to read leased pod %s: %w", ws.PodName, err)
			}
			log.Info().Str("pod", ws.PodName).Msg("leased pod missing, reallocating")
		} else if pod.Status.Phase == corev1.PodRunning && pod.DeletionTimestamp == nil {
			if err := e.Workspaces.RefreshWorkspaceTTL(ctx, templateUUID, userUUID, expireAt); err != nil {
				metrics.RecordLease(templateUUID, "error")
				return "", fmt.Errorf("failed to refresh workspace TTL: %w", err)
			}
			metrics.RecordLease(templateUUID, "refreshed")
			return ws.PodName, nil
		}
	}

	tpl, err := e.Templates.GetTemplate(ctx, templateUUID)
	if err != nil {
		metrics.RecordLease(templateUUID, "error")
		return "", fmt.Errorf("failed to load template %s: %w", templateUUID, err)
	}

	pods, err := e.Orchestrator.ListPoolPods(ctx, templateUUID)
	if err != nil {
		metrics.RecordLease(templateUUID, "error")
		return "", fmt.Errorf("failed to list pool pods: %w", err)
	}

	var chosen *orchestrator.PoolPod
	for i := range pods {
		p := &pods[i]
		if p.Phase == corev1.PodRunning && !p.HasDeletionStamp && p.Occupied < tpl.MaxSharingUsers {
			chosen = p
			break
		}
	}
	if chosen == nil {
		log.Info().Msg("no usable pool pod, waiting for pool reconciler to expand")
		metrics.RecordLease(templateUUID, "no_capacity")
		return "", nil
	}

	if err := e.Orchestrator.PatchOccupied(ctx, chosen.Name, chosen.Occupied+1, chosen.ResourceVersion); err != nil {
		if !orchestrator.IsConflict(err) {
			metrics.RecordLease(templateUUID, "error")
			return "", fmt.Errorf("failed to patch occupied on pod %s: %w", chosen.Name, err)
		}
		log.Warn().Str("pod", chosen.Name).Msg("occupied patch conflict, a concurrent lease won the race")
	}

	if err := e.provisionUser(ctx, chosen.Name, "webshell", templateUUID, tpl.ContainerConfig.PersistentVolume.MountPath, tpl.ContainerConfig.TaskInitialFilePath, user, username); err != nil {
		log.Warn().Err(err).Msg("user provisioning script reported an error (best-effort, continuing)")
	}

	if created || opts.Recreate {
		if err := e.seedHome(ctx, chosen.Name, "webshell", tpl.ContainerConfig.PersistentVolume.MountPath, tpl.ContainerConfig.TaskInitialFilePath, username, opts.Purge); err != nil {
			log.Warn().Err(err).Msg("home seeding script reported an error (best-effort, continuing)")
		}
	}

	if err := e.Workspaces.LeaseWorkspace(ctx, templateUUID, userUUID, chosen.Name, expireAt); err != nil {
		metrics.RecordLease(templateUUID, "error")
		return "", fmt.Errorf("failed to persist workspace lease: %w", err)
	}

	if e.Events != nil {
		_ = e.Events.PublishWorkspaceLeased(workspaceLeasedEvent(templateUUID, userUUID, chosen.Name))
	}

	metrics.RecordLease(templateUUID, "leased")
	return chosen.Name, nil
}

// provisionUser creates the unix account and home directory inside the
// chosen pod. Every command is idempotent and prefixed with "set +e": a
// step failing (e.g. useradd on a uid that already exists) must not abort
// the rest, per spec §4.2 and §9.
func (e *Executor) provisionUser(ctx context.Context, podName, container, templateUUID, mountPath, initialFilePath string, user *UserInfo, username string) error {
	uid := uidOffset + user.ID
	userDir := fmt.Sprintf("/cloud_scheduler_userspace/user_%d_task_%s", user.ID, templateUUID)
	script := fmt.Sprintf(`set +e
chmod 711 /cloud_scheduler_userspace /home
mkdir -p %s
useradd -u %d %s
chown -R %s:%s %s
ln -sfn %s /home/%s
chmod 700 %s`,
		userDir, uid, username, username, username, userDir, userDir, username, userDir)

	_, err := e.Orchestrator.Exec(ctx, podName, container, script)
	return err
}

// seedHome copies the template's initial files into the user's home, first
// purging existing contents if requested. Also best-effort/idempotent.
func (e *Executor) seedHome(ctx context.Context, podName, container, mountPath, initialFilePath, username string, purge bool) error {
	home := fmt.Sprintf("/home/%s", username)
	script := "set +e\n"
	if purge {
		script += fmt.Sprintf("rm -rf %s/*\n", home)
	}
	script += fmt.Sprintf("cp -a %s/%s/. %s/\nchown -R %s:%s %s",
		mountPath, initialFilePath, home, username, username, home)

	_, err := e.Orchestrator.Exec(ctx, podName, container, script)
	return err
}
