package controller

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/tasksched/controller/internal/logger"
	"github.com/tasksched/controller/internal/metrics"
	"github.com/tasksched/controller/internal/orchestrator"
)

const vncPasswordLen = 16
const vncPasswordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// LeaseVNC provisions (or reuses) a per-user VNC deployment for a template,
// per SPEC_FULL.md §5. The URL path is stable across re-lease: once
// assigned it is kept even if the deployment is torn down and recreated.
func (e *Executor) LeaseVNC(ctx context.Context, templateUUID, userUUID string) (string, error) {
	log := logger.VNC().With().Str("template", templateUUID).Str("user", userUUID).Logger()

	vw, _, err := e.VNCWorkspaces.GetOrCreateVNCWorkspace(ctx, templateUUID, userUUID)
	if err != nil {
		return "", fmt.Errorf("failed to load vnc workspace: %w", err)
	}

	expireAt := time.Now().Unix() + int64(e.Config.UserSpacePodTimeout)

	if vw.PodName != "" {
		if _, err := e.Orchestrator.GetVNCDeployment(ctx, vw.PodName); err == nil {
			if err := e.VNCWorkspaces.RefreshVNCWorkspaceTTL(ctx, templateUUID, userUUID, expireAt); err != nil {
				return "", fmt.Errorf("failed to refresh vnc workspace TTL: %w", err)
			}
			return vw.URLPath, nil
		} else if !orchestrator.IsNotFound(err) {
			return "", fmt.Errorf("failed to read vnc deployment %s: %w", vw.PodName, err)
		}
		log.Info().Str("deployment", vw.PodName).Msg("vnc deployment missing, recreating")
	}

	tpl, err := e.Templates.GetTemplate(ctx, templateUUID)
	if err != nil {
		return "", fmt.Errorf("failed to load template %s: %w", templateUUID, err)
	}

	deploymentName := fmt.Sprintf("vnc-%s-%s", shortUUID(templateUUID), shortUUID(userUUID))
	password := vw.VNCPassword
	if password == "" {
		password, err = randomPassword()
		if err != nil {
			return "", fmt.Errorf("failed to generate vnc password: %w", err)
		}
	}
	urlPath := vw.URLPath
	if urlPath == "" {
		urlPath = fmt.Sprintf("/vnc/%s/%s", templateUUID, userUUID)
	}

	user, err := e.Users.GetUser(ctx, userUUID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user %s: %w: %w", userUUID, ErrUnknownUser, err)
	}
	username := fmt.Sprintf("%s_%s", user.Username, templateUUID)

	if err := e.Orchestrator.CreateVNCDeployment(ctx, orchestrator.VNCDeploymentInput{
		Name:          deploymentName,
		Image:         e.Config.UserVNCImage,
		Port:          int32(e.Config.UserVNCPort),
		WSPort:        int32(e.Config.UserVNCWSPort),
		Password:      password,
		Host:          e.Config.UserVNCHost,
		URLPath:       urlPath,
		TLSSecret:     e.Config.UserVNCTLSSecret,
		TemplatePVC:   tpl.ContainerConfig.PersistentVolume.Name,
		TemplateMount: tpl.ContainerConfig.PersistentVolume.MountPath,
		UserspacePVC:  e.Config.UserspaceName,
	}); err != nil {
		return "", fmt.Errorf("failed to create vnc deployment: %w", err)
	}

	if err := e.Orchestrator.EnsureVNCService(ctx, deploymentName, int32(e.Config.UserVNCWSPort)); err != nil {
		return "", fmt.Errorf("failed to ensure vnc service: %w", err)
	}

	ingressName := fmt.Sprintf("vnc-ingress-%s", shortUUID(tpl.UUID))
	if err := e.Orchestrator.EnsureVNCIngress(ctx, ingressName, deploymentName, urlPath, int32(e.Config.UserVNCWSPort), e.Config.UserVNCHost, e.Config.UserVNCTLSSecret); err != nil {
		return "", fmt.Errorf("failed to ensure vnc ingress: %w", err)
	}

	if pod, err := e.Orchestrator.GetVNCPod(ctx, deploymentName); err != nil {
		log.Warn().Err(err).Msg("vnc pod not ready yet, skipping provisioning this pass")
	} else {
		if err := e.provisionUser(ctx, pod.Name, "vnc", templateUUID, tpl.ContainerConfig.PersistentVolume.MountPath, tpl.ContainerConfig.TaskInitialFilePath, user, username); err != nil {
			log.Warn().Err(err).Msg("vnc user provisioning script reported an error (best-effort, continuing)")
		}
		if err := e.seedHome(ctx, pod.Name, "vnc", tpl.ContainerConfig.PersistentVolume.MountPath, tpl.ContainerConfig.TaskInitialFilePath, username, false); err != nil {
			log.Warn().Err(err).Msg("vnc home seeding script reported an error (best-effort, continuing)")
		}
	}

	if err := e.VNCWorkspaces.LeaseVNCWorkspace(ctx, templateUUID, userUUID, deploymentName, urlPath, password, expireAt); err != nil {
		return "", fmt.Errorf("failed to persist vnc workspace lease: %w", err)
	}

	metrics.RecordLease(templateUUID, "vnc_leased")
	return urlPath, nil
}

func randomPassword() (string, error) {
	b := make([]byte, vncPasswordLen)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(vncPasswordAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = vncPasswordAlphabet[n.Int64()]
	}
	return string(b), nil
}
