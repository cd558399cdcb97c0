package db

import (
	"context"
	"database/sql"
	"fmt"
)

// VNCWorkspace mirrors TaskVNCPod from spec §3: a per-user VNC deployment,
// identical lease/release identity invariant as Workspace.
type VNCWorkspace struct {
	TemplateRef string
	UserRef     string
	PodName     string
	URLPath     string
	VNCPassword string
	ExpireTime  int64
}

// VNCWorkspaceDB handles database operations for VNC workspaces.
type VNCWorkspaceDB struct {
	db *sql.DB
}

// NewVNCWorkspaceDB creates a new VNCWorkspaceDB instance.
func NewVNCWorkspaceDB(sqlDB *sql.DB) *VNCWorkspaceDB {
	return &VNCWorkspaceDB{db: sqlDB}
}

// GetOrCreateVNCWorkspace fetches the (template, user) VNC workspace row,
// creating an empty one if absent.
func (v *VNCWorkspaceDB) GetOrCreateVNCWorkspace(ctx context.Context, templateRef, userRef string) (*VNCWorkspace, bool, error) {
	vw, err := v.getVNCWorkspace(ctx, templateRef, userRef)
	if err == nil {
		return vw, false, nil
	}
	if err != ErrNotFound {
		return nil, false, fmt.Errorf("failed to get vnc workspace (%s, %s): %w", templateRef, userRef, err)
	}

	query := `
		INSERT INTO vnc_workspaces (template_ref, user_ref, pod_name, url_path, vnc_password, expire_time)
		VALUES ($1, $2, '', '', '', 0)
		ON CONFLICT (template_ref, user_ref) DO NOTHING
	`
	if _, err := v.db.ExecContext(ctx, query, templateRef, userRef); err != nil {
		return nil, false, fmt.Errorf("failed to create vnc workspace (%s, %s): %w", templateRef, userRef, err)
	}

	vw, err = v.getVNCWorkspace(ctx, templateRef, userRef)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload vnc workspace (%s, %s): %w", templateRef, userRef, err)
	}
	return vw, true, nil
}

func (v *VNCWorkspaceDB) getVNCWorkspace(ctx context.Context, templateRef, userRef string) (*VNCWorkspace, error) {
	vw := &VNCWorkspace{TemplateRef: templateRef, UserRef: userRef}
	query := `
		SELECT pod_name, url_path, vnc_password, expire_time
		FROM vnc_workspaces WHERE template_ref = $1 AND user_ref = $2
	`
	err := v.db.QueryRowContext(ctx, query, templateRef, userRef).Scan(&vw.PodName, &vw.URLPath, &vw.VNCPassword, &vw.ExpireTime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return vw, nil
}

// LeaseVNCWorkspace records the deployment's pod name, url path, password,
// and resets the TTL.
func (v *VNCWorkspaceDB) LeaseVNCWorkspace(ctx context.Context, templateRef, userRef, podName, urlPath, password string, expireTime int64) error {
	query := `
		UPDATE vnc_workspaces SET pod_name = $1, url_path = $2, vnc_password = $3, expire_time = $4
		WHERE template_ref = $5 AND user_ref = $6
	`
	_, err := v.db.ExecContext(ctx, query, podName, urlPath, password, expireTime, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to lease vnc workspace (%s, %s): %w", templateRef, userRef, err)
	}
	return nil
}

// RefreshVNCWorkspaceTTL extends expire_time on reuse of a live deployment.
func (v *VNCWorkspaceDB) RefreshVNCWorkspaceTTL(ctx context.Context, templateRef, userRef string, expireTime int64) error {
	query := `UPDATE vnc_workspaces SET expire_time = $1 WHERE template_ref = $2 AND user_ref = $3`
	_, err := v.db.ExecContext(ctx, query, expireTime, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to refresh vnc workspace TTL (%s, %s): %w", templateRef, userRef, err)
	}
	return nil
}

// ReleaseVNCWorkspace clears the pod/url/password reference and TTL. The url
// path is retained across re-lease in the caller (only cleared here when
// explicitly requested via the bool) so that a re-leased VNC session keeps a
// stable URL; see internal/vnc.
func (v *VNCWorkspaceDB) ReleaseVNCWorkspace(ctx context.Context, templateRef, userRef string) error {
	query := `UPDATE vnc_workspaces SET pod_name = '', url_path = '', expire_time = 0 WHERE template_ref = $1 AND user_ref = $2`
	_, err := v.db.ExecContext(ctx, query, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to release vnc workspace (%s, %s): %w", templateRef, userRef, err)
	}
	return nil
}

// ListDueVNCWorkspaces returns leased VNC workspaces whose expire_time has
// elapsed, ordered by expire_time ascending.
func (v *VNCWorkspaceDB) ListDueVNCWorkspaces(ctx context.Context, now int64) ([]*VNCWorkspace, error) {
	query := `
		SELECT template_ref, user_ref, pod_name, url_path, vnc_password, expire_time
		FROM vnc_workspaces
		WHERE expire_time > 0 AND expire_time <= $1
		ORDER BY expire_time ASC
	`
	rows, err := v.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due vnc workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*VNCWorkspace
	for rows.Next() {
		vw := &VNCWorkspace{}
		if err := rows.Scan(&vw.TemplateRef, &vw.UserRef, &vw.PodName, &vw.URLPath, &vw.VNCPassword, &vw.ExpireTime); err != nil {
			return nil, fmt.Errorf("failed to scan vnc workspace row: %w", err)
		}
		workspaces = append(workspaces, vw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vnc workspace rows: %w", err)
	}
	return workspaces, nil
}
