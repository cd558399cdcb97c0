package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Workspace mirrors TaskStorage from spec §3: the per-user home directory
// inside a leased pool pod. Leased iff PodName != "" && ExpireTime > now;
// released iff PodName == "" && ExpireTime == 0.
type Workspace struct {
	TemplateRef string
	UserRef     string
	PodName     string
	ExpireTime  int64
}

// WorkspaceDB handles database operations for workspaces.
type WorkspaceDB struct {
	db *sql.DB
}

// NewWorkspaceDB creates a new WorkspaceDB instance.
func NewWorkspaceDB(sqlDB *sql.DB) *WorkspaceDB {
	return &WorkspaceDB{db: sqlDB}
}

// GetOrCreateWorkspace fetches the (template, user) workspace row, creating
// an empty one if absent. The returned bool is true iff the row was just
// created — first-time leasing for this (template, user) pair, per spec
// §4.2 step 1. Concurrent callers may both observe created=true and both
// seed the user's home directory; this is documented as permitted in spec
// §9 Open Questions.
func (w *WorkspaceDB) GetOrCreateWorkspace(ctx context.Context, templateRef, userRef string) (*Workspace, bool, error) {
	ws, err := w.getWorkspace(ctx, templateRef, userRef)
	if err == nil {
		return ws, false, nil
	}
	if err != ErrNotFound {
		return nil, false, fmt.Errorf("failed to get workspace (%s, %s): %w", templateRef, userRef, err)
	}

	query := `
		INSERT INTO workspaces (template_ref, user_ref, pod_name, expire_time)
		VALUES ($1, $2, '', 0)
		ON CONFLICT (template_ref, user_ref) DO NOTHING
	`
	if _, err := w.db.ExecContext(ctx, query, templateRef, userRef); err != nil {
		return nil, false, fmt.Errorf("failed to create workspace (%s, %s): %w", templateRef, userRef, err)
	}

	ws, err = w.getWorkspace(ctx, templateRef, userRef)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload workspace (%s, %s): %w", templateRef, userRef, err)
	}
	return ws, true, nil
}

func (w *WorkspaceDB) getWorkspace(ctx context.Context, templateRef, userRef string) (*Workspace, error) {
	ws := &Workspace{TemplateRef: templateRef, UserRef: userRef}
	query := `SELECT pod_name, expire_time FROM workspaces WHERE template_ref = $1 AND user_ref = $2`
	err := w.db.QueryRowContext(ctx, query, templateRef, userRef).Scan(&ws.PodName, &ws.ExpireTime)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ws, nil
}

// LeaseWorkspace records that a pod has been assigned and resets the TTL.
func (w *WorkspaceDB) LeaseWorkspace(ctx context.Context, templateRef, userRef, podName string, expireTime int64) error {
	query := `
		UPDATE workspaces SET pod_name = $1, expire_time = $2
		WHERE template_ref = $3 AND user_ref = $4
	`
	_, err := w.db.ExecContext(ctx, query, podName, expireTime, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to lease workspace (%s, %s) to pod %s: %w", templateRef, userRef, podName, err)
	}
	return nil
}

// RefreshWorkspaceTTL extends expire_time on reuse of an already-leased pod.
func (w *WorkspaceDB) RefreshWorkspaceTTL(ctx context.Context, templateRef, userRef string, expireTime int64) error {
	query := `UPDATE workspaces SET expire_time = $1 WHERE template_ref = $2 AND user_ref = $3`
	_, err := w.db.ExecContext(ctx, query, expireTime, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to refresh workspace TTL (%s, %s): %w", templateRef, userRef, err)
	}
	return nil
}

// ReleaseWorkspace clears the pod reference and TTL, performed by the Reaper.
func (w *WorkspaceDB) ReleaseWorkspace(ctx context.Context, templateRef, userRef string) error {
	query := `UPDATE workspaces SET pod_name = '', expire_time = 0 WHERE template_ref = $1 AND user_ref = $2`
	_, err := w.db.ExecContext(ctx, query, templateRef, userRef)
	if err != nil {
		return fmt.Errorf("failed to release workspace (%s, %s): %w", templateRef, userRef, err)
	}
	return nil
}

// ListDueWorkspaces returns leased workspaces whose expire_time has elapsed,
// ordered by expire_time ascending, for the Reaper to process.
func (w *WorkspaceDB) ListDueWorkspaces(ctx context.Context, now int64) ([]*Workspace, error) {
	query := `
		SELECT template_ref, user_ref, pod_name, expire_time
		FROM workspaces
		WHERE expire_time > 0 AND expire_time <= $1
		ORDER BY expire_time ASC
	`
	rows, err := w.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*Workspace
	for rows.Next() {
		ws := &Workspace{}
		if err := rows.Scan(&ws.TemplateRef, &ws.UserRef, &ws.PodName, &ws.ExpireTime); err != nil {
			return nil, fmt.Errorf("failed to scan workspace row: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workspace rows: %w", err)
	}
	return workspaces, nil
}
