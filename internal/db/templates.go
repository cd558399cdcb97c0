package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ContainerConfig is the parsed form of TaskTemplate.container_config.
type ContainerConfig struct {
	Image               string   `json:"image"`
	Shell               string   `json:"shell"`
	MemoryLimit         string   `json:"memory_limit,omitempty"`
	Commands            []string `json:"commands"`
	WorkingPath         string   `json:"working_path"`
	TaskScriptPath      string   `json:"task_script_path"`
	TaskInitialFilePath string   `json:"task_initial_file_path"`
	PersistentVolume    struct {
		Name      string `json:"name"`
		MountPath string `json:"mount_path"`
	} `json:"persistent_volume"`
}

// Validate reports whether the config contains every key required by §3 of
// the spec, with the correct shapes. It does not validate that the image or
// paths actually exist.
func (c *ContainerConfig) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("container_config.image is required")
	}
	if c.Shell == "" {
		return fmt.Errorf("container_config.shell is required")
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("container_config.commands must be a non-empty list")
	}
	if c.WorkingPath == "" {
		return fmt.Errorf("container_config.working_path is required")
	}
	if c.TaskScriptPath == "" {
		return fmt.Errorf("container_config.task_script_path is required")
	}
	if c.TaskInitialFilePath == "" {
		return fmt.Errorf("container_config.task_initial_file_path is required")
	}
	if c.PersistentVolume.Name == "" {
		return fmt.Errorf("container_config.persistent_volume.name is required")
	}
	if c.PersistentVolume.MountPath == "" {
		return fmt.Errorf("container_config.persistent_volume.mount_path is required")
	}
	return nil
}

// TaskTemplate is a reusable task definition keyed by uuid; it is immutable
// from the controller's perspective except for external deletion.
type TaskTemplate struct {
	UUID            string
	ContainerConfig ContainerConfig
	Replica         int
	MaxSharingUsers int
	TTLInterval     int
	TimeLimit       int
}

// TemplateDB handles database operations for task templates.
type TemplateDB struct {
	db *sql.DB
}

// NewTemplateDB creates a new TemplateDB instance.
func NewTemplateDB(sqlDB *sql.DB) *TemplateDB {
	return &TemplateDB{db: sqlDB}
}

// GetTemplate retrieves a template by uuid and parses its container_config.
// ErrNotFound is returned (wrapped) when the template does not exist, so the
// Pool Reconciler's abort path can distinguish it from a transient failure.
func (t *TemplateDB) GetTemplate(ctx context.Context, templateUUID string) (*TaskTemplate, error) {
	var (
		tpl        TaskTemplate
		configJSON []byte
	)
	tpl.UUID = templateUUID

	query := `
		SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit
		FROM task_templates
		WHERE uuid = $1
	`
	err := t.db.QueryRowContext(ctx, query, templateUUID).Scan(
		&configJSON, &tpl.Replica, &tpl.MaxSharingUsers, &tpl.TTLInterval, &tpl.TimeLimit,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("template %s: %w", templateUUID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get template %s: %w", templateUUID, err)
	}

	if err := json.Unmarshal(configJSON, &tpl.ContainerConfig); err != nil {
		return nil, fmt.Errorf("invalid container_config for template %s: %w", templateUUID, err)
	}

	return &tpl, nil
}

// ListTemplateUUIDs returns every known template uuid, used at startup to
// seed the periodic schedule driver.
func (t *TemplateDB) ListTemplateUUIDs(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT uuid FROM task_templates`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan template uuid: %w", err)
		}
		uuids = append(uuids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}
	return uuids, nil
}

// CreateTemplate inserts a new template row.
func (t *TemplateDB) CreateTemplate(ctx context.Context, tpl *TaskTemplate) error {
	configJSON, err := json.Marshal(tpl.ContainerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal container_config for template %s: %w", tpl.UUID, err)
	}

	query := `
		INSERT INTO task_templates (uuid, container_config, replica, max_sharing_users, ttl_interval, time_limit)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uuid) DO UPDATE SET
			container_config = EXCLUDED.container_config,
			replica = EXCLUDED.replica,
			max_sharing_users = EXCLUDED.max_sharing_users,
			ttl_interval = EXCLUDED.ttl_interval,
			time_limit = EXCLUDED.time_limit
	`
	_, err = t.db.ExecContext(ctx, query, tpl.UUID, configJSON, tpl.Replica, tpl.MaxSharingUsers, tpl.TTLInterval, tpl.TimeLimit)
	if err != nil {
		return fmt.Errorf("failed to create template %s: %w", tpl.UUID, err)
	}
	return nil
}

// DeleteTemplate removes a template row; workspace/task rows cascade.
func (t *TemplateDB) DeleteTemplate(ctx context.Context, templateUUID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM task_templates WHERE uuid = $1`, templateUUID)
	if err != nil {
		return fmt.Errorf("failed to delete template %s: %w", templateUUID, err)
	}
	return nil
}
