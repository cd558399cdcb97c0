package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplateConfigJSON = `{
	"image": "webshell:latest",
	"shell": "/bin/bash",
	"commands": ["./run.sh"],
	"working_path": "/work",
	"task_script_path": "task",
	"task_initial_file_path": "initial",
	"persistent_volume": {"name": "tpl-pvc", "mount_path": "/workspace"}
}`

func TestGetTemplate_ParsesContainerConfig(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	tplDB := NewTemplateDB(sqlDB)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"container_config", "replica", "max_sharing_users", "ttl_interval", "time_limit"}).
		AddRow(testTemplateConfigJSON, 2, 4, 60, 120)
	mock.ExpectQuery("SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit").
		WithArgs("tpl-1").
		WillReturnRows(rows)

	tpl, err := tplDB.GetTemplate(ctx, "tpl-1")

	assert.NoError(t, err)
	assert.Equal(t, "webshell:latest", tpl.ContainerConfig.Image)
	assert.Equal(t, 2, tpl.Replica)
	assert.Equal(t, 4, tpl.MaxSharingUsers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate_NotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	tplDB := NewTemplateDB(sqlDB)

	mock.ExpectQuery("SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = tplDB.GetTemplate(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTemplate_InvalidConfigJSON(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	tplDB := NewTemplateDB(sqlDB)

	rows := sqlmock.NewRows([]string{"container_config", "replica", "max_sharing_users", "ttl_interval", "time_limit"}).
		AddRow("not json", 1, 1, 60, 120)
	mock.ExpectQuery("SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit").
		WithArgs("tpl-1").
		WillReturnRows(rows)

	_, err = tplDB.GetTemplate(context.Background(), "tpl-1")

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTemplateUUIDs(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	tplDB := NewTemplateDB(sqlDB)

	rows := sqlmock.NewRows([]string{"uuid"}).AddRow("tpl-1").AddRow("tpl-2")
	mock.ExpectQuery("SELECT uuid FROM task_templates").WillReturnRows(rows)

	uuids, err := tplDB.ListTemplateUUIDs(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, []string{"tpl-1", "tpl-2"}, uuids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContainerConfig_Validate_RequiresAllFields(t *testing.T) {
	valid := ContainerConfig{
		Image: "img", Shell: "/bin/sh", Commands: []string{"run"},
		WorkingPath: "/w", TaskScriptPath: "s", TaskInitialFilePath: "i",
	}
	valid.PersistentVolume.Name = "pvc"
	valid.PersistentVolume.MountPath = "/mnt"
	assert.NoError(t, valid.Validate())

	missingImage := valid
	missingImage.Image = ""
	assert.Error(t, missingImage.Validate())

	missingCommands := valid
	missingCommands.Commands = nil
	assert.Error(t, missingCommands.Validate())
}
