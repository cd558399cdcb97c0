package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateVNCWorkspace_Existing(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	vwDB := NewVNCWorkspaceDB(sqlDB)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"pod_name", "url_path", "vnc_password", "expire_time"}).
		AddRow("vnc-1", "/vnc/tpl-1/user-1", "pw", int64(1000))
	mock.ExpectQuery("SELECT pod_name, url_path, vnc_password, expire_time FROM vnc_workspaces").
		WithArgs("tpl-1", "user-1").
		WillReturnRows(rows)

	vw, created, err := vwDB.GetOrCreateVNCWorkspace(ctx, "tpl-1", "user-1")

	assert.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "vnc-1", vw.PodName)
	assert.Equal(t, "/vnc/tpl-1/user-1", vw.URLPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateVNCWorkspace_Created(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	vwDB := NewVNCWorkspaceDB(sqlDB)
	ctx := context.Background()

	mock.ExpectQuery("SELECT pod_name, url_path, vnc_password, expire_time FROM vnc_workspaces").
		WithArgs("tpl-1", "user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO vnc_workspaces").
		WithArgs("tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	rows := sqlmock.NewRows([]string{"pod_name", "url_path", "vnc_password", "expire_time"}).
		AddRow("", "", "", int64(0))
	mock.ExpectQuery("SELECT pod_name, url_path, vnc_password, expire_time FROM vnc_workspaces").
		WithArgs("tpl-1", "user-1").
		WillReturnRows(rows)

	vw, created, err := vwDB.GetOrCreateVNCWorkspace(ctx, "tpl-1", "user-1")

	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "", vw.PodName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueVNCWorkspaces_OrderedByExpireTime(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	vwDB := NewVNCWorkspaceDB(sqlDB)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"template_ref", "user_ref", "pod_name", "url_path", "vnc_password", "expire_time"}).
		AddRow("tpl-1", "user-1", "vnc-a", "/vnc/tpl-1/user-1", "pw1", int64(100)).
		AddRow("tpl-1", "user-2", "vnc-b", "/vnc/tpl-1/user-2", "pw2", int64(200))
	mock.ExpectQuery("SELECT (.+) FROM vnc_workspaces").
		WithArgs(int64(500)).
		WillReturnRows(rows)

	due, err := vwDB.ListDueVNCWorkspaces(ctx, 500)

	assert.NoError(t, err)
	assert.Len(t, due, 2)
	assert.Equal(t, "vnc-a", due[0].PodName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseVNCWorkspace_ClearsPodAndURL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	vwDB := NewVNCWorkspaceDB(sqlDB)

	mock.ExpectExec("UPDATE vnc_workspaces SET pod_name = '', url_path = ''").
		WithArgs("tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = vwDB.ReleaseVNCWorkspace(context.Background(), "tpl-1", "user-1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
