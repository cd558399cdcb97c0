package users

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestDBLookup_GetUser_Found(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(`SELECT id, username FROM users WHERE uuid = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(42, "alice"))

	lookup := NewDBLookup(sqlDB)
	info, err := lookup.GetUser(context.Background(), "user-1")

	require.NoError(t, err)
	require.Equal(t, 42, info.ID)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, "user-1", info.UUID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLookup_GetUser_NotFound(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(`SELECT id, username FROM users WHERE uuid = \$1`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	lookup := NewDBLookup(sqlDB)
	_, err = lookup.GetUser(context.Background(), "ghost")

	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
