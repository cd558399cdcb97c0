// Package users provides the controller's side of the UserLookup
// collaboration named in spec §1's Non-goals: the user account model itself
// (registration, auth, quotas) is out of scope, but the controller still
// needs to resolve a user uuid to a numeric id and username to compute unix
// uids and usernames inside pool pods. This package reads that pair of
// columns from the users table the collaborating user-service owns; it
// never writes to it.
package users

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tasksched/controller/internal/controller"
)

// DBLookup implements controller.UserLookup against the shared users table.
type DBLookup struct {
	db *sql.DB
}

// NewDBLookup wraps a database handle already connected to the database the
// user-service's users table lives in.
func NewDBLookup(db *sql.DB) *DBLookup {
	return &DBLookup{db: db}
}

// GetUser resolves a user uuid to its numeric id and username.
func (l *DBLookup) GetUser(ctx context.Context, userUUID string) (*controller.UserInfo, error) {
	info := &controller.UserInfo{UUID: userUUID}
	query := `SELECT id, username FROM users WHERE uuid = $1`
	err := l.db.QueryRowContext(ctx, query, userUUID).Scan(&info.ID, &info.Username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s not found", userUUID)
		}
		return nil, fmt.Errorf("failed to look up user %s: %w", userUUID, err)
	}
	return info, nil
}
