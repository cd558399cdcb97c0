package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/tasksched/controller/internal/config"
	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/orchestrator"
)

var errUserNotFound = errors.New("user not found")

// fakeUsers is a fixed in-memory UserLookup for tests.
type fakeUsers struct {
	byUUID map[string]*UserInfo
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byUUID: map[string]*UserInfo{
		"user-1": {UUID: "user-1", ID: 42, Username: "alice"},
	}}
}

func (f *fakeUsers) GetUser(ctx context.Context, userUUID string) (*UserInfo, error) {
	u, ok := f.byUUID[userUUID]
	if !ok {
		return nil, errUserNotFound
	}
	return u, nil
}

// newTestExecutor builds an Executor wired to a sqlmock database and a fake
// Kubernetes clientset, matching the fixture shape used across this
// package's tests.
func newTestExecutor(t *testing.T) (*Executor, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	database := db.NewDatabaseForTesting(sqlDB)
	orch := orchestrator.NewClientFromClientset(fake.NewSimpleClientset(), "test-ns")
	pub, err := events.NewPublisher(events.Config{})
	require.NoError(t, err)

	e := NewExecutor(config.Config{
		UserSpacePodTimeout: 1800,
		UserspaceName:       "userspace",
		GlobalTaskTimeLimit: 3600,
	}, database, orch, pub, newFakeUsers())
	return e, mock
}
