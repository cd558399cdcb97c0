package controller

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const testContainerConfigJSON = `{
	"image": "webshell:latest",
	"shell": "/bin/bash",
	"commands": ["./run.sh"],
	"working_path": "/work",
	"task_script_path": "task",
	"task_initial_file_path": "initial",
	"persistent_volume": {"name": "tpl-pvc", "mount_path": "/workspace"}
}`

func expectTemplateLookup(mock sqlmock.Sqlmock, templateUUID string, maxSharing int) {
	rows := sqlmock.NewRows([]string{"container_config", "replica", "max_sharing_users", "ttl_interval", "time_limit"}).
		AddRow(testContainerConfigJSON, 1, maxSharing, 60, 120)
	mock.ExpectQuery(`SELECT container_config, replica, max_sharing_users, ttl_interval, time_limit`).
		WithArgs(templateUUID).
		WillReturnRows(rows)
}

func TestLease_NoExistingWorkspace_ChoosesUsablePoolPod(t *testing.T) {
	e, mock := newTestExecutor(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT pod_name, expire_time FROM workspaces`).
		WithArgs("tpl-1", "user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO workspaces`).
		WithArgs("tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT pod_name, expire_time FROM workspaces`).
		WithArgs("tpl-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"pod_name", "expire_time"}).AddRow("", 0))

	expectTemplateLookup(mock, "tpl-1", 2)

	_, err := e.Orchestrator.Clientset.CoreV1().Pods("test-ns").Create(ctx, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "pool-abc",
			Labels: map[string]string{"task": "tpl-1", "occupied": "0"},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE workspaces SET pod_name`).
		WithArgs("pool-abc", sqlmock.AnyArg(), "tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	podName, err := e.Lease(ctx, "tpl-1", "user-1", LeaseOptions{})
	require.NoError(t, err)
	require.Equal(t, "pool-abc", podName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_NoCapacity_ReturnsEmptyNoError(t *testing.T) {
	e, mock := newTestExecutor(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT pod_name, expire_time FROM workspaces`).
		WithArgs("tpl-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"pod_name", "expire_time"}).AddRow("", 0))

	expectTemplateLookup(mock, "tpl-1", 1)

	podName, err := e.Lease(ctx, "tpl-1", "user-1", LeaseOptions{})
	require.NoError(t, err)
	require.Empty(t, podName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_AlreadyLeasedRunningPod_RefreshesTTL(t *testing.T) {
	e, mock := newTestExecutor(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT pod_name, expire_time FROM workspaces`).
		WithArgs("tpl-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"pod_name", "expire_time"}).AddRow("pool-existing", 9999999999))

	_, err := e.Orchestrator.Clientset.CoreV1().Pods("test-ns").Create(ctx, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "pool-existing"},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE workspaces SET expire_time`).
		WithArgs(sqlmock.AnyArg(), "tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	podName, err := e.Lease(ctx, "tpl-1", "user-1", LeaseOptions{})
	require.NoError(t, err)
	require.Equal(t, "pool-existing", podName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLease_UnknownUser_ReturnsError(t *testing.T) {
	e, _ := newTestExecutor(t)
	_, err := e.Lease(context.Background(), "tpl-1", "no-such-user", LeaseOptions{})
	require.Error(t, err)
}
