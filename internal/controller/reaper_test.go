package controller

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/tasksched/controller/internal/db"
)

func TestReleaseWorkspace_PodAlreadyGone_StillClearsRow(t *testing.T) {
	e, mock := newTestExecutor(t)
	ws := &db.Workspace{TemplateRef: "tpl-1", UserRef: "user-1", PodName: "pool-gone", ExpireTime: 1}

	mock.ExpectExec(`UPDATE workspaces SET pod_name = ''`).
		WithArgs("tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := e.releaseWorkspace(context.Background(), ws)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseWorkspace_LivePod_DecrementsOccupied(t *testing.T) {
	e, mock := newTestExecutor(t)
	ctx := context.Background()
	ws := &db.Workspace{TemplateRef: "tpl-1", UserRef: "user-1", PodName: "pool-a", ExpireTime: 1}

	_, err := e.Orchestrator.Clientset.CoreV1().Pods("test-ns").Create(ctx, &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "pool-a",
			Labels: map[string]string{"occupied": "2"},
		},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	mock.ExpectExec(`UPDATE workspaces SET pod_name = ''`).
		WithArgs("tpl-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = e.releaseWorkspace(ctx, ws)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	pod, err := e.Orchestrator.GetPod(ctx, "pool-a")
	require.NoError(t, err)
	require.Equal(t, "1", pod.Labels["occupied"])
}

func TestDecrementClamped_PureFunction(t *testing.T) {
	require.Equal(t, 1, decrementClamped("2"))
	require.Equal(t, 0, decrementClamped("1"))
	require.Equal(t, 0, decrementClamped("0"))
	require.Equal(t, 0, decrementClamped(""))
}
