package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func newTestClient() *Client {
	cs := fake.NewSimpleClientset()
	return NewClientFromClientset(cs, "test-ns")
}

func TestCreatePoolPod_SetsLabelsAndVolumes(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	err := c.CreatePoolPod(ctx, "tpl-1", "pool-abc123", "webshell:latest", "tpl-pvc", "/workspace", "userspace-pvc")
	require.NoError(t, err)

	pod, err := c.GetPod(ctx, "pool-abc123")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1", pod.Labels[LabelTask])
	assert.Equal(t, "0", pod.Labels[LabelOccupied])
	assert.Equal(t, corev1.RestartPolicyAlways, pod.Spec.RestartPolicy)
	assert.Len(t, pod.Spec.Volumes, 2)
}

func TestListPoolPods_FiltersByTemplateLabel(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.CreatePoolPod(ctx, "tpl-1", "pod-a", "img", "pvc", "/w", "uspvc"))
	require.NoError(t, c.CreatePoolPod(ctx, "tpl-2", "pod-b", "img", "pvc", "/w", "uspvc"))

	pods, err := c.ListPoolPods(ctx, "tpl-1")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "pod-a", pods[0].Name)
}

func TestPatchOccupied_UpdatesLabel(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.CreatePoolPod(ctx, "tpl-1", "pod-a", "img", "pvc", "/w", "uspvc"))

	pod, err := c.GetPod(ctx, "pod-a")
	require.NoError(t, err)

	require.NoError(t, c.PatchOccupied(ctx, "pod-a", 3, pod.ResourceVersion))

	pods, err := c.ListPoolPods(ctx, "tpl-1")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, 3, pods[0].Occupied)
}

func TestDeletePod_NotFoundIsSuccess(t *testing.T) {
	c := newTestClient()
	err := c.DeletePod(context.Background(), "does-not-exist")
	assert.NoError(t, err)
}

func TestRelabelPodDeleted_ExcludesFromSelector(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.CreatePoolPod(ctx, "tpl-1", "pod-a", "img", "pvc", "/w", "uspvc"))

	require.NoError(t, c.RelabelPodDeleted(ctx, "pod-a", "tpl-1"))

	pods, err := c.ListPoolPods(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Len(t, pods, 0)

	pod, err := c.GetPod(ctx, "pod-a")
	require.NoError(t, err)
	assert.Equal(t, "tpl-1_deleted", pod.Labels[LabelTask])
}

func TestEnsureNamespace_Idempotent(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.EnsureNamespace(ctx))
	require.NoError(t, c.EnsureNamespace(ctx))
}

func TestEnsureUserspacePVC_CreatesReadWriteMany(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.EnsureUserspacePVC(ctx, "userspace", "ceph-rwx"))

	pvc, err := c.GetUserspacePVC(ctx, "userspace")
	require.NoError(t, err)
	require.Len(t, pvc.Spec.AccessModes, 1)
	assert.Equal(t, corev1.ReadWriteMany, pvc.Spec.AccessModes[0])
}
