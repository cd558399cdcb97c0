package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestCreateVNCDeployment_SingleReplica(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	err := c.CreateVNCDeployment(ctx, VNCDeploymentInput{
		Name:     "vnc-abc-def",
		Image:    "vnc:latest",
		Port:     5901,
		WSPort:   6901,
		Password: "secret",
		Host:     "vnc.local",
		URLPath:  "/vnc/tpl-1/user-1",
	})
	require.NoError(t, err)

	d, err := c.GetVNCDeployment(ctx, "vnc-abc-def")
	require.NoError(t, err)
	require.NotNil(t, d.Spec.Replicas)
	assert.EqualValues(t, 1, *d.Spec.Replicas)
	assert.Equal(t, "secret", d.Spec.Template.Spec.Containers[0].Env[0].Value)
}

func TestDeleteVNCDeployment_NotFoundIsSuccess(t *testing.T) {
	c := newTestClient()
	assert.NoError(t, c.DeleteVNCDeployment(context.Background(), "missing"))
}

func TestEnsureVNCIngress_FallsBackToUpdateOnConflict(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.EnsureVNCIngress(ctx, "vnc-ingress-1", "svc-1", "/vnc/tpl-1/user-1", 6901, "vnc.local", ""))
	require.NoError(t, c.EnsureVNCIngress(ctx, "vnc-ingress-1", "svc-1", "/vnc/tpl-1/user-2", 6901, "vnc.local", ""))

	ing, err := c.Clientset.NetworkingV1().Ingresses(c.Namespace).Get(ctx, "vnc-ingress-1", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, ing.Spec.Rules, 1)
	paths := ing.Spec.Rules[0].HTTP.Paths
	require.Len(t, paths, 2, "second user's lease must not destroy the first user's path")
	assert.Equal(t, "/vnc/tpl-1/user-1", paths[0].Path)
	assert.Equal(t, "/vnc/tpl-1/user-2", paths[1].Path)
}

func TestEnsureVNCIngress_ReLeaseUpdatesSamePathInPlace(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()

	require.NoError(t, c.EnsureVNCIngress(ctx, "vnc-ingress-2", "svc-1", "/vnc/tpl-2/user-1", 6901, "vnc.local", ""))
	require.NoError(t, c.EnsureVNCIngress(ctx, "vnc-ingress-2", "svc-2", "/vnc/tpl-2/user-1", 6902, "vnc.local", ""))

	ing, err := c.Clientset.NetworkingV1().Ingresses(c.Namespace).Get(ctx, "vnc-ingress-2", metav1.GetOptions{})
	require.NoError(t, err)
	paths := ing.Spec.Rules[0].HTTP.Paths
	require.Len(t, paths, 1)
	assert.Equal(t, "svc-2", paths[0].Backend.Service.Name)
}

func TestEnsureVNCService_Idempotent(t *testing.T) {
	c := newTestClient()
	ctx := context.Background()
	require.NoError(t, c.EnsureVNCService(ctx, "vnc-svc-1", 6901))
	require.NoError(t, c.EnsureVNCService(ctx, "vnc-svc-1", 6901))
}
