package orchestrator

import (
	"bytes"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
)

// Exec runs a shell command inside a pod's named container as root and
// returns combined stdout/stderr. Per spec §4.2 and §9, callers compose
// idempotent, best-effort scripts prefixed with "set +e" — this function
// does not itself interpret failure beyond transport/API errors.
func (c *Client) Exec(ctx context.Context, podName, containerName, shellCommand string) (string, error) {
	if c.RESTConfig == nil {
		return "", fmt.Errorf("exec requires a REST config, client was built without one")
	}

	req := c.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(podName).
		Namespace(c.Namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: containerName,
		Command:   []string{"sh", "-c", shellCommand},
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.RESTConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("failed to build exec executor for pod %s: %w", podName, err)
	}

	var stdout, stderr bytes.Buffer
	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return stdout.String() + stderr.String(), fmt.Errorf("exec in pod %s failed: %w", podName, err)
	}
	return stdout.String(), nil
}
