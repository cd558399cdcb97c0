// Package orchestrator wraps the Kubernetes typed clientset with the
// operations the controller's subsystems need: pod pool management, job
// dispatch, deployment/service/ingress lifecycle for VNC workspaces, and
// exec-based provisioning. The orchestrator is the system of record for pool
// member identity, labels, and occupancy (spec §5); this package never
// caches that state.
package orchestrator

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Client wraps a typed Kubernetes clientset plus the REST config needed to
// build exec executors.
type Client struct {
	Clientset  kubernetes.Interface
	RESTConfig *rest.Config
	Namespace  string
}

// NewClient builds a Client from the in-cluster or kubeconfig-resolved REST
// config, matching the configuration loading the teacher's cmd/main.go does
// for its dynamic/typed clients.
func NewClient(restConfig *rest.Config, namespace string) (*Client, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes clientset: %w", err)
	}
	return &Client{Clientset: clientset, RESTConfig: restConfig, Namespace: namespace}, nil
}

// NewClientFromClientset wraps an existing clientset (e.g. a fake clientset
// in tests) without requiring a REST config; exec operations are unavailable
// on a Client built this way.
func NewClientFromClientset(clientset kubernetes.Interface, namespace string) *Client {
	return &Client{Clientset: clientset, Namespace: namespace}
}

// IsNotFound reports whether err represents a 404 from the orchestrator API,
// per the error taxonomy in spec §7: not-found is "already gone", not a
// failure.
func IsNotFound(err error) bool {
	return errors.IsNotFound(err)
}

// IsConflict reports whether err represents a 409 optimistic-concurrency
// conflict, treated as success for idempotent "ensure" operations and as a
// benign race for label patches (spec §9).
func IsConflict(err error) bool {
	return errors.IsConflict(err)
}

// IsAlreadyExists reports whether err represents a 409 create conflict.
func IsAlreadyExists(err error) bool {
	return errors.IsAlreadyExists(err)
}
