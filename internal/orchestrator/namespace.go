package orchestrator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

// EnsureNamespace creates the controller's namespace if it does not already
// exist. A 409 (already exists) is treated as success.
func (c *Client) EnsureNamespace(ctx context.Context) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: c.Namespace},
	}
	_, err := c.Clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to ensure namespace %s: %w", c.Namespace, err)
	}
	return nil
}

// EnsureUserspacePVC creates the global, shared user-space PVC (ReadWriteMany,
// 1024Gi, the configured storage class) if it does not already exist.
func (c *Client) EnsureUserspacePVC(ctx context.Context, name, storageClassName string) error {
	storageQty, err := resource.ParseQuantity("1024Gi")
	if err != nil {
		return fmt.Errorf("failed to parse userspace PVC size: %w", err)
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.Namespace,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
			StorageClassName: &storageClassName,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: storageQty,
				},
			},
		},
	}

	_, err = c.Clientset.CoreV1().PersistentVolumeClaims(c.Namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to ensure userspace PVC %s: %w", name, err)
	}
	return nil
}

// GetUserspacePVC verifies the global user-space PVC is readable; the Job
// Dispatcher bootstrap fails the task if this does not succeed.
func (c *Client) GetUserspacePVC(ctx context.Context, name string) (*corev1.PersistentVolumeClaim, error) {
	pvc, err := c.Clientset.CoreV1().PersistentVolumeClaims(c.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get userspace PVC %s: %w", name, err)
	}
	return pvc, nil
}
