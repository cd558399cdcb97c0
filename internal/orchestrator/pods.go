package orchestrator

import (
	"context"
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

const (
	// LabelTask marks a pool pod with its owning template uuid.
	LabelTask = "task"
	// LabelOccupied counts active leases against a pool pod.
	LabelOccupied = "occupied"
	// deletedTaskSuffix is appended to LabelTask once a pod has been
	// relabelled out of its template's selector, per spec §4.1 step 1.
	deletedTaskSuffix = "_deleted"
)

// PoolPod is a pool member pod together with the fields the Pool Reconciler
// and Lease Manager classify on.
type PoolPod struct {
	Name              string
	Phase             corev1.PodPhase
	Occupied          int
	HasDeletionStamp  bool
	ResourceVersion   string
}

// ListPoolPods lists pods labelled task=<templateUUID>.
func (c *Client) ListPoolPods(ctx context.Context, templateUUID string) ([]PoolPod, error) {
	selector := fmt.Sprintf("%s=%s", LabelTask, templateUUID)
	list, err := c.Clientset.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pool pods for template %s: %w", templateUUID, err)
	}

	pods := make([]PoolPod, 0, len(list.Items))
	for _, p := range list.Items {
		occupied, _ := strconv.Atoi(p.Labels[LabelOccupied])
		pods = append(pods, PoolPod{
			Name:             p.Name,
			Phase:            p.Status.Phase,
			Occupied:         occupied,
			HasDeletionStamp: p.DeletionTimestamp != nil,
			ResourceVersion:  p.ResourceVersion,
		})
	}
	return pods, nil
}

// GetPod reads a single pod by name.
func (c *Client) GetPod(ctx context.Context, name string) (*corev1.Pod, error) {
	pod, err := c.Clientset.CoreV1().Pods(c.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s: %w", name, err)
	}
	return pod, nil
}

// CreatePoolPod creates a new pool member pod: one webshell container
// mounting the template's PVC read-only at mountPath and the global
// user-space PVC at /cloud_scheduler_userspace/, labelled
// task=<templateUUID>, occupied=0, restart policy Always.
func (c *Client) CreatePoolPod(ctx context.Context, templateUUID, name, image, templatePVC, mountPath, userspacePVC string) error {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.Namespace,
			Labels: map[string]string{
				LabelTask:     templateUUID,
				LabelOccupied: "0",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyAlways,
			Containers: []corev1.Container{
				{
					Name:  "webshell",
					Image: image,
					VolumeMounts: []corev1.VolumeMount{
						{Name: "template", MountPath: mountPath, ReadOnly: true},
						{Name: "userspace", MountPath: "/cloud_scheduler_userspace/"},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "template",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: templatePVC,
							ReadOnly:  true,
						},
					},
				},
				{
					Name: "userspace",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: userspacePVC,
						},
					},
				},
			},
		},
	}

	_, err := c.Clientset.CoreV1().Pods(c.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to create pool pod %s for template %s: %w", name, templateUUID, err)
	}
	return nil
}

// DeletePod deletes a pod; 404 is treated as success.
func (c *Client) DeletePod(ctx context.Context, name string) error {
	err := c.Clientset.CoreV1().Pods(c.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return nil
}

// RelabelPodDeleted renames a pod's task label to task=<uuid>_deleted so it
// no longer matches the template's selector, per spec §4.1 step 1.
func (c *Client) RelabelPodDeleted(ctx context.Context, name, templateUUID string) error {
	patch := []byte(fmt.Sprintf(`{"metadata":{"labels":{"%s":"%s%s"}}}`, LabelTask, templateUUID, deletedTaskSuffix))
	_, err := c.Clientset.CoreV1().Pods(c.Namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to relabel pod %s as deleted: %w", name, err)
	}
	return nil
}

// PatchOccupied sets a pod's occupied label to newValue, using the pod's
// resourceVersion for optimistic concurrency. A 409 conflict is returned
// unwrapped so callers can distinguish it via IsConflict and treat it as
// benign per spec §9.
func (c *Client) PatchOccupied(ctx context.Context, name string, newValue int, resourceVersion string) error {
	patch := []byte(fmt.Sprintf(`{"metadata":{"labels":{"%s":"%d"},"resourceVersion":"%s"}}`, LabelOccupied, newValue, resourceVersion))
	_, err := c.Clientset.CoreV1().Pods(c.Namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return err
	}
	return nil
}
