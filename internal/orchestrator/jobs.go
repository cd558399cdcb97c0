package orchestrator

import (
	"context"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// LabelTaskExec marks a dispatched job's pod with its owning task uuid.
	LabelTaskExec = "task-exec"
)

// JobSpecInput carries everything CreateJob needs to materialize the Job
// object described in spec §4.4.
type JobSpecInput struct {
	TaskUUID        string
	Image           string
	Command         []string
	TemplatePVC     string
	TemplateMount   string
	UserspacePVC    string
	UserspaceSubPath string
	Username        string
	UserUUID        string
	MemoryLimit     string // empty means no limit
	TimeLimitSecs   int    // GLOBAL_TASK_TIME_LIMIT, used for ActiveDeadlineSeconds
}

// JobName is the deterministic name the spec mandates: task-exec-<uuid>.
func JobName(taskUUID string) string {
	return "task-exec-" + taskUUID
}

// CreateJob materializes a single-container Job: backoff_limit=0,
// active_deadline_seconds=GLOBAL_TASK_TIME_LIMIT, restart policy Never, pod
// label task-exec=<task.uuid>.
func (c *Client) CreateJob(ctx context.Context, in JobSpecInput) error {
	var backoffLimit int32 = 0
	activeDeadline := int64(in.TimeLimitSecs)

	resources := corev1.ResourceRequirements{}
	if in.MemoryLimit != "" {
		qty, err := resource.ParseQuantity(in.MemoryLimit)
		if err != nil {
			return fmt.Errorf("invalid memory_limit %q for task %s: %w", in.MemoryLimit, in.TaskUUID, err)
		}
		resources.Limits = corev1.ResourceList{corev1.ResourceMemory: qty}
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      JobName(in.TaskUUID),
			Namespace: c.Namespace,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          &backoffLimit,
			ActiveDeadlineSeconds: &activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						LabelTaskExec: in.TaskUUID,
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      "task",
							Image:     in.Image,
							Command:   in.Command,
							Resources: resources,
							Env: []corev1.EnvVar{
								{Name: "CLOUD_SCHEDULER_USER", Value: in.Username},
								{Name: "CLOUD_SCHEDULER_USER_UUID", Value: in.UserUUID},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "template", MountPath: in.TemplateMount, ReadOnly: true},
								{
									Name:      "userspace",
									MountPath: "/cloud_scheduler_userspace/",
									ReadOnly:  true,
									SubPath:   in.UserspaceSubPath,
								},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "template",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: in.TemplatePVC,
									ReadOnly:  true,
								},
							},
						},
						{
							Name: "userspace",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: in.UserspacePVC,
									ReadOnly:  true,
								},
							},
						},
					},
				},
			},
		},
	}

	_, err := c.Clientset.BatchV1().Jobs(c.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to create job for task %s: %w", in.TaskUUID, err)
	}
	return nil
}

// DeleteJob deletes a Job with Foreground propagation and a 3s grace
// period, per spec §4.5. 404 is treated as success.
func (c *Client) DeleteJob(ctx context.Context, taskUUID string) error {
	propagation := metav1.DeletePropagationForeground
	grace := int64(3)
	err := c.Clientset.BatchV1().Jobs(c.Namespace).Delete(ctx, JobName(taskUUID), metav1.DeleteOptions{
		PropagationPolicy:  &propagation,
		GracePeriodSeconds: &grace,
	})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete job for task %s: %w", taskUUID, err)
	}
	return nil
}

// ListJobPods lists the pods for a dispatched job, labelled
// task-exec=<taskUUID>.
func (c *Client) ListJobPods(ctx context.Context, taskUUID string) ([]corev1.Pod, error) {
	selector := fmt.Sprintf("%s=%s", LabelTaskExec, taskUUID)
	list, err := c.Clientset.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list job pods for task %s: %w", taskUUID, err)
	}
	return list.Items, nil
}

// GetPodLog reads the full log of a pod's single container.
func (c *Client) GetPodLog(ctx context.Context, podName string) (string, error) {
	req := c.Clientset.CoreV1().Pods(c.Namespace).GetLogs(podName, &corev1.PodLogOptions{})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open log stream for pod %s: %w", podName, err)
	}
	defer stream.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if readErr != nil {
			break
		}
	}
	return string(buf), nil
}
