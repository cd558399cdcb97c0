package orchestrator

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	netv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const labelVNCPod = "vnc-pod"

// VNCDeploymentInput carries everything needed to materialize a per-user
// VNC Deployment+Service+Ingress triple (spec §3 VNCWorkspace, SPEC_FULL §5).
type VNCDeploymentInput struct {
	Name      string // deterministic per (template, user)
	Image     string
	Port      int32
	WSPort    int32
	Password  string
	Host      string
	URLPath   string
	TLSSecret string // empty disables TLS

	// Volume wiring, mirroring CreatePoolPod: the template's read-only PVC
	// and the shared userspace PVC so the VNC session sees the same
	// filesystem a pool pod or dispatched job would.
	TemplatePVC   string
	TemplateMount string
	UserspacePVC  string
}

// CreateVNCDeployment creates a single-replica Deployment running the
// template's VNC image with the generated password injected as an env var,
// mounting the template PVC read-only and the shared userspace PVC exactly
// as CreatePoolPod does for pool pods.
func (c *Client) CreateVNCDeployment(ctx context.Context, in VNCDeploymentInput) error {
	var replicas int32 = 1
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      in.Name,
			Namespace: c.Namespace,
			Labels:    map[string]string{labelVNCPod: in.Name},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelVNCPod: in.Name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{labelVNCPod: in.Name}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  "vnc",
							Image: in.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: in.Port},
								{ContainerPort: in.WSPort},
							},
							Env: []corev1.EnvVar{
								{Name: "VNC_PASSWORD", Value: in.Password},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "template", MountPath: in.TemplateMount, ReadOnly: true},
								{Name: "userspace", MountPath: "/cloud_scheduler_userspace/"},
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
								},
							},
						},
					},
				},
			},
		},
	}

	_, err := c.Clientset.AppsV1().Deployments(c.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to create vnc deployment %s: %w", in.Name, err)
	}
	return nil
}

// GetVNCPod returns the running pod backing a VNC deployment, selected by
// its vnc-pod label, so callers can Exec into it for provisioning. Returns
// an error satisfying IsNotFound when the deployment has no pod yet.
func (c *Client) GetVNCPod(ctx context.Context, deploymentName string) (*corev1.Pod, error) {
	selector := fmt.Sprintf("%s=%s", labelVNCPod, deploymentName)
	list, err := c.Clientset.CoreV1().Pods(c.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list vnc pods for deployment %s: %w", deploymentName, err)
	}
	for i := range list.Items {
		if list.Items[i].Status.Phase == corev1.PodRunning {
			return &list.Items[i], nil
		}
	}
	if len(list.Items) > 0 {
		return &list.Items[0], nil
	}
	return nil, apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, deploymentName)
}

// DeleteVNCDeployment deletes a VNC deployment; 404 is success.
func (c *Client) DeleteVNCDeployment(ctx context.Context, name string) error {
	err := c.Clientset.AppsV1().Deployments(c.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete vnc deployment %s: %w", name, err)
	}
	return nil
}

// GetVNCDeployment reads a VNC deployment by name.
func (c *Client) GetVNCDeployment(ctx context.Context, name string) (*appsv1.Deployment, error) {
	d, err := c.Clientset.AppsV1().Deployments(c.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get vnc deployment %s: %w", name, err)
	}
	return d, nil
}

// EnsureVNCService creates a ClusterIP service fronting the VNC deployment's
// websocket port. A 409 (already exists) is treated as success — the
// service is stable across re-lease cycles.
func (c *Client) EnsureVNCService(ctx context.Context, name string, wsPort int32) error {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.Namespace,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{labelVNCPod: name},
			Ports: []corev1.ServicePort{
				{Name: "ws", Port: wsPort, TargetPort: intstr.FromInt32(wsPort)},
			},
		},
	}
	_, err := c.Clientset.CoreV1().Services(c.Namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("failed to ensure vnc service %s: %w", name, err)
	}
	return nil
}

// EnsureVNCIngress creates, or merges a path into, the per-template ingress
// routing /vnc/<template_uuid>/<user_uuid> to the VNC service, annotated
// with the long-lived proxy timeouts VNC sessions require. The ingress is
// keyed per-template but carries one path per user sharing that template's
// pool, so updating it must upsert this user's path rather than replace the
// rule set wholesale — otherwise the most recently leased user would destroy
// every other user's route.
func (c *Client) EnsureVNCIngress(ctx context.Context, ingressName, serviceName, urlPath string, wsPort int32, host, tlsSecret string) error {
	pathType := netv1.PathTypePrefix
	annotations := map[string]string{
		"nginx.ingress.kubernetes.io/proxy-read-timeout": "86400",
		"nginx.ingress.kubernetes.io/proxy-send-timeout": "86400",
	}

	path := netv1.HTTPIngressPath{
		Path:     urlPath,
		PathType: &pathType,
		Backend: netv1.IngressBackend{
			Service: &netv1.IngressServiceBackend{
				Name: serviceName,
				Port: netv1.ServiceBackendPort{Number: wsPort},
			},
		},
	}

	ingress := &netv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        ingressName,
			Namespace:   c.Namespace,
			Annotations: annotations,
		},
		Spec: netv1.IngressSpec{
			Rules: []netv1.IngressRule{{
				Host: host,
				IngressRuleValue: netv1.IngressRuleValue{
					HTTP: &netv1.HTTPIngressRuleValue{Paths: []netv1.HTTPIngressPath{path}},
				},
			}},
		},
	}

	if tlsSecret != "" {
		ingress.Spec.TLS = []netv1.IngressTLS{
			{Hosts: []string{host}, SecretName: tlsSecret},
		}
	}

	_, err := c.Clientset.NetworkingV1().Ingresses(c.Namespace).Create(ctx, ingress, metav1.CreateOptions{})
	if err == nil {
		return nil
	}
	if !IsAlreadyExists(err) {
		return fmt.Errorf("failed to create vnc ingress %s: %w", ingressName, err)
	}

	existing, err := c.Clientset.NetworkingV1().Ingresses(c.Namespace).Get(ctx, ingressName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to read existing vnc ingress %s: %w", ingressName, err)
	}
	upsertIngressPath(existing, host, path)
	if tlsSecret != "" {
		existing.Spec.TLS = ingress.Spec.TLS
	}

	if _, err := c.Clientset.NetworkingV1().Ingresses(c.Namespace).Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update vnc ingress %s: %w", ingressName, err)
	}
	return nil
}

// upsertIngressPath adds path to the rule matching host, replacing any
// existing path with the same Path value, or creates the rule if it's
// missing (a template's ingress otherwise starts empty). Other users' paths
// within the rule are left untouched.
func upsertIngressPath(ing *netv1.Ingress, host string, path netv1.HTTPIngressPath) {
	for i := range ing.Spec.Rules {
		rule := &ing.Spec.Rules[i]
		if rule.Host != host {
			continue
		}
		if rule.HTTP == nil {
			rule.HTTP = &netv1.HTTPIngressRuleValue{}
		}
		for j := range rule.HTTP.Paths {
			if rule.HTTP.Paths[j].Path == path.Path {
				rule.HTTP.Paths[j] = path
				return
			}
		}
		rule.HTTP.Paths = append(rule.HTTP.Paths, path)
		return
	}
	ing.Spec.Rules = append(ing.Spec.Rules, netv1.IngressRule{
		Host: host,
		IngressRuleValue: netv1.IngressRuleValue{
			HTTP: &netv1.HTTPIngressRuleValue{Paths: []netv1.HTTPIngressPath{path}},
		},
	})
}
