// Package kubernetes launches build jobs as batch/v1 Jobs.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/Sid-Lais/cloudara/api/internal/dispatch"
)

const (
	backendName     = "kubernetes"
	deploymentLabel = "cloudara.dev/deployment-id"
	projectLabel    = "cloudara.dev/project-id"
)

// Options configures the Job template.
type Options struct {
	Namespace string
	Image     string
	// TTL is how long finished Jobs are kept before the cluster deletes them.
	TTL time.Duration
}

// Launcher provisions build Jobs inside Kubernetes.
type Launcher struct {
	client kubernetes.Interface
	opts   Options
	logger *slog.Logger
}

// New creates a Kubernetes-backed launcher. It prefers in-cluster configuration
// and falls back to KUBECONFIG when running locally.
func New(opts Options, log *slog.Logger) (*Launcher, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := strings.TrimSpace(os.Getenv("KUBECONFIG"))
		if kubeconfig == "" {
			return nil, fmt.Errorf("create in-cluster config: %w", err)
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("create kubeconfig client: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return NewWithClient(clientset, opts, log)
}

// NewWithClient builds a launcher on an existing clientset.
func NewWithClient(client kubernetes.Interface, opts Options, log *slog.Logger) (*Launcher, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return nil, fmt.Errorf("builder image required")
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Launcher{client: client, opts: opts, logger: log.With("component", "kubernetes_launcher")}, nil
}

// Launch submits the Job and returns as soon as the API server accepts it.
func (l *Launcher) Launch(ctx context.Context, job dispatch.Job) (dispatch.JobHandle, error) {
	created, err := l.client.BatchV1().Jobs(l.opts.Namespace).Create(ctx, l.jobSpec(job), metav1.CreateOptions{})
	if err != nil {
		return dispatch.JobHandle{}, fmt.Errorf("create build job: %w", err)
	}
	return dispatch.JobHandle{ID: created.Name, Backend: backendName}, nil
}

func (l *Launcher) jobSpec(job dispatch.Job) *batchv1.Job {
	labels := map[string]string{
		deploymentLabel:               job.Env[dispatch.EnvDeploymentID],
		projectLabel:                  job.Env[dispatch.EnvProjectID],
		"app.kubernetes.io/name":      "builder",
		"app.kubernetes.io/component": "build",
	}

	spec := batchv1.JobSpec{
		BackoffLimit: int32Ptr(0),
		Template: corev1.PodTemplateSpec{
			ObjectMeta: metav1.ObjectMeta{Labels: labels},
			Spec: corev1.PodSpec{
				RestartPolicy: corev1.RestartPolicyNever,
				Containers: []corev1.Container{{
					Name:            "builder",
					Image:           l.opts.Image,
					ImagePullPolicy: corev1.PullIfNotPresent,
					Env:             envVars(job.Env),
				}},
			},
		},
	}
	if l.opts.TTL > 0 {
		spec.TTLSecondsAfterFinished = int32Ptr(int32(l.opts.TTL / time.Second))
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      job.Name,
			Namespace: l.opts.Namespace,
			Labels:    labels,
		},
		Spec: spec,
	}
}

func envVars(env map[string]string) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func int32Ptr(v int32) *int32 {
	return &v
}
