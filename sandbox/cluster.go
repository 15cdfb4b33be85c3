package sandbox

import (
	"context"
	"errors"
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

// JobNameLabel is the label the job controller puts on every pod it creates.
const JobNameLabel = "job-name"

// ErrJobNotFound is returned by GetJob when the job no longer exists.
var ErrJobNotFound = errors.New("job not found")

// Cluster is the subset of the orchestrator API the dispatcher uses.
// Deletes are idempotent: deleting an object that is already gone is not an error.
type Cluster interface {
	CreateJob(ctx context.Context, job *batchv1.Job) error
	ListPods(ctx context.Context, jobName string) ([]corev1.Pod, error)
	PodLogs(ctx context.Context, podName string) (string, error)
	DeletePod(ctx context.Context, podName string) error
	GetJob(ctx context.Context, jobName string) (*batchv1.Job, error)
	DeleteJob(ctx context.Context, jobName string) error
}

// NewKubeClient builds a clientset from a kubeconfig file, or from the in-cluster
// service account when kubeconfig is empty.
func NewKubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeconfig == "" {
		restConfig, err = rest.InClusterConfig()
	} else {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes client config: %w", err)
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}

// KubeCluster implements Cluster on a client-go clientset within one namespace.
type KubeCluster struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubeCluster creates a KubeCluster. The clientset may be shared across dispatches.
func NewKubeCluster(client kubernetes.Interface, namespace string) *KubeCluster {
	return &KubeCluster{client: client, namespace: namespace}
}

// CreateJob submits the job. The name is pre-generated, so AlreadyExists means an
// earlier attempt of the same submission went through.
func (k *KubeCluster) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := k.client.BatchV1().Jobs(k.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err == nil || apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func (k *KubeCluster) ListPods(ctx context.Context, jobName string) ([]corev1.Pod, error) {
	selector := labels.Set{JobNameLabel: jobName}.AsSelector().String()
	list, err := k.client.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (k *KubeCluster) PodLogs(ctx context.Context, podName string) (string, error) {
	raw, err := k.client.CoreV1().Pods(k.namespace).
		GetLogs(podName, &corev1.PodLogOptions{Container: containerName}).
		DoRaw(ctx)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (k *KubeCluster) DeletePod(ctx context.Context, podName string) error {
	err := k.client.CoreV1().Pods(k.namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

func (k *KubeCluster) GetJob(ctx context.Context, jobName string) (*batchv1.Job, error) {
	job, err := k.client.BatchV1().Jobs(k.namespace).Get(ctx, jobName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// DeleteJob removes the job and lets the garbage collector take its pods.
func (k *KubeCluster) DeleteJob(ctx context.Context, jobName string) error {
	err := k.client.BatchV1().Jobs(k.namespace).Delete(ctx, jobName, metav1.DeleteOptions{
		PropagationPolicy: ptr.To(metav1.DeletePropagationBackground),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}
