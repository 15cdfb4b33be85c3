package sandbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/isdmx/kubebox/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Backend:    "kubernetes",
			SharedRoot: "/mnt/shared",
			TimeoutSec: 5,
		},
		Kubernetes: config.KubernetesConfig{
			Namespace:    "sandbox",
			ProjectID:    "demo-project",
			Registry:     "gcr.io",
			Script:       "./executor_script.sh",
			SharedClaim:  "shared-storage",
			CPU:          "500m",
			Memory:       "256Mi",
			RunAsUser:    1000,
			RunAsGroup:   1000,
			BackoffLimit: 4,
			Poll:         config.RetryConfig{Attempts: 5},
			QuickPoll:    config.RetryConfig{Attempts: 3},
			Cleanup:      config.RetryConfig{Attempts: 4},
		},
		Languages: map[string]config.Language{
			"python": {},
			"lua":    {},
			"rust":   {Image: "ghcr.io/acme/rust-runner:1.80"},
		},
	}
}

// fakeCluster is an in-memory Cluster. By default every created job gets one
// succeeded pod whose log is logText, and GetJob reports the job as Complete.
type fakeCluster struct {
	mu sync.Mutex

	createErr error
	logText   string

	// Optional hooks; call numbers are 1-based and counted per job.
	listPods func(jobName string, call int) ([]corev1.Pod, error)
	podLogs  func(podName string, call int) (string, error)
	getJob   func(jobName string, call int) (*batchv1.Job, error)

	deleteJobErr error

	created     []*batchv1.Job
	listCalls   map[string]int
	logCalls    map[string]int
	getCalls    map[string]int
	deletedPods []string
	deletedJobs []string
}

func newFakeCluster(logText string) *fakeCluster {
	return &fakeCluster{
		logText:   logText,
		listCalls: map[string]int{},
		logCalls:  map[string]int{},
		getCalls:  map[string]int{},
	}
}

func (f *fakeCluster) CreateJob(_ context.Context, job *batchv1.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, job)
	return nil
}

func (f *fakeCluster) ListPods(_ context.Context, jobName string) ([]corev1.Pod, error) {
	f.mu.Lock()
	f.listCalls[jobName]++
	call := f.listCalls[jobName]
	hook := f.listPods
	f.mu.Unlock()

	if hook != nil {
		return hook(jobName, call)
	}
	return []corev1.Pod{testPod(jobName+"-abcde", jobName, corev1.PodSucceeded, time.Unix(100, 0))}, nil
}

func (f *fakeCluster) PodLogs(_ context.Context, podName string) (string, error) {
	f.mu.Lock()
	f.logCalls[podName]++
	call := f.logCalls[podName]
	hook := f.podLogs
	f.mu.Unlock()

	if hook != nil {
		return hook(podName, call)
	}
	return f.logText, nil
}

func (f *fakeCluster) DeletePod(_ context.Context, podName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedPods = append(f.deletedPods, podName)
	return nil
}

func (f *fakeCluster) GetJob(_ context.Context, jobName string) (*batchv1.Job, error) {
	f.mu.Lock()
	f.getCalls[jobName]++
	call := f.getCalls[jobName]
	hook := f.getJob
	f.mu.Unlock()

	if hook != nil {
		return hook(jobName, call)
	}
	return testJob(jobName, batchv1.JobComplete), nil
}

func (f *fakeCluster) DeleteJob(_ context.Context, jobName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteJobErr != nil {
		return f.deleteJobErr
	}
	f.deletedJobs = append(f.deletedJobs, jobName)
	return nil
}

func (f *fakeCluster) createdJobs() []*batchv1.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*batchv1.Job(nil), f.created...)
}

func (f *fakeCluster) listCallsFor(jobName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[jobName]
}

func (f *fakeCluster) deletedJobNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedJobs...)
}

func (f *fakeCluster) deletedPodNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletedPods...)
}

func testPod(name, jobName string, phase corev1.PodPhase, created time.Time) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         "sandbox",
			Labels:            map[string]string{JobNameLabel: jobName},
			CreationTimestamp: metav1.NewTime(created),
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func testJob(name string, conditions ...batchv1.JobConditionType) *batchv1.Job {
	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "sandbox"}}
	for _, c := range conditions {
		job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
			Type:   c,
			Status: corev1.ConditionTrue,
		})
	}
	return job
}

// channelSink hands cleanup outcomes to the test.
type channelSink chan CleanupOutcome

func (s channelSink) Record(outcome CleanupOutcome) {
	s <- outcome
}

func (s channelSink) next(t *testing.T) CleanupOutcome {
	t.Helper()
	select {
	case outcome := <-s:
		return outcome
	case <-time.After(5 * time.Second):
		require.FailNow(t, "no cleanup outcome recorded")
		return CleanupOutcome{}
	}
}

func (s channelSink) empty(t *testing.T) {
	t.Helper()
	select {
	case outcome := <-s:
		require.FailNow(t, fmt.Sprintf("unexpected cleanup outcome: %+v", outcome))
	default:
	}
}
