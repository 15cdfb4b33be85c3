package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
)

func newTestExecutor(t *testing.T, cluster *fakeCluster, sink CleanupSink, opts ...KubernetesExecutorOption) *KubernetesExecutor {
	t.Helper()
	opts = append(opts, WithCleanupSink(sink))
	executor, err := NewKubernetesExecutor(zaptest.NewLogger(t), testConfig(), cluster, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, executor.Shutdown(context.Background()))
	})
	return executor
}

func TestKubernetesExecutorExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("PythonHelloWorld", func(t *testing.T) {
		cluster := newFakeCluster("hi\n")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		outcome, err := executor.Execute(ctx, ExecutionRequest{
			Language:        "python",
			Code:            `print("hi")`,
			OutputExtension: ".txt",
		})
		require.NoError(t, err)
		assert.Equal(t, "hi", outcome.Output)
		assert.Empty(t, outcome.ErrorText)

		jobs := cluster.createdJobs()
		require.Len(t, jobs, 1)
		jobName := jobs[0].Name
		id := strings.TrimPrefix(jobName, "job-")
		assert.Equal(t, "/mnt/shared/output/output_"+id+".txt", outcome.OutputArtifactPath)
		assert.Empty(t, outcome.OutputArtifactContent)

		cleanup := sink.next(t)
		assert.Equal(t, jobName, cleanup.JobName)
		assert.Equal(t, CleanupDeleted, cleanup.Status)
		assert.Equal(t, []string{jobName}, cluster.deletedJobNames())
	})

	t.Run("UnsupportedLanguageCreatesNothing", func(t *testing.T) {
		cluster := newFakeCluster("")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		_, err := executor.Execute(ctx, ExecutionRequest{Language: "ruby", Code: "puts 1", OutputExtension: ".txt"})
		require.ErrorIs(t, err, ErrUnsupportedLanguage)
		assert.Empty(t, cluster.createdJobs())

		require.NoError(t, executor.Shutdown(ctx))
		sink.empty(t)
	})

	t.Run("GuestErrorIsAnOutcome", func(t *testing.T) {
		cluster := newFakeCluster("EXECUTOR_ERROR division by zero")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		outcome, err := executor.Execute(ctx, ExecutionRequest{Language: "python", Code: "1/0", OutputExtension: ".txt"})
		require.NoError(t, err)
		assert.Equal(t, ExecutionOutcome{ErrorText: "division by zero"}, outcome)
		assert.Equal(t, CleanupDeleted, sink.next(t).Status)
	})

	t.Run("BareSentinelIsAnError", func(t *testing.T) {
		cluster := newFakeCluster("EXECUTOR_ERROR\n")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		outcome, err := executor.Execute(ctx, ExecutionRequest{Language: "python", Code: "exit(1)", OutputExtension: ".txt"})
		require.NoError(t, err)
		assert.Empty(t, outcome.Output)
		assert.Equal(t, DefaultErrorText, outcome.ErrorText)
		assert.Empty(t, outcome.OutputArtifactPath, "no artifact for a failed run")
		sink.next(t)
	})

	t.Run("NoInstanceStillCleansUp", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.listPods = func(string, int) ([]corev1.Pod, error) { return nil, nil }
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		outcome, err := executor.Execute(ctx, ExecutionRequest{Language: "python", Code: "print(1)", OutputExtension: ".txt"})
		require.ErrorIs(t, err, ErrNoInstanceFound)
		assert.Equal(t, ExecutionOutcome{}, outcome)

		jobs := cluster.createdJobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, 5, cluster.listCallsFor(jobs[0].Name), "long poll budget")

		cleanup := sink.next(t)
		assert.Equal(t, jobs[0].Name, cleanup.JobName)
	})

	t.Run("SubmissionFailureSkipsCleanup", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.createErr = errors.New("connection refused")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		_, err := executor.Execute(ctx, ExecutionRequest{Language: "lua", Code: "print(1)", OutputExtension: ".txt"})
		require.ErrorIs(t, err, ErrOrchestratorUnavailable)
		assert.Contains(t, err.Error(), "connection refused")

		require.NoError(t, executor.Shutdown(ctx))
		sink.empty(t)
		assert.Empty(t, cluster.deletedJobNames())
	})

	t.Run("NoArtifactUsesQuickPoll", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.listPods = func(string, int) ([]corev1.Pod, error) { return nil, nil }
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		_, err := executor.Execute(ctx, ExecutionRequest{Language: "python", Code: "print(1)"})
		require.ErrorIs(t, err, ErrNoInstanceFound)

		jobs := cluster.createdJobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, 3, cluster.listCallsFor(jobs[0].Name), "quick poll budget")
		assert.True(t, strings.HasSuffix(jobs[0].Spec.Template.Spec.Containers[0].Command[2], "'' ''"))
		sink.next(t)
	})

	t.Run("PolicyOptions", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.listPods = func(string, int) ([]corev1.Pod, error) { return nil, nil }
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink, WithPollPolicy(RetryPolicy{Attempts: 2}))

		_, err := executor.Execute(ctx, ExecutionRequest{Language: "python", Code: "print(1)", OutputExtension: ".txt"})
		require.ErrorIs(t, err, ErrNoInstanceFound)
		assert.Equal(t, 2, cluster.listCallsFor(cluster.createdJobs()[0].Name))
		sink.next(t)
	})

	t.Run("CancelledCallerDoesNotAbortDispatch", func(t *testing.T) {
		cluster := newFakeCluster("still here")
		sink := make(channelSink, 1)
		executor := newTestExecutor(t, cluster, sink)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		outcome, err := executor.Execute(cancelled, ExecutionRequest{Language: "python", Code: "print(1)", OutputExtension: ".txt"})
		require.NoError(t, err)
		assert.Equal(t, "still here", outcome.Output)
		sink.next(t)
	})
}

func TestKubernetesExecutorConcurrentDispatch(t *testing.T) {
	const n = 25
	cluster := newFakeCluster("ok")
	sink := make(channelSink, n)
	executor := newTestExecutor(t, cluster, sink)

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := executor.Execute(context.Background(), ExecutionRequest{Language: "python", Code: "print(1)", OutputExtension: ".txt"})
			assert.NoError(t, err)
			assert.Equal(t, "ok", outcome.Output)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, job := range cluster.createdJobs() {
		assert.False(t, seen[job.Name], "duplicate job name %s", job.Name)
		seen[job.Name] = true
	}
	assert.Len(t, seen, n)

	for range n {
		assert.Equal(t, CleanupDeleted, sink.next(t).Status)
	}
}

func TestKubernetesExecutorLanguages(t *testing.T) {
	executor := newTestExecutor(t, newFakeCluster(""), make(channelSink, 1))
	assert.Equal(t, []string{"lua", "python", "rust"}, executor.Languages())
}
