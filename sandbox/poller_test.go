package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
)

func TestClassifyLog(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want ExecutionOutcome
	}{
		{"Output", "hi\n", ExecutionOutcome{Output: "hi"}},
		{"OutputTrimmed", "  \n result 42 \n\n", ExecutionOutcome{Output: "result 42"}},
		{"Sentinel", "EXECUTOR_ERROR division by zero", ExecutionOutcome{ErrorText: "division by zero"}},
		{"SentinelAfterOutput", "partial\nEXECUTOR_ERROR Traceback\n", ExecutionOutcome{ErrorText: "partial\n Traceback"}},
		{"SentinelOnly", "EXECUTOR_ERROR", ExecutionOutcome{ErrorText: DefaultErrorText}},
		{"SentinelWithWhitespace", "EXECUTOR_ERROR\n  \n", ExecutionOutcome{ErrorText: DefaultErrorText}},
		{"Empty", "", ExecutionOutcome{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyLog(tt.log)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Output != "" && got.ErrorText != "", "output and error text must be exclusive")
			if strings.Contains(tt.log, ErrorSentinel) {
				assert.Empty(t, got.Output)
				assert.NotEmpty(t, got.ErrorText)
			}
		})
	}
}

func TestResultPoller(t *testing.T) {
	ctx := context.Background()
	policy := RetryPolicy{Attempts: 5}

	t.Run("ReturnsOutputAndDeletesPod", func(t *testing.T) {
		cluster := newFakeCluster("hi\n")
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, ExecutionOutcome{Output: "hi"}, outcome)
		assert.Equal(t, 1, cluster.listCallsFor("job-1"))
		assert.Equal(t, []string{"job-1-abcde"}, cluster.deletedPodNames())
	})

	t.Run("GuestErrorIsData", func(t *testing.T) {
		cluster := newFakeCluster("EXECUTOR_ERROR division by zero")
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, ExecutionOutcome{ErrorText: "division by zero"}, outcome)
	})

	t.Run("NoInstanceExhaustsBudget", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.listPods = func(string, int) ([]corev1.Pod, error) { return nil, nil }
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.ErrorIs(t, err, ErrNoInstanceFound)
		assert.Equal(t, ExecutionOutcome{}, outcome)
		assert.Equal(t, 5, cluster.listCallsFor("job-1"))
		assert.Empty(t, cluster.deletedPodNames())
	})

	t.Run("ListErrorsAreTransient", func(t *testing.T) {
		cluster := newFakeCluster("ok")
		cluster.listPods = func(jobName string, call int) ([]corev1.Pod, error) {
			if call < 3 {
				return nil, errors.New("apiserver unavailable")
			}
			return []corev1.Pod{testPod(jobName+"-x", jobName, corev1.PodSucceeded, time.Unix(1, 0))}, nil
		}
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, "ok", outcome.Output)
		assert.Equal(t, 3, cluster.listCallsFor("job-1"))
	})

	t.Run("WaitsForPodToTerminate", func(t *testing.T) {
		cluster := newFakeCluster("done")
		cluster.listPods = func(jobName string, call int) ([]corev1.Pod, error) {
			phase := corev1.PodPending
			switch {
			case call == 2:
				phase = corev1.PodRunning
			case call >= 3:
				phase = corev1.PodFailed
			}
			return []corev1.Pod{testPod(jobName+"-x", jobName, phase, time.Unix(1, 0))}, nil
		}
		logCalls := 0
		cluster.podLogs = func(string, int) (string, error) {
			logCalls++
			return "done", nil
		}
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, "done", outcome.Output)
		assert.Equal(t, 1, logCalls, "logs are read exactly once")
	})

	t.Run("LogFetchFailureIsTransient", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.podLogs = func(_ string, call int) (string, error) {
			if call == 1 {
				return "", errors.New("container is waiting to start")
			}
			return "second try", nil
		}
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, "second try", outcome.Output)
		assert.Equal(t, 2, cluster.listCallsFor("job-1"))
	})

	t.Run("LogsNeverAvailable", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.podLogs = func(string, int) (string, error) { return "", errors.New("not ready") }
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		_, err := poller.Poll(ctx, "job-1", policy)
		require.ErrorIs(t, err, ErrNoInstanceFound)
		assert.Contains(t, err.Error(), "never served its logs")
	})

	t.Run("PicksEarliestPod", func(t *testing.T) {
		cluster := newFakeCluster("")
		cluster.listPods = func(jobName string, _ int) ([]corev1.Pod, error) {
			return []corev1.Pod{
				testPod("late", jobName, corev1.PodSucceeded, time.Unix(300, 0)),
				testPod("b-early", jobName, corev1.PodSucceeded, time.Unix(100, 0)),
				testPod("a-early", jobName, corev1.PodSucceeded, time.Unix(100, 0)),
			}, nil
		}
		cluster.podLogs = func(podName string, _ int) (string, error) { return podName, nil }
		poller := NewResultPoller(zaptest.NewLogger(t), cluster)

		outcome, err := poller.Poll(ctx, "job-1", policy)
		require.NoError(t, err)
		assert.Equal(t, "a-early", outcome.Output)
		assert.Equal(t, []string{"a-early"}, cluster.deletedPodNames())
	})
}
