package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
)

// ResultPoller waits for the pod backing a job and turns its log into an outcome.
type ResultPoller struct {
	logger  *zap.Logger
	cluster Cluster
}

// NewResultPoller creates a ResultPoller.
func NewResultPoller(logger *zap.Logger, cluster Cluster) *ResultPoller {
	return &ResultPoller{logger: logger, cluster: cluster}
}

// Poll looks for the job's pod within the policy's budget. Listing errors, pods that have
// not terminated yet and failed log fetches all count as transient and use up one attempt.
// Once the log is read the pod is deleted best-effort and the classified outcome returned.
func (p *ResultPoller) Poll(ctx context.Context, jobName string, policy RetryPolicy) (ExecutionOutcome, error) {
	log := p.logger.With(zap.String("job_name", jobName))

	var (
		outcome  ExecutionOutcome
		lastSeen string
	)

	exhausted, err := policy.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		pods, listErr := p.cluster.ListPods(ctx, jobName)
		if listErr != nil {
			log.Debug("failed to list pods, retrying", zap.Int("attempt", attempt), zap.Error(listErr))
			return false, nil
		}

		pod, ok := pickPod(pods)
		if !ok {
			log.Debug("no pods found for the job, retrying", zap.Int("attempt", attempt))
			return false, nil
		}
		if len(pods) > 1 {
			log.Warn("multiple pods match the job, using the earliest",
				zap.Int("matches", len(pods)), zap.String("pod", pod.Name))
		}
		lastSeen = pod.Name

		if !podTerminated(pod) {
			log.Debug("pod is not ready yet, retrying",
				zap.Int("attempt", attempt), zap.String("pod", pod.Name), zap.String("phase", string(pod.Status.Phase)))
			return false, nil
		}

		logs, logErr := p.cluster.PodLogs(ctx, pod.Name)
		if logErr != nil {
			log.Debug("pod logs not available yet, retrying",
				zap.Int("attempt", attempt), zap.String("pod", pod.Name), zap.Error(logErr))
			return false, nil
		}

		outcome = ClassifyLog(logs)
		if delErr := p.cluster.DeletePod(ctx, pod.Name); delErr != nil {
			log.Warn("failed to delete pod", zap.String("pod", pod.Name), zap.Error(delErr))
		}
		return true, nil
	})

	if exhausted {
		if lastSeen != "" {
			return ExecutionOutcome{}, fmt.Errorf("%w: pod %s for job %s never served its logs", ErrNoInstanceFound, lastSeen, jobName)
		}
		return ExecutionOutcome{}, fmt.Errorf("%w: %s", ErrNoInstanceFound, jobName)
	}
	if err != nil {
		return ExecutionOutcome{}, err
	}

	return outcome, nil
}

// ClassifyLog splits a merged log into output or error text. A log containing the
// sentinel is an error with the sentinel removed; anything else is output. Error text
// is never empty so a bare sentinel still reads as a failure.
func ClassifyLog(logs string) ExecutionOutcome {
	if strings.Contains(logs, ErrorSentinel) {
		errorText := strings.TrimSpace(strings.ReplaceAll(logs, ErrorSentinel, ""))
		if errorText == "" {
			errorText = DefaultErrorText
		}
		return ExecutionOutcome{ErrorText: errorText}
	}
	return ExecutionOutcome{Output: strings.TrimSpace(logs)}
}

// pickPod returns the earliest created pod, falling back to the name for ties.
func pickPod(pods []corev1.Pod) (corev1.Pod, bool) {
	if len(pods) == 0 {
		return corev1.Pod{}, false
	}
	sorted := make([]corev1.Pod, len(pods))
	copy(sorted, pods)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := sorted[i].CreationTimestamp, sorted[j].CreationTimestamp
		if !ti.Equal(&tj) {
			return ti.Before(&tj)
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0], true
}

func podTerminated(pod corev1.Pod) bool {
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}
