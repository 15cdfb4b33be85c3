package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
)

// CleanupStatus is the final state of one cleanup run.
type CleanupStatus string

const (
	// CleanupDeleted means the job reached a terminal condition and was deleted.
	CleanupDeleted CleanupStatus = "deleted"
	// CleanupGone means the job no longer existed when the janitor looked.
	CleanupGone CleanupStatus = "gone"
	// CleanupTimedOut means no terminal condition was seen within the budget. The job is
	// left to the cluster's own TTL / garbage collection.
	CleanupTimedOut CleanupStatus = "timeout"
	// CleanupFailed means the delete call itself failed.
	CleanupFailed CleanupStatus = "failed"
)

// CleanupOutcome is the structured result of a cleanup run.
type CleanupOutcome struct {
	JobName  string
	Status   CleanupStatus
	Attempts int
	Duration time.Duration
	Err      error
}

// CleanupSink receives cleanup outcomes. It is the only place they are reported;
// the request that created the job has already been answered.
type CleanupSink interface {
	Record(outcome CleanupOutcome)
}

// LogSink records cleanup outcomes to the logger.
type LogSink struct {
	Logger *zap.Logger
}

// Record implements CleanupSink
func (s LogSink) Record(outcome CleanupOutcome) {
	fields := []zap.Field{
		zap.String("job_name", outcome.JobName),
		zap.String("status", string(outcome.Status)),
		zap.Int("attempts", outcome.Attempts),
		zap.Duration("duration", outcome.Duration),
	}
	switch outcome.Status {
	case CleanupDeleted, CleanupGone:
		s.Logger.Info("job cleaned up", fields...)
	default:
		s.Logger.Warn("job cleanup incomplete", append(fields, zap.Error(outcome.Err))...)
	}
}

// Janitor deletes finished jobs in the background. Each scheduled cleanup runs in its own
// goroutine with a context detached from the request and is tracked until Shutdown.
type Janitor struct {
	logger  *zap.Logger
	cluster Cluster
	policy  RetryPolicy
	sink    CleanupSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewJanitor creates a Janitor. A nil sink records to the logger.
func NewJanitor(logger *zap.Logger, cluster Cluster, policy RetryPolicy, sink CleanupSink) *Janitor {
	if sink == nil {
		sink = LogSink{Logger: logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		logger:  logger,
		cluster: cluster,
		policy:  policy,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule starts a cleanup for jobName and returns immediately.
func (j *Janitor) Schedule(jobName string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		j.sink.Record(CleanupOutcome{
			JobName: jobName,
			Status:  CleanupFailed,
			Err:     errors.New("janitor is shut down"),
		})
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.sink.Record(j.Cleanup(j.ctx, jobName))
	}()
}

// Cleanup waits for jobName to reach Complete or Failed and deletes it.
func (j *Janitor) Cleanup(ctx context.Context, jobName string) CleanupOutcome {
	start := time.Now()
	outcome := CleanupOutcome{JobName: jobName}
	gone := false

	exhausted, err := j.policy.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		outcome.Attempts = attempt

		job, getErr := j.cluster.GetJob(ctx, jobName)
		if errors.Is(getErr, ErrJobNotFound) {
			gone = true
			return true, nil
		}
		if getErr != nil {
			j.logger.Debug("failed to get job status, retrying",
				zap.String("job_name", jobName), zap.Int("attempt", attempt), zap.Error(getErr))
			return false, nil
		}
		return jobTerminated(job), nil
	})

	switch {
	case exhausted:
		outcome.Status = CleanupTimedOut
		outcome.Err = fmt.Errorf("%w: %s after %d attempts", ErrCleanupTimeout, jobName, outcome.Attempts)
	case err != nil:
		outcome.Status = CleanupFailed
		outcome.Err = err
	case gone:
		outcome.Status = CleanupGone
	default:
		if delErr := j.cluster.DeleteJob(ctx, jobName); delErr != nil {
			outcome.Status = CleanupFailed
			outcome.Err = fmt.Errorf("failed to delete job %s: %w", jobName, delErr)
		} else {
			outcome.Status = CleanupDeleted
		}
	}

	outcome.Duration = time.Since(start)
	return outcome
}

// Shutdown stops accepting cleanups and waits for running ones. When ctx ends first the
// remaining cleanups are cancelled and their jobs left to the cluster's garbage collection.
func (j *Janitor) Shutdown(ctx context.Context) error {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.cancel()
		return nil
	case <-ctx.Done():
		j.cancel()
		<-done
		return fmt.Errorf("cleanup interrupted by shutdown: %w", ctx.Err())
	}
}

// jobTerminated reports whether the job carries a Complete or Failed condition.
// The condition's status value is not inspected.
func jobTerminated(job *batchv1.Job) bool {
	if job == nil {
		return false
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobComplete || cond.Type == batchv1.JobFailed {
			return true
		}
	}
	return false
}
