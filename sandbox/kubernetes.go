package sandbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
)

// KubernetesExecutor implements SandboxExecutor by running each request as a one-shot
// Kubernetes Job. It owns the job from creation until it hands it to the janitor.
type KubernetesExecutor struct {
	logger     *zap.Logger
	cluster    Cluster
	resolver   *Resolver
	builder    *JobBuilder
	poller     *ResultPoller
	janitor    *Janitor
	sharedRoot string

	pollPolicy    RetryPolicy
	quickPolicy   RetryPolicy
	cleanupPolicy RetryPolicy
	cleanupSink   CleanupSink
}

// KubernetesExecutorOption defines a functional option for KubernetesExecutor
type KubernetesExecutorOption func(*KubernetesExecutor)

// WithPollPolicy overrides the long poll budget used when an artifact is requested
func WithPollPolicy(policy RetryPolicy) KubernetesExecutorOption {
	return func(e *KubernetesExecutor) {
		e.pollPolicy = policy
	}
}

// WithQuickPollPolicy overrides the abbreviated poll budget used without an artifact
func WithQuickPollPolicy(policy RetryPolicy) KubernetesExecutorOption {
	return func(e *KubernetesExecutor) {
		e.quickPolicy = policy
	}
}

// WithCleanupPolicy overrides the janitor's budget
func WithCleanupPolicy(policy RetryPolicy) KubernetesExecutorOption {
	return func(e *KubernetesExecutor) {
		e.cleanupPolicy = policy
	}
}

// WithCleanupSink sets where cleanup outcomes are reported
func WithCleanupSink(sink CleanupSink) KubernetesExecutorOption {
	return func(e *KubernetesExecutor) {
		e.cleanupSink = sink
	}
}

// NewKubernetesExecutor creates a KubernetesExecutor on top of the given cluster
func NewKubernetesExecutor(logger *zap.Logger, cfg *config.Config, cluster Cluster, opts ...KubernetesExecutorOption) (*KubernetesExecutor, error) {
	builder, err := NewJobBuilder(cfg)
	if err != nil {
		return nil, err
	}

	executor := &KubernetesExecutor{
		logger:        logger,
		cluster:       cluster,
		resolver:      NewResolver(cfg),
		builder:       builder,
		poller:        NewResultPoller(logger, cluster),
		sharedRoot:    cfg.Sandbox.SharedRoot,
		pollPolicy:    RetryPolicyFromConfig(cfg.Kubernetes.Poll),
		quickPolicy:   RetryPolicyFromConfig(cfg.Kubernetes.QuickPoll),
		cleanupPolicy: RetryPolicyFromConfig(cfg.Kubernetes.Cleanup),
	}

	for _, opt := range opts {
		opt(executor)
	}

	executor.janitor = NewJanitor(logger, cluster, executor.cleanupPolicy, executor.cleanupSink)

	return executor, nil
}

// Execute submits the request as a job and blocks until its pod's log is read or the
// poll budget runs out. The caller's cancellation is not propagated to the cluster calls.
// Cleanup is scheduled for every job whose creation succeeded, and never for one whose
// creation failed.
func (e *KubernetesExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionOutcome, error) {
	workload, err := NewWorkload(e.resolver, e.sharedRoot, req)
	if err != nil {
		return ExecutionOutcome{}, err
	}

	log := e.logger.With(zap.String("job_name", workload.JobName), zap.String("language", workload.Language))
	ctx = context.WithoutCancel(ctx)

	log.Info("creating job",
		zap.String("image", workload.Image),
		zap.Bool("has_input", workload.InputMountPath != ""),
		zap.String("output_path", workload.OutputArtifactPath))

	if createErr := e.cluster.CreateJob(ctx, e.builder.Build(workload)); createErr != nil {
		log.Error("failed to create job", zap.Error(createErr))
		return ExecutionOutcome{}, fmt.Errorf("%w: failed to create job %s: %w", ErrOrchestratorUnavailable, workload.JobName, createErr)
	}

	policy := e.pollPolicy
	if workload.OutputArtifactPath == "" {
		policy = e.quickPolicy
	}

	outcome, err := e.poller.Poll(ctx, workload.JobName, policy)
	e.janitor.Schedule(workload.JobName)
	if err != nil {
		log.Error("failed to collect job result", zap.Error(err))
		return ExecutionOutcome{}, err
	}

	if outcome.ErrorText == "" {
		outcome.OutputArtifactPath = workload.OutputArtifactPath
	}

	log.Info("job finished",
		zap.Int("output_len", len(outcome.Output)),
		zap.Int("error_len", len(outcome.ErrorText)))

	return outcome, nil
}

// Languages returns the languages this executor accepts
func (e *KubernetesExecutor) Languages() []string {
	return e.resolver.Languages()
}

// Shutdown waits for scheduled cleanups to finish
func (e *KubernetesExecutor) Shutdown(ctx context.Context) error {
	return e.janitor.Shutdown(ctx)
}
