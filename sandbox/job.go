package sandbox

import (
	"fmt"
	"path"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/isdmx/kubebox/config"
)

// Volume and container names used in every executor job
const (
	containerName     = "executor"
	sharedVolumeName  = "shared-storage"
	scratchVolumeName = "scratch"
	scratchMountPath  = "/tmp"
)

// Workload is an execution request resolved into everything the job needs.
type Workload struct {
	JobName            string
	Language           string
	Image              string
	Command            []string
	InputMountPath     string
	OutputArtifactPath string
}

// NewWorkload resolves a request into a workload with a freshly generated job name.
// The output artifact path shares the job's id so the two can be correlated in logs.
func NewWorkload(resolver *Resolver, sharedRoot string, req ExecutionRequest) (Workload, error) {
	id := uuid.NewString()

	outputPath := ""
	if req.OutputExtension != "" {
		outputPath = path.Join(sharedRoot, "output", "output_"+id+req.OutputExtension)
	}

	image, command, err := resolver.Resolve(req.Language, req.Code, req.InputArtifactPath, outputPath)
	if err != nil {
		return Workload{}, err
	}

	return Workload{
		JobName:            "job-" + id,
		Language:           normalizeLanguage(req.Language),
		Image:              image,
		Command:            command,
		InputMountPath:     req.InputArtifactPath,
		OutputArtifactPath: outputPath,
	}, nil
}

// JobBuilder assembles the batch/v1 Job for a workload.
type JobBuilder struct {
	namespace    string
	sharedClaim  string
	sharedRoot   string
	cpu          resource.Quantity
	memory       resource.Quantity
	runAsUser    int64
	runAsGroup   int64
	backoffLimit int32
	ttlSeconds   int32
}

// NewJobBuilder reads job settings from configuration.
func NewJobBuilder(cfg *config.Config) (*JobBuilder, error) {
	cpu, err := resource.ParseQuantity(cfg.Kubernetes.CPU)
	if err != nil {
		return nil, fmt.Errorf("invalid cpu quantity %q: %w", cfg.Kubernetes.CPU, err)
	}
	memory, err := resource.ParseQuantity(cfg.Kubernetes.Memory)
	if err != nil {
		return nil, fmt.Errorf("invalid memory quantity %q: %w", cfg.Kubernetes.Memory, err)
	}

	return &JobBuilder{
		namespace:    cfg.Kubernetes.Namespace,
		sharedClaim:  cfg.Kubernetes.SharedClaim,
		sharedRoot:   cfg.Sandbox.SharedRoot,
		cpu:          cpu,
		memory:       memory,
		runAsUser:    cfg.Kubernetes.RunAsUser,
		runAsGroup:   cfg.Kubernetes.RunAsGroup,
		backoffLimit: cfg.Kubernetes.BackoffLimit,
		ttlSeconds:   cfg.Kubernetes.TTLSecondsAfterFinished,
	}, nil
}

// Build returns the job for w. Pods never restart. A non-zero exit of the guest fails the job
// at once, so backoffLimit only covers pods lost to the infrastructure.
func (b *JobBuilder) Build(w Workload) *batchv1.Job {
	labels := map[string]string{
		"app.kubernetes.io/name":      "kubebox",
		"app.kubernetes.io/component": containerName,
		"kubebox.io/language":         w.Language,
	}

	resources := corev1.ResourceList{
		corev1.ResourceCPU:    b.cpu,
		corev1.ResourceMemory: b.memory,
	}

	container := corev1.Container{
		Name:    containerName,
		Image:   w.Image,
		Command: w.Command,
		Resources: corev1.ResourceRequirements{
			Requests: resources,
			Limits:   resources.DeepCopy(),
		},
		SecurityContext: &corev1.SecurityContext{
			RunAsNonRoot:             ptr.To(true),
			RunAsUser:                ptr.To(b.runAsUser),
			RunAsGroup:               ptr.To(b.runAsGroup),
			AllowPrivilegeEscalation: ptr.To(false),
			ReadOnlyRootFilesystem:   ptr.To(true),
			Capabilities: &corev1.Capabilities{
				Drop: []corev1.Capability{"ALL"},
			},
			SeccompProfile: &corev1.SeccompProfile{
				Type: corev1.SeccompProfileTypeRuntimeDefault,
			},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: sharedVolumeName, MountPath: b.sharedRoot},
			{Name: scratchVolumeName, MountPath: scratchMountPath},
		},
	}

	podSpec := corev1.PodSpec{
		RestartPolicy:                corev1.RestartPolicyNever,
		AutomountServiceAccountToken: ptr.To(false),
		SecurityContext: &corev1.PodSecurityContext{
			RunAsNonRoot: ptr.To(true),
			RunAsUser:    ptr.To(b.runAsUser),
			RunAsGroup:   ptr.To(b.runAsGroup),
			FSGroup:      ptr.To(b.runAsGroup),
			SeccompProfile: &corev1.SeccompProfile{
				Type: corev1.SeccompProfileTypeRuntimeDefault,
			},
		},
		Containers: []corev1.Container{container},
		Volumes: []corev1.Volume{
			{
				Name: sharedVolumeName,
				VolumeSource: corev1.VolumeSource{
					PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: b.sharedClaim},
				},
			},
			{
				Name:         scratchVolumeName,
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			},
		},
	}

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      w.JobName,
			Namespace: b.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			Parallelism:  ptr.To(int32(1)),
			Completions:  ptr.To(int32(1)),
			BackoffLimit: ptr.To(b.backoffLimit),
			PodFailurePolicy: &batchv1.PodFailurePolicy{
				Rules: []batchv1.PodFailurePolicyRule{
					{
						Action: batchv1.PodFailurePolicyActionFailJob,
						OnExitCodes: &batchv1.PodFailurePolicyOnExitCodesRequirement{
							ContainerName: ptr.To(containerName),
							Operator:      batchv1.PodFailurePolicyOnExitCodesOpNotIn,
							Values:        []int32{0},
						},
					},
					{
						// evictions and preemptions do not count against backoffLimit
						Action: batchv1.PodFailurePolicyActionIgnore,
						OnPodConditions: []batchv1.PodFailurePolicyOnPodConditionsPattern{
							{Type: corev1.DisruptionTarget, Status: corev1.ConditionTrue},
						},
					},
				},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}
	if b.ttlSeconds > 0 {
		job.Spec.TTLSecondsAfterFinished = ptr.To(b.ttlSeconds)
	}

	return job
}
