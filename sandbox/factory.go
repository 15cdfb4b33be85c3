package sandbox

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
)

// LanguageLister is implemented by executors that can report the languages they accept
type LanguageLister interface {
	Languages() []string
}

// NewExecutor creates an appropriate sandbox executor based on the configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config) (SandboxExecutor, error) {
	switch cfg.Sandbox.Backend {
	case "kubernetes":
		client, err := NewKubeClient(cfg.Kubernetes.Kubeconfig)
		if err != nil {
			return nil, err
		}
		cluster := NewKubeCluster(client, cfg.Kubernetes.Namespace)
		return NewKubernetesExecutor(logger.Named("dispatcher"), cfg, cluster)
	case "local":
		if !cfg.Sandbox.EnableLocalBackend {
			return nil, fmt.Errorf("local backend is disabled")
		}
		logger.Warn("using the local backend: code runs unsandboxed on the host")
		return NewLocalExecutor(logger.Named("local"), cfg), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Sandbox.Backend)
	}
}
