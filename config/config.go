package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"
)

// Version is the service version reported by /version. Overridden at build time with -ldflags.
var Version = "0.1.0"

// Config represents the application configuration
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Sandbox    SandboxConfig       `mapstructure:"sandbox"`
	Kubernetes KubernetesConfig    `mapstructure:"kubernetes"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	Languages  map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport          string   `mapstructure:"transport"`
	HTTPPort           int      `mapstructure:"http_port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// SandboxConfig holds backend selection and shared storage settings
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
	SharedRoot         string `mapstructure:"shared_root"`
	TimeoutSec         int    `mapstructure:"timeout_sec"`
}

// KubernetesConfig holds everything the job dispatcher needs to talk to the cluster
type KubernetesConfig struct {
	Kubeconfig              string      `mapstructure:"kubeconfig"`
	Namespace               string      `mapstructure:"namespace"`
	ProjectID               string      `mapstructure:"project_id"`
	Registry                string      `mapstructure:"registry"`
	Script                  string      `mapstructure:"script"`
	SharedClaim             string      `mapstructure:"shared_claim"`
	CPU                     string      `mapstructure:"cpu"`
	Memory                  string      `mapstructure:"memory"`
	RunAsUser               int64       `mapstructure:"run_as_user"`
	RunAsGroup              int64       `mapstructure:"run_as_group"`
	BackoffLimit            int32       `mapstructure:"backoff_limit"`
	TTLSecondsAfterFinished int32       `mapstructure:"ttl_seconds_after_finished"`
	Poll                    RetryConfig `mapstructure:"poll"`
	QuickPoll               RetryConfig `mapstructure:"quick_poll"`
	Cleanup                 RetryConfig `mapstructure:"cleanup"`
}

// RetryConfig describes a fixed-interval polling budget
type RetryConfig struct {
	Attempts   int `mapstructure:"attempts"`
	IntervalMS int `mapstructure:"interval_ms"`
}

// Interval returns the polling interval as a duration
func (r RetryConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language holds per-language settings. An empty image falls back to the shared executor image.
type Language struct {
	Image string `mapstructure:"image"`
}

// DefaultLanguages lists the languages the executor image understands out of the box.
var DefaultLanguages = []string{"python", "nodejs", "lua", "rust", "go", "cpp"}

// New loads and validates the application configuration
func New() (*Config, error) {
	return Load("")
}

// Load reads configuration from the given file, or from config.yaml in . or ./config when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("KUBEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names kept from the original deployment manifests
	_ = v.BindEnv("kubernetes.project_id", "KUBEBOX_KUBERNETES_PROJECT_ID", "GOOGLE_CLOUD_PROJECT_ID")
	_ = v.BindEnv("server.http_port", "KUBEBOX_SERVER_HTTP_PORT", "APP_PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(config.Languages) == 0 {
		config.Languages = make(map[string]Language, len(DefaultLanguages))
		for _, name := range DefaultLanguages {
			config.Languages[name] = Language{}
		}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "rest")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{":5173", "code-valley.xyz"})

	v.SetDefault("sandbox.backend", "kubernetes")
	v.SetDefault("sandbox.enable_local_backend", false)
	v.SetDefault("sandbox.shared_root", "/mnt/shared")
	v.SetDefault("sandbox.timeout_sec", 10)

	v.SetDefault("kubernetes.kubeconfig", "")
	v.SetDefault("kubernetes.namespace", "default")
	v.SetDefault("kubernetes.project_id", "")
	v.SetDefault("kubernetes.registry", "gcr.io")
	v.SetDefault("kubernetes.script", "./executor_script.sh")
	v.SetDefault("kubernetes.shared_claim", "shared-storage")
	v.SetDefault("kubernetes.cpu", "500m")
	v.SetDefault("kubernetes.memory", "256Mi")
	v.SetDefault("kubernetes.run_as_user", 1000)
	v.SetDefault("kubernetes.run_as_group", 1000)
	v.SetDefault("kubernetes.backoff_limit", 4)
	v.SetDefault("kubernetes.ttl_seconds_after_finished", 0)

	// Long poll tolerates image pulls and scheduling latency
	v.SetDefault("kubernetes.poll.attempts", 300)
	v.SetDefault("kubernetes.poll.interval_ms", 1000)
	v.SetDefault("kubernetes.quick_poll.attempts", 10)
	v.SetDefault("kubernetes.quick_poll.interval_ms", 1000)
	v.SetDefault("kubernetes.cleanup.attempts", 60)
	v.SetDefault("kubernetes.cleanup.interval_ms", 1000)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "rest", "http", "stdio":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'rest', 'http' or 'stdio'", c.Server.Transport)
	}

	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got: %d", c.Server.HTTPPort)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	supportedBackends := map[string]bool{
		"kubernetes": true,
		"local":      c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}
	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if strings.TrimSpace(c.Sandbox.SharedRoot) == "" {
		return errors.New("sandbox.shared_root is required")
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if len(c.Languages) == 0 {
		return errors.New("at least one language must be configured")
	}

	if c.Sandbox.Backend != "kubernetes" {
		return nil
	}

	return c.Kubernetes.validate(c.Languages)
}

func (k *KubernetesConfig) validate(languages map[string]Language) error {
	if strings.TrimSpace(k.Namespace) == "" {
		return errors.New("kubernetes.namespace is required")
	}

	if strings.TrimSpace(k.Script) == "" {
		return errors.New("kubernetes.script is required")
	}

	if strings.TrimSpace(k.SharedClaim) == "" {
		return errors.New("kubernetes.shared_claim is required")
	}

	if strings.TrimSpace(k.ProjectID) == "" {
		for name, lang := range languages {
			if strings.TrimSpace(lang.Image) == "" {
				return fmt.Errorf("kubernetes.project_id is required: language %s has no image override", name)
			}
		}
	}

	if _, err := resource.ParseQuantity(k.CPU); err != nil {
		return fmt.Errorf("invalid kubernetes.cpu: %s", k.CPU)
	}

	if _, err := resource.ParseQuantity(k.Memory); err != nil {
		return fmt.Errorf("invalid kubernetes.memory: %s", k.Memory)
	}

	if k.BackoffLimit < 0 {
		return fmt.Errorf("kubernetes.backoff_limit must be non-negative, got: %d", k.BackoffLimit)
	}

	if k.TTLSecondsAfterFinished < 0 {
		return fmt.Errorf("kubernetes.ttl_seconds_after_finished must be non-negative, got: %d", k.TTLSecondsAfterFinished)
	}

	budgets := map[string]RetryConfig{
		"kubernetes.poll":       k.Poll,
		"kubernetes.quick_poll": k.QuickPoll,
		"kubernetes.cleanup":    k.Cleanup,
	}
	for key, budget := range budgets {
		if budget.Attempts <= 0 {
			return fmt.Errorf("%s.attempts must be positive, got: %d", key, budget.Attempts)
		}
		if budget.IntervalMS < 0 {
			return fmt.Errorf("%s.interval_ms must be non-negative, got: %d", key, budget.IntervalMS)
		}
	}

	return nil
}

// GetTimeout returns the local execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}
