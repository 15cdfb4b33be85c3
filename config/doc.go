// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and environment variables. It covers the
// front door settings, the sandbox backend, the Kubernetes job dispatcher
// (namespace, image, security and polling budgets) and language settings.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Namespace: %s\n", cfg.Kubernetes.Namespace)
package config
