// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Loggers built from configuration carry the service
// name, version and sandbox backend on every entry.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("job created", zap.String("job_name", name))
package logger
