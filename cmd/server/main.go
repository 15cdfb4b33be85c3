package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
	"github.com/isdmx/kubebox/httpapi"
	"github.com/isdmx/kubebox/logger"
	"github.com/isdmx/kubebox/mcpserver"
	"github.com/isdmx/kubebox/sandbox"
	"github.com/isdmx/kubebox/storage"
)

// shutdowner is implemented by executors that own background work
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Sandbox executor based on config
			sandbox.NewExecutor,

			// Shared volume for input files and artifacts
			func(cfg *config.Config, log *zap.Logger) *storage.SharedStorage {
				return storage.New(cfg, log)
			},

			// Front doors
			httpapi.New,
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(start),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func start(
	lc fx.Lifecycle,
	app fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	executor sandbox.SandboxExecutor,
	store *storage.SharedStorage,
	rest *httpapi.Server,
	mcp *mcpserver.MCPServer,
) {
	serve := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil {
				log.Error("transport stopped", zap.String("transport", name), zap.Error(err))
				_ = app.Shutdown(fx.ExitCode(1))
			}
		}()
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := store.EnsureLayout(); err != nil {
				log.Warn("shared storage is not writable", zap.String("root", store.Root()), zap.Error(err))
			}

			switch cfg.Server.Transport {
			case "rest":
				serve("rest", rest.Start)
			case "http":
				serve("http", mcp.ServeHTTP)
			case "stdio":
				serve("stdio", mcp.ServeStdio)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cfg.Server.Transport == "rest" {
				if err := rest.Shutdown(ctx); err != nil {
					log.Warn("REST server shutdown failed", zap.Error(err))
				}
			}

			if s, ok := executor.(shutdowner); ok {
				return s.Shutdown(ctx)
			}
			return nil
		},
	})
}
