package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/kubebox/config"
)

// LocalExecutor implements SandboxExecutor by running interpreters directly on the host.
// It offers no isolation and is only meant for development.
type LocalExecutor struct {
	logger    *zap.Logger
	timeout   time.Duration
	cmdRunner CommandRunner
	fs        FileSystem
}

// LocalExecutorOption defines a functional option for LocalExecutor
type LocalExecutorOption func(*LocalExecutor)

// WithLocalCommandRunner sets the CommandRunner for LocalExecutor
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem for LocalExecutor
func WithLocalFileSystem(fs FileSystem) LocalExecutorOption {
	return func(l *LocalExecutor) {
		l.fs = fs
	}
}

// NewLocalExecutor creates a new LocalExecutor with default implementations and optional interfaces
func NewLocalExecutor(logger *zap.Logger, cfg *config.Config, opts ...LocalExecutorOption) *LocalExecutor {
	executor := &LocalExecutor{
		logger:    logger,
		timeout:   cfg.GetTimeout(),
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Languages lists the languages the local backend can run
func (*LocalExecutor) Languages() []string {
	return []string{LanguageLua, LanguageNodeJS, LanguagePython, LanguageRust}
}

// Execute runs the code locally (WARNING: This is not secure and should only be used for development).
// A zero exit status yields stdout as output; anything else yields stderr as error text.
func (l *LocalExecutor) Execute(ctx context.Context, req ExecutionRequest) (ExecutionOutcome, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		stdout, stderr string
		exitCode       int
		err            error
	)

	switch req.Language {
	case LanguagePython:
		stdout, stderr, exitCode, err = l.cmdRunner.RunCommand(ctxWithTimeout, []string{"python3", "-c", req.Code})
	case LanguageLua:
		stdout, stderr, exitCode, err = l.cmdRunner.RunCommand(ctxWithTimeout, []string{"lua", "-e", req.Code})
	case LanguageNodeJS:
		stdout, stderr, exitCode, err = l.cmdRunner.RunCommand(ctxWithTimeout, []string{"node", "-e", req.Code})
	case LanguageRust:
		stdout, stderr, exitCode, err = l.compileAndRunRust(ctxWithTimeout, req.Code)
	default:
		return ExecutionOutcome{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	if errors.Is(ctxWithTimeout.Err(), context.DeadlineExceeded) {
		return ExecutionOutcome{ErrorText: "Execution timed out"}, nil
	}

	if err != nil {
		l.logger.Warn("local execution failed to start", zap.String("language", req.Language), zap.Error(err))
		return ExecutionOutcome{ErrorText: err.Error()}, nil
	}

	if exitCode != 0 {
		errorText := strings.TrimSpace(stderr)
		if errorText == "" {
			errorText = fmt.Sprintf("process exited with status %d", exitCode)
		}
		return ExecutionOutcome{ErrorText: errorText}, nil
	}

	if stderr != "" {
		l.logger.Debug("local execution wrote to stderr", zap.String("language", req.Language), zap.String("stderr", stderr))
	}

	return ExecutionOutcome{Output: stdout}, nil
}

func (l *LocalExecutor) compileAndRunRust(ctx context.Context, code string) (stdout, stderr string, exitCode int, err error) {
	tempDir, err := l.fs.MkdirTemp("", "kubebox-rust-*")
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := l.fs.RemoveAll(tempDir); rmErr != nil {
			l.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	sourcePath := filepath.Join(tempDir, "main.rs")
	if err := l.fs.WriteFile(sourcePath, []byte(code+"\n"), FilePermission); err != nil {
		return "", "", 0, fmt.Errorf("failed to write user code: %w", err)
	}

	binaryPath := filepath.Join(tempDir, "main")
	stdout, stderr, exitCode, err = l.cmdRunner.RunCommand(ctx, []string{
		"rustc", sourcePath, "-o", binaryPath, "--crate-name", "temp_crate",
	})
	if err != nil || exitCode != 0 {
		return stdout, stderr, exitCode, err
	}

	return l.cmdRunner.RunCommand(ctx, []string{binaryPath})
}
