package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ExecutionRequest represents the parameters for code execution
type ExecutionRequest struct {
	Language string
	Code     string
	// InputArtifactPath points at a file already staged on shared storage. Empty when absent.
	InputArtifactPath string
	// OutputExtension is the extension of the artifact the guest may write, e.g. ".txt".
	// Empty means no artifact was requested.
	OutputExtension string
}

// ExecutionOutcome represents the result of code execution. Output and ErrorText are never both set.
type ExecutionOutcome struct {
	Output                string
	ErrorText             string
	OutputArtifactPath    string
	OutputArtifactContent string // base64, filled by the boundary layer
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecutionRequest) (ExecutionOutcome, error)
}

var (
	// ErrUnsupportedLanguage is returned before any cluster call for languages outside the table.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrOrchestratorUnavailable wraps job submission failures.
	ErrOrchestratorUnavailable = errors.New("orchestrator unavailable")
	// ErrNoInstanceFound means the poll budget ran out before a pod served its logs.
	ErrNoInstanceFound = errors.New("no pods found for the job")
	// ErrCleanupTimeout is recorded when a job never reached a terminal condition.
	ErrCleanupTimeout = errors.New("job did not reach a terminal condition")
)

// ErrorSentinel is written by the guest script in front of a logical execution error.
const ErrorSentinel = "EXECUTOR_ERROR"

// DefaultErrorText is reported when the guest wrote the sentinel without a message.
const DefaultErrorText = "execution failed"

// LanguageName constants
const (
	LanguagePython = "python"
	LanguageNodeJS = "nodejs"
	LanguageLua    = "lua"
	LanguageRust   = "rust"
	LanguageGo     = "go"
	LanguageCPP    = "cpp"
)

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Running user code is the point of the local backend

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return "", "", 0, err
		}
		exitCode = exitError.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	Remove(path string) error
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

func (RealFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o600
)
