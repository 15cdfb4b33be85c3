// Package sandbox provides secure code execution capabilities.
//
// The sandbox package dispatches untrusted code to isolated, one-shot
// Kubernetes Jobs. A request is resolved into a container image and a
// shell command, built into a locked-down Job (non-root, no capabilities,
// read-only root filesystem, fixed CPU and memory), submitted, and then
// observed through its pod: the merged pod log is the only result channel.
// A log containing the EXECUTOR_ERROR sentinel is reported as error text,
// anything else as output. After the result is returned the Job is handed
// to a Janitor that deletes it once it reaches a terminal condition.
//
// A LocalExecutor that runs interpreters directly on the host is available
// for development only.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, cfg)
//	outcome, err := executor.Execute(ctx, sandbox.ExecutionRequest{
//	    Language:        "python",
//	    Code:            "print('Hello, World!')",
//	    OutputExtension: ".txt",
//	})
package sandbox
