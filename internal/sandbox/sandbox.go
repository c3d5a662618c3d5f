// Package sandbox provides the execution backends behind the bash and
// bash_kill tools: a host backend that runs commands as direct child
// processes of the agent, and an optional docker backend that runs them
// inside a container instead. Both satisfy the same Backend interface so
// the tool layer never branches on which one is active.
package sandbox

import (
	"context"
	"io"
)

// Backend starts and controls shell commands. Implementations own the
// process/container lifecycle; callers only see a Handle.
type Backend interface {
	// Start launches command under a shell in workDir. Stdout and stderr
	// stay separate streams on the returned Handle; the caller
	// (internal/scripthost's bash implementation) prefixes stderr lines
	// before writing them out.
	Start(ctx context.Context, command, workDir string) (Handle, error)

	// Name identifies the backend for logging ("host" or "docker:<image>").
	Name() string

	// Close releases backend-wide resources (e.g. the Docker client).
	Close() error
}

// Handle is one running command. Stdout and Stderr are read to EOF by the
// caller in separate goroutines; Wait blocks until the process exits.
type Handle interface {
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the command exits and returns its exit code.
	Wait() (int, error)

	// Signal sends a graceful termination request (SIGTERM on host,
	// container stop on docker).
	Signal() error

	// Kill force-terminates the command immediately.
	Kill() error
}
