package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Log sources attached to relayed lines and supervisor records.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "agentmgr"
)

// Spec describes a single child process launch.
type Spec struct {
	// Name identifies the process in logs, metrics and errors.
	Name string
	// Command is the full argv, including any privilege prefix or
	// interpreter placed ahead of the target.
	Command []string
	// Target is the file the command operates on (the collector binary or
	// the orchestrator script). When set it must exist before launch.
	Target  string
	Workdir string
	// Env entries are appended to the inherited environment.
	Env map[string]string
	// Stderr, when set, receives the child's stderr directly and the
	// handle exposes no stderr endpoint.
	Stderr io.Writer
	// Detach places the child in its own process group so that Stop and
	// Kill reach every descendant. Leave it unset for commands that need
	// the controlling terminal, such as sudo prompting for a password.
	Detach bool
}

// Handle is a running child process with its three standard stream
// endpoints. The endpoints are the parent's side of the pipes: Stdin is
// written by the parent, Stdout and Stderr are read by it.
type Handle interface {
	Name() string
	PID() int

	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser

	// Wait blocks until the process terminates and returns its exit code.
	// A non-nil error means the exit status could not be observed, for
	// example because ctx ended first.
	Wait(ctx context.Context) (int, error)

	// Done is closed once the process has terminated.
	Done() <-chan struct{}

	// ExitCode reports the exit code and whether the process has exited.
	ExitCode() (int, bool)

	// Stop asks the process to terminate and escalates to Kill after a
	// grace period. Stop and Kill are safe to call after exit.
	Stop(ctx context.Context) error
	Kill(ctx context.Context) error

	// Close releases the parent's stream endpoints.
	Close() error
}

// Launcher starts child processes.
type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
}

// ErrEmptyCommand is returned for a Spec without a command.
var ErrEmptyCommand = errors.New("command is required")

// LaunchError reports a process that could not be started: the executable
// or target is missing, or the OS refused to spawn it.
type LaunchError struct {
	Name string
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("launch %s (%s): %v", e.Name, e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
