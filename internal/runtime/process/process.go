package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/Paintersrp/agentmgr/internal/runtime"
)

type runtimeImpl struct{}

// New constructs a launcher that executes specs as local processes.
func New() runtime.Launcher {
	return &runtimeImpl{}
}

// Start launches spec. ctx only bounds the launch itself: once started, the
// process lives until it exits or the handle is stopped.
func (r *runtimeImpl) Start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &runtime.LaunchError{Name: spec.Name, Err: err}
	}
	if len(spec.Command) == 0 {
		return nil, &runtime.LaunchError{Name: spec.Name, Err: runtime.ErrEmptyCommand}
	}
	if spec.Target != "" {
		if _, err := os.Stat(spec.Target); err != nil {
			return nil, &runtime.LaunchError{Name: spec.Name, Path: spec.Target, Err: err}
		}
	}
	path, err := exec.LookPath(spec.Command[0])
	if err != nil {
		return nil, &runtime.LaunchError{Name: spec.Name, Path: spec.Command[0], Err: err}
	}

	cmd := exec.Command(path, spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	// The parent keeps its own pipe ends so that cmd.Wait never closes a
	// reader that a relay is still draining.
	p, err := openPipes(spec.Stderr == nil)
	if err != nil {
		return nil, &runtime.LaunchError{Name: spec.Name, Path: path, Err: err}
	}
	cmd.Stdin = p.childStdin
	cmd.Stdout = p.childStdout
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	} else {
		cmd.Stderr = p.childStderr
	}

	configureCmd(cmd, spec.Detach)

	if err := cmd.Start(); err != nil {
		p.closeChild()
		p.closeParent()
		return nil, &runtime.LaunchError{Name: spec.Name, Path: path, Err: err}
	}
	p.closeChild()

	inst := &processInstance{
		name:     spec.Name,
		cmd:      cmd,
		detached: spec.Detach,
		stdin:    p.stdin,
		stdout:   p.stdout,
		stderr:   p.stderr,
		waitDone: make(chan struct{}),
		exitCode: -1,
	}

	go func() {
		err := cmd.Wait()
		inst.mu.Lock()
		inst.waitErr = err
		if cmd.ProcessState != nil {
			inst.exitCode = cmd.ProcessState.ExitCode()
		}
		inst.mu.Unlock()
		close(inst.waitDone)
	}()

	return inst, nil
}

type pipes struct {
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	childStdin  *os.File
	childStdout *os.File
	childStderr *os.File
}

func openPipes(withStderr bool) (*pipes, error) {
	p := &pipes{}
	var err error
	if p.childStdin, p.stdin, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, p.childStdout, err = os.Pipe(); err != nil {
		p.closeChild()
		p.closeParent()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if !withStderr {
		return p, nil
	}
	if p.stderr, p.childStderr, err = os.Pipe(); err != nil {
		p.closeChild()
		p.closeParent()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return p, nil
}

func (p *pipes) closeChild() {
	closeFiles(p.childStdin, p.childStdout, p.childStderr)
}

func (p *pipes) closeParent() {
	closeFiles(p.stdin, p.stdout, p.stderr)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

type processInstance struct {
	name     string
	cmd      *exec.Cmd
	detached bool

	stdin  *os.File
	stdout *os.File
	stderr *os.File

	waitDone chan struct{}

	mu       sync.Mutex
	waitErr  error
	exitCode int

	closeOnce sync.Once
}

func (p *processInstance) Name() string {
	return p.name
}

func (p *processInstance) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *processInstance) Stdin() io.WriteCloser { return p.stdin }
func (p *processInstance) Stdout() io.ReadCloser { return p.stdout }
func (p *processInstance) Stderr() io.ReadCloser {
	if p.stderr == nil {
		return nil
	}
	return p.stderr
}

func (p *processInstance) Done() <-chan struct{} {
	return p.waitDone
}

func (p *processInstance) ExitCode() (int, bool) {
	select {
	case <-p.waitDone:
	default:
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

func (p *processInstance) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-p.waitDone:
	}
	if err := p.exitError(); err != nil {
		return -1, fmt.Errorf("wait %s: %w", p.name, err)
	}
	code, _ := p.ExitCode()
	return code, nil
}

// exitError returns the wait failure. Non-zero exit statuses are reported
// through the exit code, and a context cancellation that raced a clean exit
// still leaves a usable process state.
func (p *processInstance) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exitErr *exec.ExitError
	if p.waitErr == nil || errors.As(p.waitErr, &exitErr) || p.cmd.ProcessState != nil {
		return nil
	}
	return p.waitErr
}

func (p *processInstance) Close() error {
	p.closeOnce.Do(func() {
		closeFiles(p.stdin, p.stdout, p.stderr)
	})
	return nil
}
