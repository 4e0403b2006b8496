package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/Paintersrp/agentmgr/internal/runtime"
)

// fakeProcess is an in-memory runtime.Handle backed by io.Pipe pairs.
type fakeProcess struct {
	name string
	pid  int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	mu       sync.Mutex
	code     int

	stopped atomic.Bool
}

func newFakeProcess(name string, pid int) *fakeProcess {
	f := &fakeProcess{name: name, pid: pid, done: make(chan struct{})}
	f.stdinR, f.stdinW = io.Pipe()
	f.stdoutR, f.stdoutW = io.Pipe()
	f.stderrR, f.stderrW = io.Pipe()
	return f
}

func (f *fakeProcess) exit(code int) {
	f.exitOnce.Do(func() {
		f.mu.Lock()
		f.code = code
		f.mu.Unlock()
		_ = f.stdoutW.Close()
		_ = f.stderrW.Close()
		close(f.done)
	})
}

func (f *fakeProcess) Name() string          { return f.name }
func (f *fakeProcess) PID() int              { return f.pid }
func (f *fakeProcess) Stdin() io.WriteCloser { return f.stdinW }
func (f *fakeProcess) Stdout() io.ReadCloser { return f.stdoutR }
func (f *fakeProcess) Stderr() io.ReadCloser { return f.stderrR }
func (f *fakeProcess) Done() <-chan struct{} { return f.done }
func (f *fakeProcess) Close() error          { return nil }

func (f *fakeProcess) ExitCode() (int, bool) {
	select {
	case <-f.done:
	default:
		return 0, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, true
}

func (f *fakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case <-f.done:
	}
	code, _ := f.ExitCode()
	return code, nil
}

func (f *fakeProcess) Stop(context.Context) error {
	f.stopped.Store(true)
	f.exit(-1)
	return nil
}

func (f *fakeProcess) Kill(ctx context.Context) error {
	return f.Stop(ctx)
}

// fakeLauncher starts fake processes and runs a behaviour for each in its
// own goroutine.
type fakeLauncher struct {
	mu        sync.Mutex
	behaviour map[string]func(*fakeProcess)
	failures  map[string]error
	started   map[string]*fakeProcess
	order     []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		behaviour: map[string]func(*fakeProcess){},
		failures:  map[string]error{},
		started:   map[string]*fakeProcess{},
	}
}

func (l *fakeLauncher) Start(_ context.Context, spec runtime.Spec) (runtime.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err, ok := l.failures[spec.Name]; ok {
		return nil, err
	}
	proc := newFakeProcess(spec.Name, 1000+len(l.order))
	l.started[spec.Name] = proc
	l.order = append(l.order, spec.Name)
	if fn := l.behaviour[spec.Name]; fn != nil {
		go fn(proc)
	}
	return proc, nil
}

func (l *fakeLauncher) process(name string) *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started[name]
}

func (l *fakeLauncher) startedNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// emitLines writes each line to the fake's stdout and then exits.
func emitLines(code int, lines ...string) func(*fakeProcess) {
	return func(p *fakeProcess) {
		for _, line := range lines {
			if _, err := fmt.Fprintln(p.stdoutW, line); err != nil {
				break
			}
		}
		p.exit(code)
	}
}

// echoSeen prefixes every stdin line with "seen:" on stdout and exits with
// code 0 once stdin closes.
func echoSeen(p *fakeProcess) {
	scanner := bufio.NewScanner(p.stdinR)
	for scanner.Scan() {
		if _, err := fmt.Fprintf(p.stdoutW, "seen:%s\n", scanner.Text()); err != nil {
			p.exit(1)
			return
		}
	}
	p.exit(0)
}

// idle blocks until the fake is stopped.
func idle(p *fakeProcess) {
	<-p.done
}

// lineCollector is a concurrency-safe sink.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) sink(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
