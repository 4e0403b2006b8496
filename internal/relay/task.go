package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCompleted
	StatusErrored
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Terminal reports whether the status is one of the end states.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// StreamError is a read or write failure that ended a task.
type StreamError struct {
	Task string
	Op   string
	Err  error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Task, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// Result summarises a task. Lines and Bytes count what was forwarded; Bytes
// excludes line terminators.
type Result struct {
	Task   string
	Status Status
	Lines  int64
	Bytes  int64
	Err    error
}

// ErrorHook observes the stream error that ended a task.
type ErrorHook func(err *StreamError)

// Option configures a task.
type Option func(*Task)

// WithErrorHook registers a hook invoked once when the task ends on an I/O
// failure. Cancellation is not reported.
func WithErrorHook(hook ErrorHook) Option {
	return func(t *Task) {
		t.onError = hook
	}
}

// WithLineObserver registers a callback invoked after each forwarded line
// with the line length in bytes.
func WithLineObserver(fn func(size int)) Option {
	return func(t *Task) {
		t.onLine = fn
	}
}

// Task is the handle for a single relay or drain loop.
type Task struct {
	name   string
	source io.Reader

	// forward handles one line; finish runs once when the loop exits.
	forward func(line string) (op string, err error)
	finish  func()

	onError ErrorHook
	onLine  func(size int)

	status    atomic.Int32
	lines     atomic.Int64
	bytes     atomic.Int64
	cancelled atomic.Bool

	startOnce sync.Once
	done      chan struct{}
	result    Result
}

func newTask(name string, source io.Reader, opts []Option) *Task {
	t := &Task{
		name:   name,
		source: source,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	return Status(t.status.Load())
}

// Snapshot returns the counters observed so far. Once the task has ended it
// returns the final Result.
func (t *Task) Snapshot() Result {
	select {
	case <-t.done:
		return t.result
	default:
	}
	return Result{
		Task:   t.name,
		Status: t.Status(),
		Lines:  t.lines.Load(),
		Bytes:  t.bytes.Load(),
	}
}

// Start runs the task in a new goroutine and returns it.
func (t *Task) Start() *Task {
	go t.Run()
	return t
}

// Run executes the loop in the calling goroutine until the source ends, an
// I/O error occurs or the task is cancelled. A task runs at most once;
// further calls wait for the first run and return its result.
func (t *Task) Run() Result {
	first := false
	t.startOnce.Do(func() { first = true })
	if !first {
		<-t.done
		return t.result
	}

	t.status.Store(int32(StatusRunning))
	serr := t.loop()
	if t.finish != nil {
		t.finish()
	}

	res := Result{
		Task:  t.name,
		Lines: t.lines.Load(),
		Bytes: t.bytes.Load(),
	}
	switch {
	case t.cancelled.Load():
		res.Status = StatusCancelled
	case serr != nil:
		res.Status = StatusErrored
		res.Err = serr
	default:
		res.Status = StatusCompleted
	}

	if res.Status == StatusErrored && t.onError != nil {
		t.onError(serr)
	}

	t.result = res
	t.status.Store(int32(res.Status))
	close(t.done)
	return res
}

func (t *Task) loop() *StreamError {
	if t.source == nil {
		return nil
	}
	reader := bufio.NewReader(t.source)
	for {
		if t.cancelled.Load() {
			return nil
		}
		raw, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return &StreamError{Task: t.name, Op: "read", Err: err}
		}
		// A trailing fragment without a terminator is still a line.
		if raw != "" {
			line := trimTerminator(raw)
			if op, werr := t.forward(line); werr != nil {
				return &StreamError{Task: t.name, Op: op, Err: werr}
			}
			t.lines.Add(1)
			t.bytes.Add(int64(len(line)))
			if t.onLine != nil {
				t.onLine(len(line))
			}
		}
		if err != nil {
			return nil
		}
	}
}

func trimTerminator(raw string) string {
	line := strings.TrimSuffix(raw, "\n")
	return strings.TrimSuffix(line, "\r")
}

// Done is closed when the task has ended.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return t.Snapshot(), ctx.Err()
	}
}

// Cancel stops the task. A blocked read is interrupted when the source is
// an io.Closer; otherwise the task stops before its next read.
func (t *Task) Cancel() {
	select {
	case <-t.done:
		return
	default:
	}
	t.cancelled.Store(true)
	if c, ok := t.source.(io.Closer); ok {
		_ = c.Close()
	}
}

func closeQuietly(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
