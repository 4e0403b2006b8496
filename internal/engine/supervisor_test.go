package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	stdruntime "runtime"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paintersrp/agentmgr/internal/relay"
	"github.com/Paintersrp/agentmgr/internal/runtime"
	"github.com/Paintersrp/agentmgr/internal/runtime/process"
)

var (
	collectorSpec    = runtime.Spec{Name: "collector", Command: []string{"collector"}}
	orchestratorSpec = runtime.Spec{Name: "orchestrator", Command: []string{"orchestrator"}}
)

func runWithTimeout(t *testing.T, sup *Supervisor) (int, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sup.Run(ctx)
}

func TestRunEndToEndWithFakes(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(0, "A", "B", "C")
	launcher.behaviour["orchestrator"] = echoSeen

	out := &lineCollector{}
	sup := New(launcher, collectorSpec, orchestratorSpec,
		WithStdoutSink(out.sink),
		WithStderrSink(func(string) {}),
		WithDrainGrace(2*time.Second),
	)

	code, err := runWithTimeout(t, sup)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	got := out.snapshot()
	want := []string{"seen:A", "seen:B", "seen:C"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q want %q", i, got[i], want[i])
		}
	}

	for _, task := range sup.Pipeline().Tasks() {
		if status := task.Status(); status != relay.StatusCompleted {
			t.Fatalf("task %s: expected completed, got %s", task.Name(), status)
		}
	}
}

func TestRunReturnsCollectorExitCode(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(7)
	launcher.behaviour["orchestrator"] = echoSeen

	out := &lineCollector{}
	sup := New(launcher, collectorSpec, orchestratorSpec,
		WithStdoutSink(out.sink),
		WithDrainGrace(2*time.Second),
	)

	code, err := runWithTimeout(t, sup)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}

	res := sup.Pipeline().Relay.Snapshot()
	if res.Status != relay.StatusCompleted || res.Lines != 0 {
		t.Fatalf("relay should observe immediate end of stream, got %+v", res)
	}
	if lines := out.snapshot(); len(lines) != 0 {
		t.Fatalf("expected no orchestrator output, got %v", lines)
	}
}

func TestRunDoesNotWaitForOrchestrator(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(0)
	launcher.behaviour["orchestrator"] = idle

	sup := New(launcher, collectorSpec, orchestratorSpec)
	code, err := runWithTimeout(t, sup)
	if err != nil || code != 0 {
		t.Fatalf("run returned %d, %v", code, err)
	}

	orch := launcher.process("orchestrator")
	if orch.stopped.Load() {
		t.Fatalf("orchestrator must be left running without a shutdown hook")
	}
	if _, exited := orch.ExitCode(); exited {
		t.Fatalf("orchestrator unexpectedly exited")
	}
	orch.exit(0)
}

func TestRunStopsOrchestratorWhenConfigured(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(0)
	launcher.behaviour["orchestrator"] = idle

	sup := New(launcher, collectorSpec, orchestratorSpec, WithOrchestratorShutdown(time.Second))
	if _, err := runWithTimeout(t, sup); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !launcher.process("orchestrator").stopped.Load() {
		t.Fatalf("expected orchestrator to be stopped after the collector exited")
	}
}

func TestRunCollectorLaunchFailure(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.failures["collector"] = &runtime.LaunchError{Name: "collector", Path: "/missing", Err: os.ErrNotExist}

	sup := New(launcher, collectorSpec, orchestratorSpec)
	code, err := runWithTimeout(t, sup)

	var launchErr *runtime.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if code != -1 {
		t.Fatalf("expected -1 exit code on launch failure, got %d", code)
	}
	if names := launcher.startedNames(); len(names) != 0 {
		t.Fatalf("no process should start, got %v", names)
	}
	if sup.Pipeline() != nil {
		t.Fatalf("no relay or drain should be wired after a launch failure")
	}
	if phase := sup.Status().Phase; phase != PhaseFailed {
		t.Fatalf("expected phase %s, got %s", PhaseFailed, phase)
	}
}

func TestRunOrchestratorLaunchFailureKillsCollector(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = idle
	launcher.failures["orchestrator"] = errors.New("permission denied")

	sup := New(launcher, collectorSpec, orchestratorSpec)
	_, err := runWithTimeout(t, sup)

	var launchErr *runtime.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected launcher errors to be wrapped in LaunchError, got %T %v", err, err)
	}
	if launchErr.Name != "orchestrator" {
		t.Fatalf("expected orchestrator launch error, got %s", launchErr.Name)
	}
	if !launcher.process("collector").stopped.Load() {
		t.Fatalf("collector must be killed when the orchestrator cannot start")
	}
	if sup.Pipeline() != nil {
		t.Fatalf("no relay or drain should be wired after a launch failure")
	}
}

func TestRunReportsStreamErrorsWithoutFailing(t *testing.T) {
	launcher := newFakeLauncher()
	release := make(chan struct{})
	launcher.behaviour["collector"] = func(p *fakeProcess) {
		_, _ = fmt.Fprintln(p.stdoutW, "lost")
		<-release
		p.exit(0)
	}
	launcher.behaviour["orchestrator"] = func(p *fakeProcess) {
		// An orchestrator that stopped reading its input.
		_ = p.stdinR.Close()
		<-p.done
	}

	hooked := make(chan *relay.StreamError, 1)
	core, logs := observer.New(zap.InfoLevel)
	sup := New(launcher, collectorSpec, orchestratorSpec,
		WithLogger(zap.New(core)),
		WithStreamErrorHook(func(err *relay.StreamError) { hooked <- err }),
	)

	go func() {
		select {
		case <-hooked:
		case <-time.After(2 * time.Second):
		}
		close(release)
	}()

	code, err := runWithTimeout(t, sup)
	if err != nil {
		t.Fatalf("stream errors must not surface from Run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}

	res, err := sup.Pipeline().Relay.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait relay: %v", err)
	}
	if res.Status != relay.StatusErrored {
		t.Fatalf("expected errored relay, got %s", res.Status)
	}
	if !errors.Is(res.Err, io.ErrClosedPipe) {
		t.Fatalf("expected closed pipe error, got %v", res.Err)
	}
	warned := logs.FilterMessage("stream closed on error").All()
	if len(warned) != 1 {
		t.Fatalf("expected one stream error log entry, got %d", len(warned))
	}
	if task := warned[0].ContextMap()["task"]; task != TaskRelay {
		t.Fatalf("expected task %s in log, got %v", TaskRelay, task)
	}
	launcher.process("orchestrator").exit(0)
}

func TestRunStopsEverythingWhenContextEnds(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = idle
	launcher.behaviour["orchestrator"] = idle

	sup := New(launcher, collectorSpec, orchestratorSpec)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	code, err := sup.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if code != -1 {
		t.Fatalf("expected -1, got %d", code)
	}
	for _, name := range []string{"collector", "orchestrator"} {
		if !launcher.process(name).stopped.Load() {
			t.Fatalf("%s was not stopped", name)
		}
	}
	for _, task := range sup.Pipeline().Tasks() {
		select {
		case <-task.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("task %s still running after interruption", task.Name())
		}
	}
}

func TestRunLogsLifecycleMilestones(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(3, "x")
	launcher.behaviour["orchestrator"] = echoSeen

	core, logs := observer.New(zap.InfoLevel)
	sup := New(launcher, collectorSpec, orchestratorSpec,
		WithLogger(zap.New(core)),
		WithStdoutSink(func(string) {}),
		WithDrainGrace(2*time.Second),
	)
	if _, err := runWithTimeout(t, sup); err != nil {
		t.Fatalf("run: %v", err)
	}

	if n := logs.FilterMessage("process started").Len(); n != 2 {
		t.Fatalf("expected 2 process started entries, got %d", n)
	}
	if n := logs.FilterMessage("telemetry pipe active").Len(); n != 1 {
		t.Fatalf("expected pipe active entry, got %d", n)
	}
	exited := logs.FilterMessage("collector exited").All()
	if len(exited) != 1 {
		t.Fatalf("expected collector exited entry, got %d", len(exited))
	}
	if code := exited[0].ContextMap()["exit_code"]; code != int64(3) {
		t.Fatalf("expected exit_code 3 in log, got %v (%T)", code, code)
	}
	if n := logs.FilterMessage("task finished").Len(); n != 3 {
		t.Fatalf("expected 3 task finished entries, got %d", n)
	}
}

func TestStatusReportsProcessesAndTasks(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.behaviour["collector"] = emitLines(0, "one", "two")
	launcher.behaviour["orchestrator"] = echoSeen

	sup := New(launcher, collectorSpec, orchestratorSpec,
		WithStdoutSink(func(string) {}),
		WithDrainGrace(2*time.Second),
	)
	if status := sup.Status(); status.Phase != PhaseIdle || len(status.Processes) != 0 {
		t.Fatalf("unexpected status before run: %+v", status)
	}
	if _, err := runWithTimeout(t, sup); err != nil {
		t.Fatalf("run: %v", err)
	}

	status := sup.Status()
	if status.Phase != PhaseExited {
		t.Fatalf("expected phase %s, got %s", PhaseExited, status.Phase)
	}
	if len(status.Processes) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(status.Processes))
	}
	collector := status.Processes[0]
	if collector.Name != "collector" || collector.Running || collector.ExitCode == nil || *collector.ExitCode != 0 {
		t.Fatalf("unexpected collector report %+v", collector)
	}
	if len(status.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(status.Tasks))
	}
	if status.Tasks[0].Name != TaskRelay || status.Tasks[0].Lines != 2 {
		t.Fatalf("unexpected relay report %+v", status.Tasks[0])
	}
	if status.Tasks[1].Name != TaskStdout || status.Tasks[1].Lines != 2 {
		t.Fatalf("unexpected stdout drain report %+v", status.Tasks[1])
	}
}

func TestRunWithLocalProcesses(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("process runtime tests skipped on windows")
	}

	dir := t.TempDir()
	collectorScript := filepath.Join(dir, "collector.sh")
	orchestratorScript := filepath.Join(dir, "orchestrator.sh")
	if err := os.WriteFile(collectorScript, []byte("printf 'A\\nB\\nC\\n'\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write collector: %v", err)
	}
	orchestrator := "while IFS= read -r line; do echo \"seen:$line\"; done\necho done >&2\n"
	if err := os.WriteFile(orchestratorScript, []byte(orchestrator), 0o755); err != nil {
		t.Fatalf("write orchestrator: %v", err)
	}

	out := &lineCollector{}
	errOut := &lineCollector{}
	sup := New(process.New(),
		runtime.Spec{Name: "collector", Command: []string{"/bin/sh", collectorScript}, Target: collectorScript},
		runtime.Spec{Name: "orchestrator", Command: []string{"/bin/sh", orchestratorScript}, Target: orchestratorScript, Detach: true},
		WithStdoutSink(out.sink),
		WithStderrSink(errOut.sink),
		WithDrainGrace(5*time.Second),
	)

	code, err := runWithTimeout(t, sup)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	got := out.snapshot()
	want := []string{"seen:A", "seen:B", "seen:C"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if errs := errOut.snapshot(); len(errs) != 1 || errs[0] != "done" {
		t.Fatalf("expected stderr drain to forward %q, got %v", "done", errs)
	}
}

func TestRunWithLocalProcessesMissingCollector(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("process runtime tests skipped on windows")
	}

	missing := filepath.Join(t.TempDir(), "collector")
	sup := New(process.New(),
		runtime.Spec{Name: "collector", Command: []string{"/bin/sh", missing}, Target: missing},
		runtime.Spec{Name: "orchestrator", Command: []string{"/bin/sh", "-c", "cat"}},
	)
	_, err := runWithTimeout(t, sup)
	var launchErr *runtime.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if sup.Pipeline() != nil {
		t.Fatalf("no tasks should be wired after a launch failure")
	}
}

func TestRunLeavesOrchestratorRunningAfterContextEnds(t *testing.T) {
	if stdruntime.GOOS == "windows" {
		t.Skip("process runtime tests skipped on windows")
	}

	dir := t.TempDir()
	collectorScript := filepath.Join(dir, "collector.sh")
	orchestratorScript := filepath.Join(dir, "orchestrator.sh")
	if err := os.WriteFile(collectorScript, []byte("echo A\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write collector: %v", err)
	}
	orchestrator := "while IFS= read -r line; do echo \"seen:$line\"; done\nsleep 30\n"
	if err := os.WriteFile(orchestratorScript, []byte(orchestrator), 0o755); err != nil {
		t.Fatalf("write orchestrator: %v", err)
	}

	out := &lineCollector{}
	sup := New(process.New(),
		runtime.Spec{Name: "collector", Command: []string{"/bin/sh", collectorScript}, Target: collectorScript},
		runtime.Spec{Name: "orchestrator", Command: []string{"/bin/sh", orchestratorScript}, Target: orchestratorScript, Detach: true},
		WithStdoutSink(out.sink),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	code, err := sup.Run(ctx)
	cancel()
	if err != nil || code != 0 {
		t.Fatalf("run returned %d, %v", code, err)
	}

	orch := sup.Orchestrator()
	if orch == nil {
		t.Fatalf("orchestrator handle missing after run")
	}
	defer orch.Close()
	select {
	case <-orch.Done():
		code, _ := orch.ExitCode()
		t.Fatalf("orchestrator ended with the run context, exit code %d", code)
	case <-time.After(300 * time.Millisecond):
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := orch.Stop(stopCtx); err != nil {
		t.Fatalf("stop orchestrator: %v", err)
	}
}
