package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"go.uber.org/zap"

	"github.com/Paintersrp/agentmgr/internal/api"
	"github.com/Paintersrp/agentmgr/internal/cliutil"
	"github.com/Paintersrp/agentmgr/internal/metrics"
	"github.com/Paintersrp/agentmgr/internal/relay"
	"github.com/Paintersrp/agentmgr/internal/runtime"
)

const (
	defaultStopTimeout  = 5 * time.Second
	instanceStopTimeout = 5 * time.Second
)

// Supervisor phases reported by Status.
const (
	PhaseIdle      = "idle"
	PhaseLaunching = "launching"
	PhaseRunning   = "running"
	PhaseExited    = "exited"
	PhaseFailed    = "failed"
)

// Supervisor launches the collector and the orchestrator, pipes the
// collector's stdout into the orchestrator's stdin, relays the
// orchestrator's output to local sinks and waits for the collector to exit.
//
// Only the collector is waited on. The relay, the drains and the
// orchestrator keep running in the background after Run returns unless
// WithDrainGrace or WithOrchestratorShutdown say otherwise.
type Supervisor struct {
	launcher         runtime.Launcher
	collectorSpec    runtime.Spec
	orchestratorSpec runtime.Spec

	logger        *zap.Logger
	stdoutSink    func(string)
	stderrSink    func(string)
	streamErrHook relay.ErrorHook

	stopOrchestrator bool
	stopTimeout      time.Duration
	drainGrace       time.Duration

	mu           sync.Mutex
	phase        string
	collector    runtime.Handle
	orchestrator runtime.Handle
	pipeline     *Pipeline
}

// New constructs a supervisor for the given process specs.
func New(launcher runtime.Launcher, collector, orchestrator runtime.Spec, opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:         launcher,
		collectorSpec:    collector,
		orchestratorSpec: orchestrator,
		logger:           zap.NewNop(),
		stdoutSink:       defaultStdoutSink(),
		stderrSink:       defaultStderrSink(),
		stopTimeout:      defaultStopTimeout,
		phase:            PhaseIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Launch starts the collector and then the orchestrator. If the
// orchestrator cannot be started the collector is killed before the error
// is returned, so a failed launch leaves nothing running.
func (s *Supervisor) Launch(ctx context.Context) (runtime.Handle, runtime.Handle, error) {
	s.setPhase(PhaseLaunching)

	collector, err := s.start(ctx, s.collectorSpec)
	if err != nil {
		s.setPhase(PhaseFailed)
		return nil, nil, err
	}

	orchestrator, err := s.start(ctx, s.orchestratorSpec)
	if err != nil {
		stopCtx, cancel := failureStopContext()
		if kerr := collector.Kill(stopCtx); kerr != nil {
			s.logger.Warn("kill collector after failed launch", zap.String("process", collector.Name()), zap.Error(kerr))
		}
		cancel()
		_ = collector.Close()
		s.setPhase(PhaseFailed)
		return nil, nil, err
	}

	s.mu.Lock()
	s.collector = collector
	s.orchestrator = orchestrator
	s.mu.Unlock()
	return collector, orchestrator, nil
}

func (s *Supervisor) start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	h, err := s.launcher.Start(ctx, spec)
	if err != nil {
		metrics.IncLaunchFailure(spec.Name)
		var launchErr *runtime.LaunchError
		if !errors.As(err, &launchErr) {
			err = &runtime.LaunchError{Name: spec.Name, Err: err}
		}
		return nil, err
	}
	metrics.IncProcessStart(spec.Name)
	s.logger.Info("process started",
		zap.String("process", spec.Name),
		zap.Int("pid", h.PID()),
		zap.Strings("command", cliutil.RedactArgs(spec.Command)),
	)
	return h, nil
}

// Wire binds the collector's stdout to the orchestrator's stdin and the
// orchestrator's stdout and stderr to the local sinks. Nothing runs until
// the returned pipeline is started.
func (s *Supervisor) Wire(collector, orchestrator runtime.Handle) *Pipeline {
	p := &Pipeline{
		Relay:  relay.NewLineRelay(TaskRelay, collector.Stdout(), orchestrator.Stdin(), s.taskOptions(TaskRelay)...),
		Stdout: relay.NewDrain(TaskStdout, orchestrator.Stdout(), s.stdoutSink, s.taskOptions(TaskStdout)...),
		Stderr: relay.NewDrain(TaskStderr, orchestrator.Stderr(), s.stderrSink, s.taskOptions(TaskStderr)...),
	}
	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()
	return p
}

func (s *Supervisor) taskOptions(task string) []relay.Option {
	return []relay.Option{
		relay.WithLineObserver(func(size int) { metrics.ObserveLine(task, size) }),
		relay.WithErrorHook(s.onStreamError),
	}
}

func (s *Supervisor) onStreamError(err *relay.StreamError) {
	metrics.IncStreamError(err.Task)
	s.logger.Warn("stream closed on error",
		zap.String("task", err.Task),
		zap.String("op", err.Op),
		zap.Error(err.Err),
	)
	if s.streamErrHook != nil {
		s.streamErrHook(err)
	}
}

// Run launches both processes, starts the relay and drains, and blocks until
// the collector exits. It returns the collector's exit code. Launch failures
// are returned before any task starts. If ctx ends first both processes are
// stopped and ctx's error is returned.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	collector, orchestrator, err := s.Launch(ctx)
	if err != nil {
		return -1, err
	}

	p := s.Wire(collector, orchestrator)
	p.Start()
	s.setPhase(PhaseRunning)
	s.logger.Info("telemetry pipe active",
		zap.String("from", collector.Name()),
		zap.String("to", orchestrator.Name()),
	)

	code, err := collector.Wait(ctx)
	if err != nil {
		s.abort(collector, orchestrator, p)
		s.setPhase(PhaseFailed)
		return -1, err
	}

	s.setPhase(PhaseExited)
	metrics.SetExitCode(collector.Name(), code)
	s.logger.Info("collector exited", zap.String("process", collector.Name()), zap.Int("exit_code", code))

	if s.stopOrchestrator {
		s.stopProcess(orchestrator, s.stopTimeout)
	}
	if s.drainGrace > 0 {
		s.join(p, s.drainGrace)
	}
	return code, nil
}

func (s *Supervisor) abort(collector, orchestrator runtime.Handle, p *Pipeline) {
	s.logger.Warn("supervisor interrupted, stopping processes")
	s.stopProcess(collector, instanceStopTimeout)
	s.stopProcess(orchestrator, instanceStopTimeout)
	p.Cancel()
}

func (s *Supervisor) stopProcess(h runtime.Handle, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		s.logger.Warn("stop process", zap.String("process", h.Name()), zap.Error(err))
		return
	}
	if code, exited := h.ExitCode(); exited {
		metrics.SetExitCode(h.Name(), code)
		s.logger.Info("process stopped", zap.String("process", h.Name()), zap.Int("exit_code", code))
	}
}

func (s *Supervisor) join(p *Pipeline, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	results, err := p.Wait(ctx)
	if err != nil {
		s.logger.Warn("pipeline still active after drain grace", zap.Duration("grace", grace))
	}
	for _, res := range results {
		s.logger.Info("task finished",
			zap.String("task", res.Task),
			zap.Stringer("status", res.Status),
			zap.Int64("lines", res.Lines),
			zap.String("bytes", units.HumanSize(float64(res.Bytes))),
		)
	}
}

// Pipeline returns the wired pipeline, or nil before Wire has run.
func (s *Supervisor) Pipeline() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline
}

// Orchestrator returns the launched orchestrator, or nil before Launch has
// succeeded. It stays valid after Run returns.
func (s *Supervisor) Orchestrator() runtime.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orchestrator
}

// Status returns a snapshot of the processes and tasks.
func (s *Supervisor) Status() api.StatusReport {
	s.mu.Lock()
	phase := s.phase
	handles := []runtime.Handle{s.collector, s.orchestrator}
	pipeline := s.pipeline
	s.mu.Unlock()

	report := api.StatusReport{
		GeneratedAt: time.Now(),
		Phase:       phase,
		Processes:   []api.ProcessReport{},
		Tasks:       []api.TaskReport{},
	}
	for _, h := range handles {
		if h == nil {
			continue
		}
		pr := api.ProcessReport{Name: h.Name(), PID: h.PID(), Running: true}
		if code, exited := h.ExitCode(); exited {
			pr.Running = false
			pr.ExitCode = &code
		}
		report.Processes = append(report.Processes, pr)
	}
	for _, task := range pipeline.Tasks() {
		snap := task.Snapshot()
		tr := api.TaskReport{
			Name:   snap.Task,
			Status: snap.Status.String(),
			Lines:  snap.Lines,
			Bytes:  snap.Bytes,
		}
		if snap.Err != nil {
			tr.Error = snap.Err.Error()
		}
		report.Tasks = append(report.Tasks, tr)
	}
	return report
}

func (s *Supervisor) setPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

func failureStopContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), instanceStopTimeout)
}
