package engine

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/agentmgr/internal/relay"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger used for lifecycle milestones.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStdoutSink sets the callback receiving the orchestrator's stdout lines.
func WithStdoutSink(sink func(line string)) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.stdoutSink = sink
		}
	}
}

// WithStderrSink sets the callback receiving the orchestrator's stderr lines.
func WithStderrSink(sink func(line string)) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.stderrSink = sink
		}
	}
}

// WithStreamErrorHook registers an additional observer for relay and drain
// failures. Failures are always logged and counted; the hook never affects
// the outcome of Run.
func WithStreamErrorHook(hook relay.ErrorHook) Option {
	return func(s *Supervisor) {
		s.streamErrHook = hook
	}
}

// WithOrchestratorShutdown stops the orchestrator once the collector has
// exited, escalating to a kill if it is still running after timeout. Without
// this option the orchestrator is left running when Run returns.
func WithOrchestratorShutdown(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.stopOrchestrator = true
		if timeout > 0 {
			s.stopTimeout = timeout
		}
	}
}

// WithDrainGrace makes Run wait up to d for the relay and drains to finish
// after the collector exits. Zero leaves them running in the background.
func WithDrainGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainGrace = d
		}
	}
}

// LineWriter returns a sink that writes each line to w followed by "\n".
func LineWriter(w io.Writer) func(string) {
	return func(line string) {
		_, _ = fmt.Fprintln(w, line)
	}
}

func defaultStdoutSink() func(string) { return LineWriter(os.Stdout) }
func defaultStderrSink() func(string) { return LineWriter(os.Stderr) }
