package config

import (
	"fmt"
	"time"
)

const (
	// DefaultCollectorPrefix runs the collector with elevated privileges.
	DefaultCollectorPrefix = "sudo"
	// DefaultInterpreter runs the orchestrator script.
	DefaultInterpreter = "python3"
	// DefaultStopTimeout bounds orchestrator shutdown when stopOnExit is set.
	DefaultStopTimeout = 5 * time.Second
)

// Duration wraps time.Duration for YAML and properties decoding.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Agent is the supervisor configuration.
type Agent struct {
	// Workdir is the working directory of both processes and the base for
	// relative paths. When empty both processes inherit the supervisor's
	// working directory and paths are used as written.
	Workdir      string           `yaml:"workdir"`
	Collector    CollectorSpec    `yaml:"collector"`
	Orchestrator OrchestratorSpec `yaml:"orchestrator"`
	Pipe         PipeSpec         `yaml:"pipe"`

	// Source is the absolute path of the file the agent was loaded from.
	Source string `yaml:"-"`
	// Ignored lists properties keys outside the agent namespaces that were
	// skipped while loading.
	Ignored []string `yaml:"-"`
}

// ProcessSpec holds the settings shared by both child processes.
type ProcessSpec struct {
	Path        string            `yaml:"path"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`
}

// CollectorSpec configures the telemetry collector.
type CollectorSpec struct {
	ProcessSpec `yaml:",inline"`
	// Prefix is placed ahead of the collector path. A nil prefix takes the
	// default; an empty one runs the collector directly.
	Prefix []string `yaml:"prefix"`
}

// OrchestratorSpec configures the orchestrator script.
type OrchestratorSpec struct {
	ProcessSpec `yaml:",inline"`
	// Interpreter runs the script. A nil interpreter takes the default; an
	// empty one executes the script directly.
	Interpreter []string `yaml:"interpreter"`
	StopOnExit  bool     `yaml:"stopOnExit"`
	StopTimeout Duration `yaml:"stopTimeout"`
}

// PipeSpec tunes the stream tasks.
type PipeSpec struct {
	// DrainGrace is how long to wait for the relay and drains to finish
	// after the collector exits. Zero returns immediately.
	DrainGrace Duration `yaml:"drainGrace"`
}

// Command returns the collector argv.
func (c CollectorSpec) Command() []string {
	return joinCommand(c.Prefix, c.Path)
}

// Command returns the orchestrator argv.
func (o OrchestratorSpec) Command() []string {
	return joinCommand(o.Interpreter, o.Path)
}

func joinCommand(head []string, path string) []string {
	cmd := make([]string, 0, len(head)+1)
	cmd = append(cmd, head...)
	return append(cmd, path)
}

// ApplyDefaults fills unset fields.
func (a *Agent) ApplyDefaults() {
	if a.Collector.Prefix == nil {
		a.Collector.Prefix = []string{DefaultCollectorPrefix}
	}
	if a.Orchestrator.Interpreter == nil {
		a.Orchestrator.Interpreter = []string{DefaultInterpreter}
	}
	if !a.Orchestrator.StopTimeout.IsSet() {
		a.Orchestrator.StopTimeout.Duration = DefaultStopTimeout
	}
}

// Validate checks the agent for required keys and sane values.
func (a *Agent) Validate() error {
	if a.Collector.Path == "" {
		return keyError("collector.path", ErrMissingKey)
	}
	if a.Orchestrator.Path == "" {
		return keyError("orchestrator.path", ErrMissingKey)
	}
	for i, arg := range a.Collector.Prefix {
		if arg == "" {
			return keyErrorf(fmt.Sprintf("collector.prefix[%d]", i), "must not be empty")
		}
	}
	for i, arg := range a.Orchestrator.Interpreter {
		if arg == "" {
			return keyErrorf(fmt.Sprintf("orchestrator.interpreter[%d]", i), "must not be empty")
		}
	}
	if a.Orchestrator.StopTimeout.Duration < 0 {
		return keyErrorf("orchestrator.stopTimeout", "must not be negative")
	}
	if a.Orchestrator.StopOnExit && a.Orchestrator.StopTimeout.Duration == 0 {
		return keyErrorf("orchestrator.stopTimeout", "must be positive when stopOnExit is set")
	}
	if a.Pipe.DrainGrace.Duration < 0 {
		return keyErrorf("pipe.drainGrace", "must not be negative")
	}
	return nil
}
