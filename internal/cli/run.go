package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/Paintersrp/agentmgr/internal/api/http"
	"github.com/Paintersrp/agentmgr/internal/cliutil"
	"github.com/Paintersrp/agentmgr/internal/config"
	"github.com/Paintersrp/agentmgr/internal/engine"
	"github.com/Paintersrp/agentmgr/internal/runtime"
	"github.com/Paintersrp/agentmgr/internal/runtime/process"
)

const (
	collectorName    = "collector"
	orchestratorName = "orchestrator"
)

// newLauncher builds the process launcher used by run.
var newLauncher = func() runtime.Launcher { return process.New() }

func newRunCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Launch the collector and orchestrator and relay telemetry until the collector exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.run(cmd)
		},
	}
}

func (c *context) run(cmd *cobra.Command) error {
	logOut, err := c.logWriter(cmd)
	if err != nil {
		return err
	}
	logger, err := cliutil.NewLogger(c.logFormat, c.logLevel, logOut)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	agent, err := config.Load(c.configFile)
	if err != nil {
		logger.Error("load configuration", zap.Error(err))
		return err
	}
	c.applyOverrides(cmd, agent)
	for _, key := range agent.Ignored {
		logger.Warn("ignoring unknown configuration key", zap.String("key", key))
	}

	stdoutSink, stderrSink, err := newLineSinks(c.outputFormat, orchestratorName, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	collector, orchestrator := processSpecs(agent, cmd.ErrOrStderr())
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithStdoutSink(stdoutSink),
		engine.WithStderrSink(stderrSink),
	}
	if agent.Orchestrator.StopOnExit {
		opts = append(opts, engine.WithOrchestratorShutdown(agent.Orchestrator.StopTimeout.Duration))
	}
	if grace := agent.Pipe.DrainGrace.Duration; grace > 0 {
		opts = append(opts, engine.WithDrainGrace(grace))
	}
	sup := engine.New(newLauncher(), collector, orchestrator, opts...)

	if c.metricsAddr != "" {
		stopServer, err := startStatusServer(cmd.Context(), c.metricsAddr, sup, logger)
		if err != nil {
			logger.Error("start status server", zap.Error(err))
			return err
		}
		defer stopServer()
	}

	logger.Info("configuration loaded", zap.String("config", agent.Source))
	code, err := sup.Run(cmd.Context())
	if err != nil {
		var launchErr *runtime.LaunchError
		switch {
		case errors.As(err, &launchErr):
			logger.Error("launch failed", zap.String("process", launchErr.Name), zap.Error(launchErr.Err))
		case errors.Is(err, stdcontext.Canceled):
			logger.Warn("interrupted")
		default:
			logger.Error("supervisor failed", zap.Error(err))
		}
		return err
	}
	c.exitCode = code
	return nil
}

// logWriter picks the stream for supervisor logs. stdout interleaves the
// milestones with relayed orchestrator output.
func (c *context) logWriter(cmd *cobra.Command) (io.Writer, error) {
	switch strings.ToLower(c.logOutput) {
	case logOutputStderr, "":
		return cmd.ErrOrStderr(), nil
	case logOutputStdout:
		return cmd.OutOrStdout(), nil
	default:
		return nil, fmt.Errorf("unsupported log output %q", c.logOutput)
	}
}

func (c *context) applyOverrides(cmd *cobra.Command, agent *config.Agent) {
	flags := cmd.Flags()
	if flags.Changed("stop-orchestrator") {
		agent.Orchestrator.StopOnExit = c.stopOrchestrator
	}
	if flags.Changed("drain-grace") {
		agent.Pipe.DrainGrace.Duration = c.drainGrace
	}
}

// processSpecs builds the launch specs. The collector shares the terminal
// (sudo may prompt) and its stderr goes straight to errOut; the
// orchestrator runs in its own process group so that a shutdown reaches
// the interpreter's children.
func processSpecs(agent *config.Agent, errOut io.Writer) (runtime.Spec, runtime.Spec) {
	collector := runtime.Spec{
		Name:    collectorName,
		Command: agent.Collector.Command(),
		Target:  agent.Collector.Path,
		Workdir: agent.Workdir,
		Env:     agent.Collector.Env,
		Stderr:  errOut,
	}
	orchestrator := runtime.Spec{
		Name:    orchestratorName,
		Command: agent.Orchestrator.Command(),
		Target:  agent.Orchestrator.Path,
		Workdir: agent.Workdir,
		Env:     agent.Orchestrator.Env,
		Detach:  true,
	}
	return collector, orchestrator
}

func startStatusServer(ctx stdcontext.Context, addr string, sup *engine.Supervisor, logger *zap.Logger) (func(), error) {
	server, err := httpapi.NewServer(httpapi.Config{
		Addr:     addr,
		Provider: sup,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	srvCtx, cancel := stdcontext.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Run(srvCtx); err != nil {
			logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}
