package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/agentmgr/internal/cliutil"
)

const (
	defaultConfigFile = "agent.properties"

	envConfigFile  = "AGENTMGR_CONFIG"
	envMetricsAddr = "AGENTMGR_METRICS_ADDR"

	outputFormatText = "text"
	outputFormatJSON = "json"

	logOutputStderr = "stderr"
	logOutputStdout = "stdout"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{
		configFile:   envOrDefault(envConfigFile, defaultConfigFile),
		logFormat:    cliutil.LogFormatAuto,
		logLevel:     "info",
		logOutput:    logOutputStderr,
		outputFormat: outputFormatText,
		metricsAddr:  os.Getenv(envMetricsAddr),
	}

	root := &cobra.Command{
		Use:   "agentmgr",
		Short: "Supervise a telemetry collector and the orchestrator it feeds",
		Long: "agentmgr launches the collector and the orchestrator, pipes every line the\n" +
			"collector prints into the orchestrator's stdin and relays the orchestrator's\n" +
			"output to the terminal. It exits with the collector's exit code.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.run(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configFile, "config", "c", ctx.configFile, "Path to the agent configuration (.properties or .yaml) [$"+envConfigFile+"]")
	flags.StringVar(&ctx.logFormat, "log-format", ctx.logFormat, "Supervisor log format: auto, console or json")
	flags.StringVar(&ctx.logLevel, "log-level", ctx.logLevel, "Supervisor log level: debug, info, warn or error")
	flags.StringVar(&ctx.logOutput, "log-output", ctx.logOutput, "Stream for supervisor logs: stderr or stdout")
	flags.StringVarP(&ctx.outputFormat, "output-format", "o", ctx.outputFormat, "Relayed output format: text or json")
	flags.StringVar(&ctx.metricsAddr, "metrics-addr", ctx.metricsAddr, "Serve /healthz, /api/v1/status and /metrics on this address [$"+envMetricsAddr+"]")
	flags.BoolVar(&ctx.stopOrchestrator, "stop-orchestrator", false, "Stop the orchestrator once the collector exits (overrides orchestrator.stopOnExit)")
	flags.DurationVar(&ctx.drainGrace, "drain-grace", 0, "Wait this long for relayed output after the collector exits (overrides pipe.drainGrace)")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint and exits with the collector's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)

	root, cliCtx := newRootCommand()
	err := root.ExecuteContext(ctx)
	stop()

	if err != nil {
		if !errors.Is(err, stdcontext.Canceled) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
	os.Exit(exitStatus(cliCtx.exitCode))
}

// exitStatus maps a collector exit code onto a process exit status. Codes
// that cannot be represented, including -1 for a collector killed by a
// signal, become 1.
func exitStatus(code int) int {
	if code < 0 || code > 255 {
		return 1
	}
	return code
}

type context struct {
	configFile       string
	logFormat        string
	logLevel         string
	logOutput        string
	outputFormat     string
	metricsAddr      string
	stopOrchestrator bool
	drainGrace       time.Duration

	exitCode int
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
