package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/agentmgr/internal/cliutil"
	"github.com/Paintersrp/agentmgr/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with agent configuration files",
	}
	cmd.AddCommand(newConfigLintCmd(ctx))
	return cmd
}

type lintReport struct {
	Source       string   `json:"source"`
	Workdir      string   `json:"workdir,omitempty"`
	Collector    []string `json:"collector"`
	Orchestrator []string `json:"orchestrator"`
	CollectorEnv []string `json:"collector_env,omitempty"`
	Env          []string `json:"orchestrator_env,omitempty"`
	StopOnExit   bool     `json:"stop_on_exit"`
	StopTimeout  string   `json:"stop_timeout"`
	DrainGrace   string   `json:"drain_grace"`
	Ignored      []string `json:"ignored_keys,omitempty"`
}

func newConfigLintCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Validate an agent configuration without launching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := config.Load(ctx.configFile)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			ctx.applyOverrides(cmd, agent)

			report := lintReport{
				Source:       agent.Source,
				Workdir:      agent.Workdir,
				Collector:    cliutil.RedactArgs(agent.Collector.Command()),
				Orchestrator: cliutil.RedactArgs(agent.Orchestrator.Command()),
				CollectorEnv: cliutil.RedactEnv(agent.Collector.Env),
				Env:          cliutil.RedactEnv(agent.Orchestrator.Env),
				StopOnExit:   agent.Orchestrator.StopOnExit,
				StopTimeout:  agent.Orchestrator.StopTimeout.Duration.String(),
				DrainGrace:   agent.Pipe.DrainGrace.Duration.String(),
				Ignored:      agent.Ignored,
			}
			out := cmd.OutOrStdout()
			if ctx.outputFormat == outputFormatJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "%s: OK\n", report.Source)
			if report.Workdir != "" {
				fmt.Fprintf(out, "  workdir:      %s\n", report.Workdir)
			}
			fmt.Fprintf(out, "  collector:    %s\n", strings.Join(report.Collector, " "))
			fmt.Fprintf(out, "  orchestrator: %s\n", strings.Join(report.Orchestrator, " "))
			for _, kv := range report.CollectorEnv {
				fmt.Fprintf(out, "  collector env:    %s\n", kv)
			}
			for _, kv := range report.Env {
				fmt.Fprintf(out, "  orchestrator env: %s\n", kv)
			}
			if report.StopOnExit {
				fmt.Fprintf(out, "  stop on exit: within %s\n", report.StopTimeout)
			}
			if agent.Pipe.DrainGrace.Duration > 0 {
				fmt.Fprintf(out, "  drain grace:  %s\n", report.DrainGrace)
			}
			for _, key := range report.Ignored {
				fmt.Fprintf(out, "  ignored key:  %s\n", key)
			}
			return nil
		},
	}
}
