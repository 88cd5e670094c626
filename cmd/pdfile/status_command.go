package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pdfile/internal/ipc"
	"pdfile/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, transport, and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, status)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				if status.Running {
					uptime := time.Since(status.StartedAt).Truncate(time.Second)
					fmt.Fprintln(stdout, renderStatusLine("pdfile", statusOK, fmt.Sprintf("Running (pid %d, up %s)", status.PID, uptime), colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("pdfile", statusError, "Not running", colorize))
				}
				telegramKind := statusWarn
				if status.Telegram {
					telegramKind = statusOK
				}
				fmt.Fprintln(stdout, renderStatusLine("Telegram", telegramKind, yesNo(status.Telegram), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Staging", statusInfo, status.StagingDir, colorize))
				fmt.Fprintln(stdout, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range dependencyLines(status.Dependencies, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Engine", colorize) {
					fmt.Fprintln(stdout, line)
				}
				rows := [][]string{
					{"Active sessions", fmt.Sprint(status.Engine.ActiveSessions)},
					{"Running jobs", fmt.Sprint(status.Engine.RunningJobs)},
					{"Events handled", fmt.Sprint(status.Engine.EventsHandled)},
					{"Jobs succeeded", fmt.Sprint(status.Engine.JobsSucceeded)},
					{"Jobs failed", fmt.Sprint(status.Engine.JobsFailed)},
				}
				fmt.Fprintln(stdout, renderTable([]column{textCol("Counter"), numCol("Value")}, rows))
				return nil
			})
		},
	}
}

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Run preflight checks without contacting the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			deps := make([]ipc.DependencyStatus, 0, len(statuses))
			for _, s := range statuses {
				deps = append(deps, ipc.DependencyStatus{
					Name:        s.Name,
					Command:     s.Command,
					Description: s.Description,
					Optional:    s.Optional,
					Available:   s.Available,
					Detail:      s.Detail,
				})
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"checks": results, "dependencies": deps})
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(deps, colorize) {
				fmt.Fprintln(stdout, line)
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d preflight checks failed", len(failed))
			}
			return nil
		},
	}
}
