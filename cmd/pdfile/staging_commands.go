package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pdfile/internal/logging"
	"pdfile/internal/preflight"
	"pdfile/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage per-user staging directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staging directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}

			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}

			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No staging directories found")
				return nil
			}

			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					dir.UserID,
					fmt.Sprint(dir.Files),
					formatDuration(time.Since(dir.ModTime).Truncate(time.Minute)),
					preflight.FormatBytes(uint64(dir.Size)),
				})
			}
			fmt.Fprint(out, renderTable(
				[]column{textCol("User"), numCol("Files"), numCol("Age"), numCol("Size")},
				rows,
			))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), preflight.FormatBytes(uint64(totalSize)))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove abandoned staging directories",
		Long: `Remove abandoned staging directories.

By default, only removes directories older than the configured staging
max age. Use --all to remove every directory. When the daemon is running,
directories of users with a running session are always kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			active := ctx.activeUsers()
			logger := logging.NewNop()
			var result staging.CleanResult
			scope := "stale"
			if cleanAll {
				scope = "inactive"
				result = staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, staging.ActiveSet(active), logger)
			} else {
				age := maxAge
				if age <= 0 {
					age = cfg.StagingMaxAge()
				}
				result = staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, age, staging.ActiveSet(active), logger)
			}

			if ctx.JSONMode() {
				return writeStagingCleanJSON(cmd, result)
			}
			return printStagingCleanResult(cmd, result, scope)
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all directories without a running session")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override the configured staging max age")

	return cmd
}

// activeUsers asks the daemon which sessions are running. An unreachable
// daemon has none.
func (c *commandContext) activeUsers() []string {
	client, err := c.dialClient()
	if err != nil {
		return nil
	}
	defer client.Close()
	resp, err := client.Sessions()
	if err != nil {
		return nil
	}
	users := make([]string, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		users = append(users, s.UserID)
	}
	return users
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanResult, label string) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintf(out, "No %s directories to clean\n", label)
		return nil
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d %s directories, %d errors\n", len(result.Removed), label, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return nil
	}
	fmt.Fprintf(out, "Removed %d %s directories\n", len(result.Removed), label)
	return nil
}

func writeStagingCleanJSON(cmd *cobra.Command, result staging.CleanResult) error {
	errs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
	}
	return writeJSON(cmd, map[string]any{
		"removed": len(result.Removed),
		"skipped": len(result.Skipped),
		"errors":  errs,
	})
}
