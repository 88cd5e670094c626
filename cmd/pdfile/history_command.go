package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pdfile/internal/history"
	"pdfile/internal/ipc"
	"pdfile/internal/preflight"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent jobs and per-operation totals",
		Long: `Show recent jobs and per-operation totals.

History is read through the daemon when it is running and straight from the
history database otherwise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.HistoryRequest{UserID: strings.TrimSpace(userID), Limit: limit}
			resp, err := ctx.fetchHistory(cmd.Context(), req)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, resp)
			}
			printHistory(cmd, resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Only show jobs of this user")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")

	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func (c *commandContext) fetchHistory(ctx context.Context, req ipc.HistoryRequest) (ipc.HistoryResponse, error) {
	client, dialErr := c.dialClient()
	if dialErr == nil {
		defer client.Close()
		resp, err := client.History(req)
		if err != nil {
			return ipc.HistoryResponse{}, err
		}
		return *resp, nil
	}

	var resp ipc.HistoryResponse
	err := c.withHistoryStore(func(store *history.Store) error {
		jobs, err := store.Recent(ctx, req.UserID, req.Limit)
		if err != nil {
			return err
		}
		counts, err := store.Counts(ctx)
		if err != nil {
			return err
		}
		resp = ipc.HistoryFromStore(jobs, counts)
		return nil
	})
	return resp, err
}

func (c *commandContext) withHistoryStore(fn func(*history.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	path := cfg.HistoryPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no job history at %s yet", path)
	}
	store, err := history.OpenPath(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func printHistory(cmd *cobra.Command, resp ipc.HistoryResponse) {
	out := cmd.OutOrStdout()
	if len(resp.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded")
		return
	}

	rows := make([][]string, 0, len(resp.Jobs))
	for _, job := range resp.Jobs {
		result := job.Artifact
		if job.ArtifactBytes > 0 {
			result = fmt.Sprintf("%s (%s)", job.Artifact, preflight.FormatBytes(uint64(job.ArtifactBytes)))
		}
		if job.Status == string(history.StatusFailed) {
			result = job.ErrorMessage
			if job.ErrorKind != "" {
				result = job.ErrorKind + ": " + result
			}
		}
		rows = append(rows, []string{
			job.StartedAt.Local().Format("2006-01-02 15:04:05"),
			job.UserID,
			job.Operation,
			fmt.Sprint(job.FileCount),
			job.Status,
			job.Duration.Round(time.Millisecond).String(),
			result,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{textCol("Started"), textCol("User"), textCol("Operation"), numCol("Files"), textCol("Status"), numCol("Took"), textCol("Result")},
		rows,
	))

	if len(resp.Counts) == 0 {
		return
	}
	fmt.Fprintln(out)
	countRows := make([][]string, 0, len(resp.Counts))
	for _, c := range resp.Counts {
		countRows = append(countRows, []string{
			c.Operation,
			fmt.Sprint(c.Succeeded),
			fmt.Sprint(c.Failed),
			fmt.Sprint(c.Discarded),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{textCol("Operation"), numCol("Succeeded"), numCol("Failed"), numCol("Discarded")},
		countRows,
	))
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete jobs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return ctx.withHistoryStore(func(store *history.Store) error {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove jobs that finished before now minus this duration")
	return cmd
}
