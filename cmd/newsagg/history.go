package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/history"
)

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded crawl runs",
	}

	cmd.AddCommand(
		newHistoryListCommand(opts),
		newHistoryShowCommand(opts),
		newHistoryPruneCommand(opts),
	)
	return cmd
}

func newHistoryListCommand(opts *rootOptions) *cobra.Command {
	var (
		filter history.Filter
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			if filter.Limit < 0 || filter.Offset < 0 {
				return fmt.Errorf("limit and offset must not be negative")
			}

			store, err := opts.app.History()
			if err != nil {
				return err
			}
			runs, err := store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs, format)
		},
	}

	cmd.Flags().IntVar(&filter.Limit, "limit", history.DefaultListLimit, "maximum number of runs")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of runs to skip")
	cmd.Flags().BoolVar(&filter.Failed, "failed", false, "only runs with failed sources")
	cmd.Flags().StringVar(&filter.Source, "source", "", "only runs that crawled this source")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table, json, compact)")

	return cmd
}

func newHistoryShowCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one crawl run with its per-source counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run ID: %s", args[0])
			}

			store, err := opts.app.History()
			if err != nil {
				return err
			}
			run, err := store.GetRun(cmd.Context(), runID)
			if err != nil {
				return err
			}
			return printRun(cmd.OutOrStdout(), run, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table, json, compact)")

	return cmd
}

func newHistoryPruneCommand(opts *rootOptions) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete crawl runs older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			age, err := parseDuration(olderThan)
			if err != nil {
				return err
			}
			if age <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, err := opts.app.History()
			if err != nil {
				return err
			}
			deleted, err := store.DeleteBefore(cmd.Context(), time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d crawl runs older than %s\n", deleted, olderThan)
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "90d", "age limit (e.g. 36h, 30d, 2w)")

	return cmd
}
