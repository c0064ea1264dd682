package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/scraper"
	"github.com/pevans/newsagg/sources"
)

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect the configured sources",
		Long: `Inspect the configured sources.

Sources are read from SOURCES_FILE; edit that file to add or change them.`,
	}

	var format string
	var enabledOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			all, err := opts.app.loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			if enabledOnly {
				all = sources.Enabled(all)
			}
			return printSources(cmd.OutOrStdout(), all, format)
		},
	}
	list.Flags().StringVar(&format, "format", formatTable, "output format (table, json, compact)")
	list.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled sources")

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the sources file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := opts.app.loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			enabled := sources.Enabled(all)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sources (%d enabled, %d feeds)\n",
				opts.app.cfg.SourcesFile, len(all), len(enabled), countFeeds(all))
			return nil
		},
	}

	cmd.AddCommand(list, check)
	return cmd
}

func countFeeds(list []scraper.Source) int {
	n := 0
	for i := range list {
		if list[i].IsFeed() {
			n++
		}
	}
	return n
}
