package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var errArticleNotFound = errors.New("article not found")

type pageFlags struct {
	page    int
	perPage int
	format  string
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.page, "page", "p", 1, "page number")
	cmd.Flags().IntVarP(&f.perPage, "per-page", "n", 0, "articles per page (default PAGES_PER_PAGE)")
	cmd.Flags().StringVar(&f.format, "format", formatTable, "output format (table, json, compact)")
}

func (f *pageFlags) size(opts *rootOptions) int {
	if f.perPage > 0 {
		return f.perPage
	}
	return opts.app.cfg.PerPage
}

func newListCommand(opts *rootOptions) *cobra.Command {
	flags := &pageFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored articles, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(flags.format); err != nil {
				return err
			}
			page, err := opts.app.feed.ListPage(flags.page, flags.size(opts))
			if err != nil {
				return err
			}
			return printPage(cmd.OutOrStdout(), page, flags.format)
		},
	}
	flags.register(cmd)

	return cmd
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	flags := &pageFlags{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored articles by relevance",
		Long: `Search titles, summaries, content and source names.

Matches in the title score highest, then the summary, content and source.
Recent articles get a small boost.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(flags.format); err != nil {
				return err
			}
			query := strings.Join(args, " ")
			page, err := opts.app.feed.Search(query, flags.page, flags.size(opts))
			if err != nil {
				return err
			}
			return printPage(cmd.OutOrStdout(), page, flags.format)
		},
	}
	flags.register(cmd)

	return cmd
}

func newShowCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <slug>",
		Short: "Show one article in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			article, err := opts.app.feed.GetBySlug(args[0])
			if err != nil {
				return err
			}
			if article == nil {
				return fmt.Errorf("%w: %s", errArticleNotFound, args[0])
			}
			return printArticle(cmd.OutOrStdout(), article, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table, json, compact)")

	return cmd
}

func newPruneCommand(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete articles older than a number of days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			if !cmd.Flags().Changed("days") {
				days = a.cfg.RetentionDays
			}
			if days < 1 {
				return fmt.Errorf("days must be at least 1")
			}

			deleted, err := a.feed.PruneOlderThan(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d articles older than %d days\n", deleted, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age limit in days (default DELETE_OLDER_THAN_DAYS)")

	return cmd
}

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the content cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete everything in the cache directory",
		Long: `Delete every file and directory under the cache directory.

Stored articles are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := opts.app.feed.ClearCache()
			if !result.Success {
				return errors.New(result.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d files, %d directories deleted)\n",
				result.Message, result.DeletedFiles, result.DeletedDirectories)
			return nil
		},
	})

	return cmd
}
