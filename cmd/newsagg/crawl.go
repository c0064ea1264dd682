package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/sources"
)

func newCrawlCommand(opts *rootOptions) *cobra.Command {
	var (
		sourceName string
		noPrune    bool
		format     string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every enabled source once",
		Long: `Crawl every enabled source once and save new articles.

Sources that fail are reported but do not fail the command. The command
exits non-zero only when the source list cannot be loaded. After the crawl
articles older than DELETE_OLDER_THAN_DAYS are pruned.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}
			a := opts.app
			out := cmd.OutOrStdout()

			crawler, err := a.Crawler()
			if err != nil {
				return err
			}

			if sourceName != "" {
				list, err := a.loader.Load(cmd.Context())
				if err != nil {
					return err
				}
				src, err := sources.Find(list, sourceName)
				if err != nil {
					return fmt.Errorf("%w: %s", err, sourceName)
				}
				stats, err := crawler.CrawlSource(cmd.Context(), src)
				if err != nil {
					fmt.Fprintf(out, "✗ %s: %v\n", src.Name, err)
					return nil
				}
				if format == formatJSON {
					return printJSON(out, stats)
				}
				fmt.Fprintf(out, "✓ %s: %d saved, %d processed, %d errors\n",
					src.Name, stats.Saved, stats.Processed, stats.Errors)
				return nil
			}

			if format != formatJSON {
				fmt.Fprintf(out, "Max articles per source: %d\n", a.cfg.MaxArticlesPerSource)
				fmt.Fprintf(out, "Storage path: %s\n\n", a.feed.StorageDir())
			}

			stats, err := crawler.CrawlAllSources(cmd.Context())
			if err != nil {
				if stats == nil {
					return err
				}
				a.log.Warn("Crawl stopped early", logger.Error(err))
			}

			if !noPrune && a.cfg.RetentionDays > 0 {
				deleted, err := a.feed.PruneOlderThan(a.cfg.RetentionDays)
				if err != nil {
					a.log.Warn("Failed to prune old articles", logger.Error(err))
				} else if format != formatJSON {
					fmt.Fprintf(out, "Pruned %d articles older than %d days\n\n", deleted, a.cfg.RetentionDays)
				}
			}

			if format == formatJSON {
				return printJSON(out, stats)
			}

			printCrawlReport(out, stats)

			stored, err := a.feed.List()
			if err == nil {
				fmt.Fprintf(out, "\nTotal articles in storage: %d\n", len(stored.Articles))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceName, "source", "", "crawl only the named source (not recorded in history)")
	cmd.Flags().BoolVar(&noPrune, "no-prune", false, "skip pruning old articles after the crawl")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table, json)")

	return cmd
}
