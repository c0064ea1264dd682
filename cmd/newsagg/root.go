package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/config"
	"github.com/pevans/newsagg/logger"
)

// rootOptions carries the global flags and the app built from them.
type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string

	app *app
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "newsagg",
		Short:         "Crawl news sites into a flat-file article store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.teardown()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/newsagg/config.yaml)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default is ./.env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(
		newCrawlCommand(opts),
		newListCommand(opts),
		newSearchCommand(opts),
		newShowCommand(opts),
		newPruneCommand(opts),
		newCacheCommand(opts),
		newSourcesCommand(opts),
		newHistoryCommand(opts),
		newServeCommand(opts),
	)

	return cmd
}

// setup loads the configuration and builds the app.
func (o *rootOptions) setup() error {
	cfg, err := config.Load(config.Options{
		ConfigFile: o.configFile,
		EnvFile:    o.envFile,
	})
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	o.app = a
	return nil
}

func (o *rootOptions) teardown() error {
	if o.app == nil {
		return nil
	}
	_ = o.app.log.Sync()
	return o.app.Close()
}
