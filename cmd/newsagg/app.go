package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pevans/newsagg/config"
	"github.com/pevans/newsagg/dates"
	"github.com/pevans/newsagg/discovery"
	"github.com/pevans/newsagg/history"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/ratelimit"
	"github.com/pevans/newsagg/selector"
	"github.com/pevans/newsagg/sources"
)

// app holds the components shared by the commands. Everything except the
// article store is built on first use so read-only commands never open the
// history database or build an HTTP client.
type app struct {
	cfg  *config.Config
	log  logger.Logger
	feed *newsfeed.NewsFeed

	loader  sources.Loader
	history *history.Store
	crawler *discovery.Crawler
}

func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	feed, err := newsfeed.NewNewsFeed(cfg.StoragePath,
		newsfeed.WithCacheDir(cfg.CachePath),
		newsfeed.WithRetention(cfg.RetentionDays, cfg.PruneAtCutoff),
		newsfeed.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open article storage: %w", err)
	}

	return &app{
		cfg:    cfg,
		log:    log,
		feed:   feed,
		loader: sources.NewFileLoader(cfg.SourcesFile),
	}, nil
}

// History opens the crawl run log.
func (a *app) History() (*history.Store, error) {
	if a.history != nil {
		return a.history, nil
	}

	if dir := filepath.Dir(a.cfg.HistoryDSN); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	store, err := history.NewStore(a.cfg.HistoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	a.history = store
	return store, nil
}

// Crawler wires the crawl pipeline: one HTTP client and one limiter shared
// by the listing fetcher and the content fetcher, and the run log as the
// recorder.
func (a *app) Crawler() (*discovery.Crawler, error) {
	if a.crawler != nil {
		return a.crawler, nil
	}

	clientCfg := a.cfg.ClientConfig()
	client, err := discovery.NewHTTPClient(clientCfg)
	if err != nil {
		return nil, err
	}

	runs, err := a.History()
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(a.cfg.LimiterConfig(), a.log)
	fetcher := discovery.NewFetcher(client, clientCfg, limiter, a.log)
	content := discovery.NewContentFetcher(fetcher, a.feed.ContentCache(), a.cfg.ContentTimeout, a.log)
	extractor := discovery.NewExtractor(
		selector.NewResolver(a.log, selector.DefaultHardCases()),
		dates.NewNormalizer(a.log, nil),
		content,
		a.log,
	)

	a.crawler = discovery.NewCrawler(
		a.loader,
		fetcher,
		extractor,
		a.feed,
		limiter,
		a.cfg.CrawlConfig(),
		a.log,
		discovery.WithRecorder(runs),
	)
	return a.crawler, nil
}

// Close releases the history database if it was opened.
func (a *app) Close() error {
	if a.history == nil {
		return nil
	}
	return a.history.Close()
}
