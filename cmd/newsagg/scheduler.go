package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/pevans/newsagg/discovery"
	"github.com/pevans/newsagg/logger"
)

// crawlRunner is the part of the crawler the scheduler needs.
type crawlRunner interface {
	CrawlAllSources(ctx context.Context) (*discovery.CrawlStats, error)
}

// pruner removes expired articles after a scheduled crawl.
type pruner interface {
	PruneOlderThan(days int) (int, error)
}

// scheduler runs crawls on a standard five-field cron schedule. A run that
// would overlap the previous one, or a manual crawl, is skipped.
type scheduler struct {
	cron          *cron.Cron
	crawler       crawlRunner
	pruner        pruner
	retentionDays int
	log           logger.Logger
	ctx           context.Context
}

func newScheduler(ctx context.Context, schedule string, crawler crawlRunner, p pruner, retentionDays int, log logger.Logger) (*scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	s := &scheduler{
		cron:          c,
		crawler:       crawler,
		pruner:        p,
		retentionDays: retentionDays,
		log:           log,
		ctx:           ctx,
	}
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid crawl schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *scheduler) Start() {
	s.cron.Start()
	s.log.Info("Crawl scheduler started")
}

// Stop stops scheduling and waits for a running crawl to finish.
func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Crawl scheduler stopped")
}

func (s *scheduler) run() {
	stats, err := s.crawler.CrawlAllSources(s.ctx)
	if errors.Is(err, discovery.ErrCrawlInProgress) {
		s.log.Info("Skipping scheduled crawl, another crawl is running")
		return
	}
	if err != nil && stats == nil {
		s.log.Error("Scheduled crawl failed", logger.Error(err))
		return
	}

	s.log.Info("Scheduled crawl finished",
		logger.String("run_id", stats.RunID.String()),
		logger.Int("saved", stats.TotalSaved),
		logger.Strings("failed_sources", stats.FailedSources),
	)

	if s.retentionDays <= 0 || s.pruner == nil {
		return
	}
	if _, err := s.pruner.PruneOlderThan(s.retentionDays); err != nil {
		s.log.Warn("Failed to prune old articles", logger.Error(err))
	}
}
