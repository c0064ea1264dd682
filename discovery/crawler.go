package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/ratelimit"
	"github.com/pevans/newsagg/scraper"
	"github.com/pevans/newsagg/selector"
	"github.com/pevans/newsagg/sources"
)

// ErrCrawlInProgress is returned when a crawl is requested while another is
// still running.
var ErrCrawlInProgress = errors.New("a crawl is already in progress")

// CrawlConfig holds the crawl tunables.
type CrawlConfig struct {
	// MaxArticlesPerSource caps articles taken from one listing unless the
	// source sets its own count.
	MaxArticlesPerSource int
	DelayBetweenSources  time.Duration
	DelayBetweenArticles time.Duration
	// Aggressive takes every article found, ignoring all caps.
	Aggressive bool
}

// DefaultCrawlConfig returns the default crawl settings.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		MaxArticlesPerSource: 10,
		DelayBetweenSources:  3 * time.Second,
		DelayBetweenArticles: 500 * time.Millisecond,
	}
}

// SourceStats counts what happened to one source during a run.
type SourceStats struct {
	Processed    int    `json:"processed"`
	Saved        int    `json:"saved"`
	Errors       int    `json:"errors"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Failed reports whether the source failed as a whole.
func (s *SourceStats) Failed() bool {
	return s.ErrorMessage != ""
}

// CrawlStats aggregates one crawl run.
type CrawlStats struct {
	RunID          uuid.UUID               `json:"run_id"`
	StartedAt      time.Time               `json:"started_at"`
	Duration       time.Duration           `json:"duration"`
	TotalProcessed int                     `json:"total_processed"`
	TotalSaved     int                     `json:"total_saved"`
	TotalErrors    int                     `json:"total_errors"`
	Sources        map[string]*SourceStats `json:"sources"`
	// Order lists source names in the order they were crawled.
	Order         []string `json:"order"`
	FailedSources []string `json:"failed_sources"`
}

func newCrawlStats(start time.Time) *CrawlStats {
	return &CrawlStats{
		RunID:         uuid.New(),
		StartedAt:     start,
		Sources:       make(map[string]*SourceStats),
		Order:         []string{},
		FailedSources: []string{},
	}
}

func (s *CrawlStats) add(name string, src *SourceStats) {
	s.Sources[name] = src
	s.Order = append(s.Order, name)
	s.TotalProcessed += src.Processed
	s.TotalSaved += src.Saved
	s.TotalErrors += src.Errors
	if src.Failed() {
		s.FailedSources = append(s.FailedSources, name)
	}
}

// Store persists extracted articles. Save reports false for duplicates.
type Store interface {
	Save(article newsfeed.Article) (bool, error)
}

// ListingFetcher fetches listing pages and feeds.
type ListingFetcher interface {
	FetchListing(ctx context.Context, url string) ([]byte, error)
}

// RunRecorder receives every finished run.
type RunRecorder interface {
	Record(ctx context.Context, stats *CrawlStats) error
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithRecorder records finished runs with r.
func WithRecorder(r RunRecorder) CrawlerOption {
	return func(c *Crawler) {
		c.recorder = r
	}
}

// WithCrawlClock sets the crawler's clock.
func WithCrawlClock(now func() time.Time) CrawlerOption {
	return func(c *Crawler) {
		c.now = now
	}
}

// Crawler walks every enabled source once per run. Sources are crawled
// sequentially and a failing source never stops the run.
type Crawler struct {
	loader    sources.Loader
	fetcher   ListingFetcher
	extractor *Extractor
	resolver  *selector.Resolver
	store     Store
	limiter   *ratelimit.Limiter
	recorder  RunRecorder
	config    CrawlConfig
	log       logger.Logger
	now       func() time.Time

	// running is held for the whole of a run
	running sync.Mutex
}

// NewCrawler creates a Crawler. The source list is re-read from loader at the
// start of every run.
func NewCrawler(
	loader sources.Loader,
	fetcher ListingFetcher,
	extractor *Extractor,
	store Store,
	limiter *ratelimit.Limiter,
	config CrawlConfig,
	log logger.Logger,
	opts ...CrawlerOption,
) *Crawler {
	log = logger.OrNop(log)
	if extractor == nil {
		extractor = NewExtractor(nil, nil, nil, log)
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.DefaultConfig(), log)
	}

	c := &Crawler{
		loader:    loader,
		fetcher:   fetcher,
		extractor: extractor,
		resolver:  extractor.resolver,
		store:     store,
		limiter:   limiter,
		config:    config,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CrawlAllSources crawls every enabled source once. It fails only when the
// source list cannot be loaded, another run is in progress, or ctx is
// cancelled; in the last case the stats gathered so far are returned along
// with the error.
func (c *Crawler) CrawlAllSources(ctx context.Context) (*CrawlStats, error) {
	if !c.running.TryLock() {
		return nil, ErrCrawlInProgress
	}
	defer c.running.Unlock()

	stats := newCrawlStats(c.now())
	log := c.log.With(logger.String("run_id", stats.RunID.String()))

	list, err := c.loader.Load(ctx)
	if err != nil {
		log.Error("Failed to load sources", logger.Error(err))
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	enabled := sources.Enabled(list)

	log.Info("Starting crawl",
		logger.Int("sources", len(enabled)),
		logger.Bool("aggressive", c.config.Aggressive),
	)

	for i := range enabled {
		src := &enabled[i]
		if err := ctx.Err(); err != nil {
			return c.finish(ctx, stats), err
		}

		srcStats, err := c.crawlSource(ctx, src, log)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return c.finish(ctx, stats), ctxErr
			}
			log.Error("Failed to crawl source",
				logger.String("source", src.Name),
				logger.String("url", src.ListingURL()),
				logger.Error(err),
			)
			srcStats = &SourceStats{Errors: 1, ErrorMessage: err.Error()}
		}
		stats.add(src.Name, srcStats)

		if srcStats.Failed() {
			if err := c.limiter.RecordFailure(ctx); err != nil {
				return c.finish(ctx, stats), err
			}
		} else {
			c.limiter.RecordSuccess()
		}

		if i < len(enabled)-1 {
			if err := c.limiter.Delay(ctx, c.config.DelayBetweenSources); err != nil {
				return c.finish(ctx, stats), err
			}
		}
	}

	c.finish(ctx, stats)
	log.Info("Crawl finished",
		logger.Int("processed", stats.TotalProcessed),
		logger.Int("saved", stats.TotalSaved),
		logger.Int("errors", stats.TotalErrors),
		logger.Strings("failed_sources", stats.FailedSources),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (c *Crawler) finish(ctx context.Context, stats *CrawlStats) *CrawlStats {
	stats.Duration = c.now().Sub(stats.StartedAt)
	if c.recorder != nil {
		if err := c.recorder.Record(context.WithoutCancel(ctx), stats); err != nil {
			c.log.Warn("Failed to record crawl run",
				logger.String("run_id", stats.RunID.String()),
				logger.Error(err),
			)
		}
	}
	return stats
}

// CrawlSource crawls a single source outside a full run.
func (c *Crawler) CrawlSource(ctx context.Context, src *scraper.Source) (*SourceStats, error) {
	return c.crawlSource(ctx, src, c.log)
}

func (c *Crawler) crawlSource(ctx context.Context, src *scraper.Source, log logger.Logger) (*SourceStats, error) {
	log = log.With(logger.String("source", src.Name))
	listingURL := src.ListingURL()

	log.Info("Crawling source", logger.String("url", listingURL))

	body, err := c.fetcher.FetchListing(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	if src.IsFeed() {
		return c.crawlFeed(ctx, src, body, log)
	}
	return c.crawlListing(ctx, src, body, log)
}

func (c *Crawler) crawlListing(ctx context.Context, src *scraper.Source, body []byte, log logger.Logger) (*SourceStats, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	candidates := append([]string{src.Selectors.Articles}, src.Selectors.Fallbacks...)
	nodes := c.resolver.ResolveAny(doc.Selection, candidates...)

	stats := &SourceStats{}
	if nodes.Length() == 0 {
		log.Warn("No articles found", logger.String("selector", src.Selectors.Articles))
		return stats, nil
	}

	limit := src.Limit(nodes.Length(), c.config.MaxArticlesPerSource, c.config.Aggressive)
	log.Debug("Found articles",
		logger.Int("found", nodes.Length()),
		logger.Int("limit", limit),
	)

	for i := 0; i < limit; i++ {
		if i > 0 {
			if err := c.limiter.Delay(ctx, c.config.DelayBetweenArticles); err != nil {
				return nil, err
			}
		}

		article, err := c.extractor.Extract(ctx, nodes.Eq(i), src)
		c.saveExtracted(article, err, stats, log)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (c *Crawler) crawlFeed(ctx context.Context, src *scraper.Source, body []byte, log logger.Logger) (*SourceStats, error) {
	feed, err := ParseFeed(body)
	if err != nil {
		return nil, err
	}

	stats := &SourceStats{}
	if len(feed.Items) == 0 {
		log.Warn("No articles found in feed")
		return stats, nil
	}

	limit := src.Limit(len(feed.Items), c.config.MaxArticlesPerSource, c.config.Aggressive)
	for i := 0; i < limit; i++ {
		if i > 0 {
			if err := c.limiter.Delay(ctx, c.config.DelayBetweenArticles); err != nil {
				return nil, err
			}
		}

		article, err := c.extractor.ExtractFeedItem(ctx, feed.Items[i], src.Name, src.BaseURL, c.now())
		c.saveExtracted(article, err, stats, log)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

// saveExtracted counts one extraction outcome and saves the article when
// extraction succeeded.
func (c *Crawler) saveExtracted(article newsfeed.Article, extractErr error, stats *SourceStats, log logger.Logger) {
	if extractErr != nil {
		stats.Errors++
		log.Warn("Failed to extract article", logger.Error(extractErr))
		return
	}

	stats.Processed++

	saved, err := c.store.Save(article)
	switch {
	case err != nil:
		stats.Errors++
		log.Error("Failed to save article",
			logger.String("url", article.URL),
			logger.Error(err),
		)
	case saved:
		stats.Saved++
		log.Debug("Saved article",
			logger.String("url", article.URL),
			logger.String("slug", article.Slug),
		)
	default:
		log.Debug("Skipped duplicate article", logger.String("url", article.URL))
	}
}
