package discovery

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultTriggerInterval is the minimum spacing of manually triggered crawls.
const DefaultTriggerInterval = time.Minute

// CrawlAPIServer exposes the crawl entrypoint over HTTP.
type CrawlAPIServer struct {
	crawler *Crawler
	trigger *rate.Limiter
}

// NewCrawlAPIServer creates a crawl API server that accepts at most one
// manual crawl per interval.
func NewCrawlAPIServer(crawler *Crawler, interval time.Duration) *CrawlAPIServer {
	if interval <= 0 {
		interval = DefaultTriggerInterval
	}
	return &CrawlAPIServer{
		crawler: crawler,
		trigger: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// RegisterRoutes adds the crawl routes to a router group.
func (s *CrawlAPIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/crawl", s.HandleCrawl)
}

// SetupRouter configures a standalone Gin router with the crawl routes.
func (s *CrawlAPIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// HandleCrawl handles POST /api/v1/crawl. The crawl runs to completion even
// if the client disconnects.
func (s *CrawlAPIServer) HandleCrawl(c *gin.Context) {
	if !s.trigger.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":    "crawl_throttled",
				"message": "A crawl was triggered recently; try again later",
			},
		})
		return
	}

	stats, err := s.crawler.CrawlAllSources(context.WithoutCancel(c.Request.Context()))
	if errors.Is(err, ErrCrawlInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"error": gin.H{
				"code":    "crawl_in_progress",
				"message": err.Error(),
			},
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
