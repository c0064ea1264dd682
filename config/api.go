package config

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConfigAPIServer serves the effective configuration, read-only.
type ConfigAPIServer struct {
	cfg *Config
}

// NewConfigAPIServer creates a new config API server.
func NewConfigAPIServer(cfg *Config) *ConfigAPIServer {
	return &ConfigAPIServer{
		cfg: cfg,
	}
}

// RegisterRoutes adds the config routes to a router group.
func (c *ConfigAPIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/meta/config", c.HandleGetConfig)
}

// SetupRouter configures a standalone Gin router with the config routes.
func (c *ConfigAPIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	c.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// ConfigResponse is the config as served over HTTP. Durations are rendered
// as Go duration strings.
type ConfigResponse struct {
	StoragePath          string  `json:"storage_path"`
	CachePath            string  `json:"cache_path"`
	SourcesFile          string  `json:"sources_file"`
	MaxRequestsPerMinute int     `json:"max_requests_per_minute"`
	MaxArticlesPerSource int     `json:"max_articles_per_source"`
	DelayBetweenSources  string  `json:"crawl_delay_between_sources"`
	DelayBetweenArticles string  `json:"crawl_delay_between_articles"`
	Jitter               float64 `json:"crawl_jitter"`
	Aggressive           bool    `json:"crawl_aggressive"`
	RetentionDays        int     `json:"delete_older_than_days"`
	PruneAtCutoff        bool    `json:"prune_at_cutoff"`
	UserAgent            string  `json:"http_user_agent"`
	HTTPTimeout          string  `json:"http_timeout"`
	ContentTimeout       string  `json:"content_timeout"`
	SSLVerify            string  `json:"ssl_verify"`
	PerPage              int     `json:"pages_per_page"`
	CrawlSchedule        string  `json:"crawl_schedule"`
}

// HandleGetConfig handles GET /api/v1/meta/config.
func (c *ConfigAPIServer) HandleGetConfig(ctx *gin.Context) {
	cfg := c.cfg
	ctx.JSON(http.StatusOK, ConfigResponse{
		StoragePath:          cfg.StoragePath,
		CachePath:            cfg.CachePath,
		SourcesFile:          cfg.SourcesFile,
		MaxRequestsPerMinute: cfg.MaxRequestsPerMinute,
		MaxArticlesPerSource: cfg.MaxArticlesPerSource,
		DelayBetweenSources:  cfg.DelayBetweenSources.String(),
		DelayBetweenArticles: cfg.DelayBetweenArticles.String(),
		Jitter:               cfg.Jitter,
		Aggressive:           cfg.Aggressive,
		RetentionDays:        cfg.RetentionDays,
		PruneAtCutoff:        cfg.PruneAtCutoff,
		UserAgent:            cfg.UserAgent,
		HTTPTimeout:          cfg.HTTPTimeout.String(),
		ContentTimeout:       cfg.ContentTimeout.String(),
		SSLVerify:            cfg.SSLVerify,
		PerPage:              cfg.PerPage,
		CrawlSchedule:        cfg.CrawlSchedule,
	})
}
