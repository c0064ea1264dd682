package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/pevans/newsagg/config"
	"github.com/pevans/newsagg/discovery"
	"github.com/pevans/newsagg/history"
	"github.com/pevans/newsagg/logger"
	"github.com/pevans/newsagg/newsfeed"
	"github.com/pevans/newsagg/sources"
)

const shutdownTimeout = 30 * time.Second

// routeRegistrar is implemented by every API server.
type routeRegistrar interface {
	RegisterRoutes(api *gin.RouterGroup)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and run scheduled crawls",
		Long: `Serve the JSON API under /api/v1.

When CRAWL_SCHEDULE is set (a cron expression such as "0 * * * *" or
"@hourly") crawls also run on that schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := opts.app
			if addr == "" {
				addr = a.cfg.APIAddr
			}
			return serve(cmd.Context(), a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default API_ADDR)")

	return cmd
}

func serve(ctx context.Context, a *app, addr string) error {
	crawler, err := a.Crawler()
	if err != nil {
		return err
	}
	runs, err := a.History()
	if err != nil {
		return err
	}

	router := newRouter(a.log,
		newsfeed.NewAPIServer(a.feed, a.cfg.PerPage),
		sources.NewSourceAPIServer(a.loader),
		discovery.NewCrawlAPIServer(crawler, a.cfg.CrawlTrigger),
		history.NewHistoryAPIServer(runs),
		config.NewConfigAPIServer(a.cfg),
	)

	if a.cfg.CrawlSchedule != "" {
		sched, err := newScheduler(ctx, a.cfg.CrawlSchedule, crawler, a.feed, a.cfg.RetentionDays, a.log)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		a.log.Info("Starting API server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	a.log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRouter builds the gin engine with every API server mounted under
// /api/v1.
func newRouter(log logger.Logger, servers ...routeRegistrar) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log), cors())

	api := router.Group("/api/v1")
	for _, s := range servers {
		s.RegisterRoutes(api)
	}
	return router
}

// cors allows browser clients on any origin. Preflight requests are answered
// directly.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs each request at debug level, and server errors at
// error level.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("Request failed", fields...)
			return
		}
		log.Debug("Request", fields...)
	}
}
