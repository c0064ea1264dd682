package newsfeed

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Page size bounds for the HTTP API.
const (
	MinAPIPerPage = 12
	MaxAPIPerPage = 100
)

// APIServer serves the read side of the article store over HTTP.
type APIServer struct {
	feed           *NewsFeed
	defaultPerPage int
}

// NewAPIServer creates a new API server with the given news feed.
func NewAPIServer(feed *NewsFeed, defaultPerPage int) *APIServer {
	if defaultPerPage < 1 {
		defaultPerPage = 50
	}
	return &APIServer{
		feed:           feed,
		defaultPerPage: defaultPerPage,
	}
}

// RegisterRoutes adds the article routes to a router group.
func (s *APIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/articles", s.HandleListArticles)
	api.GET("/articles/:slug", s.HandleGetArticle)
	api.POST("/articles/prune", s.HandlePrune)
	api.GET("/recent", s.HandleRecent)
	api.POST("/cache/clear", s.HandleClearCache)
}

// SetupRouter configures a standalone Gin router with the article routes.
func (s *APIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// intQuery reads an integer query parameter, returning def when absent.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

// HandleListArticles handles GET /api/v1/articles. With a q parameter it
// searches instead of listing.
func (s *APIServer) HandleListArticles(c *gin.Context) {
	page, ok := intQuery(c, "page", 1)
	if !ok {
		return
	}
	perPage, ok := intQuery(c, "per_page", s.defaultPerPage)
	if !ok {
		return
	}
	perPage = max(MinAPIPerPage, min(perPage, MaxAPIPerPage))

	var (
		result *PageResult
		err    error
	)
	if q := c.Query("q"); q != "" {
		result, err = s.feed.Search(q, page, perPage)
	} else {
		result, err = s.feed.ListPage(page, perPage)
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to list articles: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleGetArticle handles GET /api/v1/articles/:slug.
func (s *APIServer) HandleGetArticle(c *gin.Context) {
	article, err := s.feed.GetBySlug(c.Param("slug"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to read article: "+err.Error())
		return
	}
	if article == nil {
		writeError(c, http.StatusNotFound, "not_found", "Article not found")
		return
	}

	c.JSON(http.StatusOK, article)
}

// HandleRecent handles GET /api/v1/recent.
func (s *APIServer) HandleRecent(c *gin.Context) {
	limit, ok := intQuery(c, "limit", s.defaultPerPage)
	if !ok {
		return
	}
	if limit < 1 {
		writeError(c, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
		return
	}

	entries, err := s.feed.GetRecent(limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to list articles: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"articles": entries})
}

// PruneResponse is the body returned by the prune endpoint.
type PruneResponse struct {
	Deleted int `json:"deleted"`
	Days    int `json:"days"`
}

// HandlePrune handles POST /api/v1/articles/prune.
func (s *APIServer) HandlePrune(c *gin.Context) {
	days, ok := intQuery(c, "days", s.feed.retentionDays)
	if !ok {
		return
	}
	if days < 1 {
		writeError(c, http.StatusBadRequest, "invalid_parameter", "days must be at least 1")
		return
	}

	deleted, err := s.feed.PruneOlderThan(days)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "Failed to prune articles: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, PruneResponse{Deleted: deleted, Days: days})
}

// HandleClearCache handles POST /api/v1/cache/clear.
func (s *APIServer) HandleClearCache(c *gin.Context) {
	result := s.feed.ClearCache()
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	c.JSON(status, result)
}
