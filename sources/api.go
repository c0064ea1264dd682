package sources

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pevans/newsagg/scraper"
)

// SourceAPIServer serves the configured source list over HTTP. The list is
// read-only; edit the sources file to change it.
type SourceAPIServer struct {
	loader Loader
}

// NewSourceAPIServer creates a new source API server.
func NewSourceAPIServer(loader Loader) *SourceAPIServer {
	return &SourceAPIServer{
		loader: loader,
	}
}

// RegisterRoutes adds the source routes to a router group.
func (s *SourceAPIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/sources", s.HandleListSources)
	api.GET("/sources/:name", s.HandleGetSource)
}

// SetupRouter configures a standalone Gin router with the source routes.
func (s *SourceAPIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// ListSourcesResponse represents the response for GET /api/v1/sources.
type ListSourcesResponse struct {
	Sources []scraper.Source `json:"sources"`
	Total   int              `json:"total"`
	Enabled int              `json:"enabled"`
}

// HandleListSources handles GET /api/v1/sources.
func (s *SourceAPIServer) HandleListSources(c *gin.Context) {
	list, err := s.loader.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "Failed to load sources: " + err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, ListSourcesResponse{
		Sources: list,
		Total:   len(list),
		Enabled: len(Enabled(list)),
	})
}

// HandleGetSource handles GET /api/v1/sources/:name.
func (s *SourceAPIServer) HandleGetSource(c *gin.Context) {
	list, err := s.loader.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "Failed to load sources: " + err.Error(),
			},
		})
		return
	}

	src, err := Find(list, c.Param("name"))
	if errors.Is(err, ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "not_found",
				"message": "Source not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, src)
}
