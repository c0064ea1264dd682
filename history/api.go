package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DefaultListLimit is the number of runs returned when no limit is given.
const DefaultListLimit = 20

// HistoryAPIServer serves the crawl run log over HTTP.
type HistoryAPIServer struct {
	store *Store
}

// NewHistoryAPIServer creates a new history API server.
func NewHistoryAPIServer(store *Store) *HistoryAPIServer {
	return &HistoryAPIServer{store: store}
}

// RegisterRoutes adds the history routes to a router group.
func (s *HistoryAPIServer) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/history", s.HandleListRuns)
	api.GET("/history/:id", s.HandleGetRun)
}

// SetupRouter configures a standalone Gin router with the history routes.
func (s *HistoryAPIServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	s.RegisterRoutes(router.Group("/api/v1"))
	return router
}

// ListRunsResponse represents the response for GET /api/v1/history.
type ListRunsResponse struct {
	Runs   []Run `json:"runs"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// HandleListRuns handles GET /api/v1/history.
func (s *HistoryAPIServer) HandleListRuns(c *gin.Context) {
	filter := Filter{
		Source: c.Query("source"),
		Limit:  DefaultListLimit,
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			badRequest(c, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}
	if v := c.Query("failed"); v != "" {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "failed must be a boolean")
			return
		}
		filter.Failed = failed
	}

	runs, err := s.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "Failed to list runs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{
		Runs:   runs,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleGetRun handles GET /api/v1/history/:id.
func (s *HistoryAPIServer) HandleGetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid run ID format")
		return
	}

	run, err := s.store.GetRun(c.Request.Context(), runID)
	if errors.Is(err, ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "not_found",
				"message": "Run not found",
			},
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "internal_error",
				"message": "Failed to get run",
			},
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "invalid_request",
			"message": message,
		},
	})
}
