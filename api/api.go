// Package api serves run state and generated feeds over HTTP.
package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/sources"
)

// ReportFile is the name of the run report inside the output directory.
const ReportFile = "report.json"

// Server is the read-only HTTP API.
type Server struct {
	state      *sources.SourceStore
	feeds      *newsfeed.Store
	reportPath string
}

// NewServer creates an API server. reportPath names the JSON run report
// served at /api/v1/report.
func NewServer(state *sources.SourceStore, feeds *newsfeed.Store, reportPath string) *Server {
	return &Server{
		state:      state,
		feeds:      feeds,
		reportPath: reportPath,
	}
}

// SetupRouter configures the Gin router with all routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	api := router.Group("/api/v1")
	api.GET("/sources", s.HandleListSources)
	api.GET("/sources/:name", s.HandleGetSource)
	api.GET("/sources/:name/runs", s.HandleListRuns)
	api.GET("/report", s.HandleReport)

	router.GET("/feeds", s.HandleListFeeds)
	router.GET("/feeds/:name", s.HandleGetFeed)

	return router
}

// ListSourcesResponse represents the response for GET /api/v1/sources.
type ListSourcesResponse struct {
	Sources []sources.Source `json:"sources"`
	Total   int              `json:"total"`
}

// ListRunsResponse represents the response for GET
// /api/v1/sources/{name}/runs.
type ListRunsResponse struct {
	Runs  []sources.Run `json:"runs"`
	Total int           `json:"total"`
}

// ListFeedsResponse represents the response for GET /feeds.
type ListFeedsResponse struct {
	Feeds  []newsfeed.FeedFile `json:"feeds"`
	Errors []string            `json:"errors,omitempty"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// handleError maps domain errors to HTTP responses.
func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sources.ErrSourceNotFound), errors.Is(err, newsfeed.ErrFeedNotFound):
		c.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, newsfeed.ErrInvalidName):
		c.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

// HandleListSources handles GET /api/v1/sources.
func (s *Server) HandleListSources(c *gin.Context) {
	// Build filter from query parameters
	filter := sources.SourceFilter{}

	if failingParam := c.Query("failing"); failingParam != "" {
		failing := failingParam == "true"
		filter.Failing = &failing
	}

	list, err := s.state.ListSources(c.Request.Context(), filter)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListSourcesResponse{
		Sources: list,
		Total:   len(list),
	})
}

// HandleGetSource handles GET /api/v1/sources/{name}.
func (s *Server) HandleGetSource(c *gin.Context) {
	source, err := s.state.GetSource(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, source)
}

// HandleListRuns handles GET /api/v1/sources/{name}/runs.
func (s *Server) HandleListRuns(c *gin.Context) {
	limit := 20
	if limitParam := c.Query("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, errorResponse("bad_request", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	name := c.Param("name")
	if _, err := s.state.GetSource(c.Request.Context(), name); err != nil {
		s.handleError(c, err)
		return
	}

	runs, err := s.state.RecentRuns(c.Request.Context(), name, limit)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListRunsResponse{
		Runs:  runs,
		Total: len(runs),
	})
}

// HandleReport handles GET /api/v1/report by serving the latest run report.
func (s *Server) HandleReport(c *gin.Context) {
	data, err := os.ReadFile(s.reportPath)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, errorResponse("not_found", "no run report yet"))
		return
	}
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// HandleListFeeds handles GET /feeds.
func (s *Server) HandleListFeeds(c *gin.Context) {
	result, err := s.feeds.List()
	if err != nil {
		s.handleError(c, err)
		return
	}

	resp := ListFeedsResponse{Feeds: result.Feeds}
	for _, readErr := range result.Errors {
		resp.Errors = append(resp.Errors, readErr.Error())
	}
	if resp.Feeds == nil {
		resp.Feeds = []newsfeed.FeedFile{}
	}

	c.JSON(http.StatusOK, resp)
}

// HandleGetFeed handles GET /feeds/{name}, with or without the .xml suffix.
func (s *Server) HandleGetFeed(c *gin.Context) {
	name := strings.TrimSuffix(c.Param("name"), ".xml")

	data, err := s.feeds.Read(name)
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", data)
}
