package projection

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/aevon-lab/matchstats/internal/aggregation"
	v1 "github.com/aevon-lab/matchstats/internal/api/v1"
	httperr "github.com/aevon-lab/matchstats/internal/core/errors"
	"github.com/aevon-lab/matchstats/internal/fallback"
	"github.com/gin-gonic/gin"
)

const headerDataSource = "X-Data-Source"

// RegisterRoutes registers all stats API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	listPartitions := gin.HandlerFunc(s.HandleListPartitions)
	if s.respCache != nil {
		listPartitions = s.respCache.Wrap(s.listTTL, listPartitions)
	}

	r.GET("/v1/partitions", listPartitions)
	r.GET("/v1/partitions/:partition/stats", s.HandleQueryStats)
	r.GET("/v1/partitions/:partition/stats/:entity", s.HandleQueryEntity)
	r.POST("/v1/partitions/:partition/refresh", s.HandleTriggerRefresh)
}

// HandleQueryStats handles GET /v1/partitions/:partition/stats
// Query parameters: sort, order, limit, offset
func (s *Service) HandleQueryStats(c *gin.Context) {
	var req StatsQueryRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	res, err := s.QueryStats(c.Request.Context(), req)
	if err != nil {
		writeResolveError(c, err)
		return
	}
	writeResult(c, res)
}

// HandleQueryEntity handles GET /v1/partitions/:partition/stats/:entity
func (s *Service) HandleQueryEntity(c *gin.Context) {
	var req EntityQueryRequest
	if err := c.ShouldBindUri(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	res, err := s.QueryEntity(c.Request.Context(), req)
	if err != nil {
		writeResolveError(c, err)
		return
	}
	writeResult(c, res)
}

// HandleListPartitions handles GET /v1/partitions
func (s *Service) HandleListPartitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"partitions": s.PartitionRefreshes()})
}

// HandleTriggerRefresh handles POST /v1/partitions/:partition/refresh
func (s *Service) HandleTriggerRefresh(c *gin.Context) {
	accepted, err := s.TriggerRefresh(c.Request.Context(), c.Param("partition"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidQuery):
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidQueryError,
				Message:   "Invalid partition",
				Details:   err.Error(),
			})
		case errors.Is(err, aggregation.ErrRebuildInFlight):
			c.JSON(http.StatusConflict, httperr.ErrorResponse{
				ErrorType: httperr.HttpRefreshBusyError,
				Message:   "A refresh of this partition is already in flight",
			})
		case errors.Is(err, aggregation.ErrSchedulerStopped):
			c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
				ErrorType: httperr.HttpRefreshClosedError,
				Message:   "Refresh scheduler is shutting down",
			})
		default:
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to schedule refresh",
				Details:   err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, accepted)
}

func writeResult(c *gin.Context, res *fallback.Result) {
	c.Header(headerDataSource, string(res.Source))
	c.JSON(http.StatusOK, v1.Envelope{
		Source:   res.Source,
		Origin:   res.Origin,
		Degraded: res.Degraded,
		Data:     res.Body,
	})
}

func writeResolveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid stats query",
			Details:   err.Error(),
		})
	case errors.Is(err, fallback.ErrEntityNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Entity not found in partition",
			Details:   err.Error(),
		})
	case errors.Is(err, fallback.ErrAllStagesFailed):
		slog.Error("[Projection] No stage could serve the request", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnavailableError,
			Message:   "Stats are temporarily unavailable",
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query stats",
			Details:   err.Error(),
		})
	}
}
