package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/repository"
)

type RunHandler struct {
	jobs      repository.JobRepository
	endpoints repository.EndpointRepository
	runs      repository.RunRepository
	sessions  repository.AISessionRepository
	logger    *slog.Logger
}

func NewRunHandler(jobs repository.JobRepository, endpoints repository.EndpointRepository, runs repository.RunRepository, sessions repository.AISessionRepository, logger *slog.Logger) *RunHandler {
	return &RunHandler{jobs: jobs, endpoints: endpoints, runs: runs, sessions: sessions, logger: logger.With("component", "run_handler")}
}

func (h *RunHandler) authorizeEndpoint(c *gin.Context, endpointID string) (*domain.Endpoint, bool) {
	e, err := h.endpoints.GetEndpoint(c.Request.Context(), endpointID)
	if err != nil {
		if errors.Is(err, domain.ErrEndpointNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return nil, false
		}
		h.logger.ErrorContext(c.Request.Context(), "get endpoint", "id", endpointID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	job, err := h.jobs.GetByID(c.Request.Context(), e.JobID, c.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return nil, false
		}
		h.logger.ErrorContext(c.Request.Context(), "authorize job", "job_id", e.JobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return nil, false
	}
	if job.IsArchived() {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return nil, false
	}
	return e, true
}

func (h *RunHandler) List(c *gin.Context) {
	endpointID := c.Param("id")
	if _, ok := h.authorizeEndpoint(c, endpointID); !ok {
		return
	}
	runs, err := h.runs.ListByEndpointID(c.Request.Context(), repository.ListRunsInput{EndpointID: endpointID, CursorID: c.Query("cursorId")})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list runs", "endpoint_id", endpointID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// AISessions lists the AI planner's analysis history for an endpoint, the
// audit trail behind any hint currently steering its schedule.
func (h *RunHandler) AISessions(c *gin.Context) {
	endpointID := c.Param("id")
	if _, ok := h.authorizeEndpoint(c, endpointID); !ok {
		return
	}
	sessions, err := h.sessions.ListByEndpointID(c.Request.Context(), endpointID, 20)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list ai sessions", "endpoint_id", endpointID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}
