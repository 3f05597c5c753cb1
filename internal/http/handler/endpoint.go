package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weskerllc/cronicorn/internal/domain"
	"github.com/weskerllc/cronicorn/internal/repository"
)

type EndpointHandler struct {
	jobs      repository.JobRepository
	endpoints repository.EndpointRepository
	logger    *slog.Logger
}

func NewEndpointHandler(jobs repository.JobRepository, endpoints repository.EndpointRepository, logger *slog.Logger) *EndpointHandler {
	return &EndpointHandler{jobs: jobs, endpoints: endpoints, logger: logger.With("component", "endpoint_handler")}
}

// authorizeJob confirms the caller owns jobID, translating a not-found/
// mismatch into the same 404 an endpoint lookup would give, so ownership
// leaks no information about other tenants' jobs.
func (h *EndpointHandler) authorizeJob(c *gin.Context, jobID string) bool {
	job, err := h.jobs.GetByID(c.Request.Context(), jobID, c.GetString("userID"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return false
		}
		h.logger.ErrorContext(c.Request.Context(), "authorize job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return false
	}
	if job.IsArchived() {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return false
	}
	return true
}

type createEndpointRequest struct {
	JobID              string            `json:"jobId" binding:"required"`
	BaselineCron       *string           `json:"baselineCron"`
	BaselineIntervalMs *int64            `json:"baselineIntervalMs"`
	MinIntervalMs      *int64            `json:"minIntervalMs"`
	MaxIntervalMs      *int64            `json:"maxIntervalMs"`
	URL                string            `json:"url" binding:"required,url"`
	Method             domain.Method     `json:"method" binding:"required,oneof=GET POST PUT PATCH DELETE"`
	Headers            map[string]string `json:"headers"`
	TimeoutMs          int               `json:"timeoutMs"`
	MaxExecutionTimeMs int               `json:"maxExecutionTimeMs"`
	MaxResponseSizeKb  int               `json:"maxResponseSizeKb"`
}

func (h *EndpointHandler) Create(c *gin.Context) {
	var req createEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authorizeJob(c, req.JobID) {
		return
	}

	e := &domain.Endpoint{
		JobID:              req.JobID,
		BaselineCron:       req.BaselineCron,
		BaselineIntervalMs: req.BaselineIntervalMs,
		MinIntervalMs:      req.MinIntervalMs,
		MaxIntervalMs:      req.MaxIntervalMs,
		URL:                req.URL,
		Method:             req.Method,
		Headers:            req.Headers,
		TimeoutMs:          req.TimeoutMs,
		MaxExecutionTimeMs: req.MaxExecutionTimeMs,
		MaxResponseSizeKb:  req.MaxResponseSizeKb,
		NextRunAt:          time.Now(),
	}
	e.ApplyDefaults()
	if err := e.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.endpoints.AddEndpoint(c.Request.Context(), e)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "create endpoint", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *EndpointHandler) GetByID(c *gin.Context) {
	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNotFoundOrError(c, err, "get endpoint")
		return
	}
	if !h.authorizeJob(c, e.JobID) {
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *EndpointHandler) List(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}
	if !h.authorizeJob(c, jobID) {
		return
	}
	endpoints, err := h.endpoints.ListEndpoints(c.Request.Context(), repository.ListEndpointsInput{JobID: jobID, CursorID: c.Query("cursorId")})
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list endpoints", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": endpoints})
}

func (h *EndpointHandler) Archive(c *gin.Context) {
	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNotFoundOrError(c, err, "archive endpoint")
		return
	}
	if !h.authorizeJob(c, e.JobID) {
		return
	}
	if err := h.endpoints.ArchiveEndpoint(c.Request.Context(), e.ID); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "archive endpoint", "id", e.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

type pauseRequest struct {
	Until *time.Time `json:"until"`
}

// Pause sets or clears a manual pause. Passing a null/absent "until"
// resumes the endpoint immediately.
func (h *EndpointHandler) Pause(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNotFoundOrError(c, err, "pause endpoint")
		return
	}
	if !h.authorizeJob(c, e.JobID) {
		return
	}
	if err := h.endpoints.SetPausedUntil(c.Request.Context(), e.ID, req.Until); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "set paused until", "id", e.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EndpointHandler) Resume(c *gin.Context) {
	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNotFoundOrError(c, err, "resume endpoint")
		return
	}
	if !h.authorizeJob(c, e.JobID) {
		return
	}
	if err := h.endpoints.SetPausedUntil(c.Request.Context(), e.ID, nil); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "clear paused until", "id", e.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

type rescheduleRequest struct {
	NextRunAt time.Time `json:"nextRunAt" binding:"required"`
}

// Reschedule nudges nextRunAt earlier, subject to the same guardrail clamp
// and monotonicity rule as an AI-proposed nudge (it cannot push the
// schedule later than it already is).
func (h *EndpointHandler) Reschedule(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	e, err := h.endpoints.GetEndpoint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondNotFoundOrError(c, err, "reschedule endpoint")
		return
	}
	if !h.authorizeJob(c, e.JobID) {
		return
	}
	if err := h.endpoints.SetNextRunAtIfEarlier(c.Request.Context(), e.ID, req.NextRunAt); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "set next run at", "id", e.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *EndpointHandler) respondNotFoundOrError(c *gin.Context, err error, action string) {
	if errors.Is(err, domain.ErrEndpointNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
		return
	}
	h.logger.ErrorContext(c.Request.Context(), action, "id", c.Param("id"), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
