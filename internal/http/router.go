package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/weskerllc/cronicorn/internal/health"
	"github.com/weskerllc/cronicorn/internal/http/handler"
	"github.com/weskerllc/cronicorn/internal/http/middleware"
)

// Handlers bundles the admin surface's route handlers.
type Handlers struct {
	Job      *handler.JobHandler
	Endpoint *handler.EndpointHandler
	Run      *handler.RunHandler
}

// NewRouter builds the admin HTTP surface: health/readiness, Prometheus
// scrape (mounted separately by the metrics sidecar server, not here), and
// authenticated CRUD plus manual pause/resume/reschedule control over jobs
// and endpoints.
func NewRouter(h Handlers, checker *health.Checker, logger *slog.Logger, jwksURL string, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Security(), sloggin.New(logger), middleware.Metrics())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, checker.Liveness(c.Request.Context())) })
	r.GET("/readyz", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := 200
		if result.Status != "up" {
			status = 503
		}
		c.JSON(status, result)
	})

	api := r.Group("/", middleware.Auth(jwksURL, jwtKey))

	jobs := api.Group("/jobs")
	jobs.POST("", h.Job.Create)
	jobs.GET("/:id", h.Job.GetByID)
	jobs.DELETE("/:id", h.Job.Archive)

	endpoints := api.Group("/endpoints")
	endpoints.POST("", h.Endpoint.Create)
	endpoints.GET("", h.Endpoint.List)
	endpoints.GET("/:id", h.Endpoint.GetByID)
	endpoints.DELETE("/:id", h.Endpoint.Archive)
	endpoints.POST("/:id/pause", h.Endpoint.Pause)
	endpoints.POST("/:id/resume", h.Endpoint.Resume)
	endpoints.POST("/:id/reschedule", h.Endpoint.Reschedule)
	endpoints.GET("/:id/runs", h.Run.List)
	endpoints.GET("/:id/ai-sessions", h.Run.AISessions)

	return r
}
