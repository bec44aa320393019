package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/apps/server/internal/migrations"
)

// Handler translates HTTP requests into calls on the migrations.Service.
type Handler struct {
	svc *migrations.Service
	log *slog.Logger
}

// RegisterRoutes mounts the Loom migration API onto the given Gin engine.
func RegisterRoutes(r *gin.Engine, svc *migrations.Service, log *slog.Logger) {
	h := &Handler{svc: svc, log: log}

	r.GET("/health", h.Health)

	// Migrator callbacks (instance ID in URL)
	r.POST("/event/:id", h.Event)
	r.POST("/event/:id/pr-opened", h.PROpened)

	r.POST("/registry/announce", h.Announce)

	// Migrations
	r.GET("/migrations", h.List)
	r.GET("/migrations/:id", h.GetMigration)
	r.POST("/migrations/:id/candidates", h.SubmitCandidates)
	r.GET("/migrations/:id/candidates", h.GetCandidates)
	r.POST("/migrations/:id/dry-run", h.DryRun)

	// Candidate lifecycle (candidate ID in URL)
	r.POST("/migrations/:id/candidates/:candidateId/start", h.StartRun)
	r.POST("/migrations/:id/candidates/:candidateId/cancel", h.CancelRun)
	r.POST("/migrations/:id/candidates/:candidateId/retry-step", h.RetryStep)
	r.PUT("/migrations/:id/candidates/:candidateId/inputs", h.UpdateInputs)
	r.GET("/migrations/:id/candidates/:candidateId/steps", h.GetCandidateSteps)

	// Metrics dashboard
	r.GET("/metrics/overview", h.MetricsOverview)
	r.GET("/metrics/steps", h.MetricsSteps)
	r.GET("/metrics/timeline", h.MetricsTimeline)
	r.GET("/metrics/failures", h.MetricsFailures)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps service errors onto HTTP statuses: unknown resources are
// 404, lifecycle conflicts are 409, bad inputs are 400, the rest is 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		migNotFound  migrations.MigrationNotFoundError
		candNotFound migrations.CandidateNotFoundError
		runNotFound  migrations.RunNotFoundError
		alreadyRun   migrations.CandidateAlreadyRunError
		notRunning   migrations.CandidateNotRunningError
		missing      migrations.MissingInputsError
	)
	switch {
	case errors.As(err, &migNotFound), errors.As(err, &candNotFound), errors.As(err, &runNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &alreadyRun), errors.As(err, &notRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
