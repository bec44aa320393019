package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/pkg/api"
)

// List handles GET /migrations.
func (h *Handler) List(c *gin.Context) {
	ms, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ListMigrationsResponse{Migrations: ms})
}

// GetMigration handles GET /migrations/:id.
func (h *Handler) GetMigration(c *gin.Context) {
	id := c.Param("id")

	m, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
		return
	}
	c.JSON(http.StatusOK, m)
}

// SubmitCandidates handles POST /migrations/:id/candidates — a migrator
// submitting its discovery results.
func (h *Handler) SubmitCandidates(c *gin.Context) {
	id := c.Param("id")

	var req api.SubmitCandidatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.SubmitCandidates(c.Request.Context(), id, req); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCandidates handles GET /migrations/:id/candidates.
func (h *Handler) GetCandidates(c *gin.Context) {
	id := c.Param("id")

	candidates, err := h.svc.GetCandidates(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if candidates == nil {
		candidates = []api.Candidate{}
	}
	c.JSON(http.StatusOK, candidates)
}

// DryRun handles POST /migrations/:id/dry-run — simulate the steps for one
// candidate without touching any repository.
func (h *Handler) DryRun(c *gin.Context) {
	id := c.Param("id")

	var req api.DryRunCandidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.DryRun(c.Request.Context(), id, req.Candidate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
