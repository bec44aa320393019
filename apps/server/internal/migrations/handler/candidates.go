package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loomhq/loom/pkg/api"
)

// StartRun handles POST /migrations/:id/candidates/:candidateId/start.
// The optional body carries operator inputs merged over candidate metadata.
func (h *Handler) StartRun(c *gin.Context) {
	migrationID := c.Param("id")
	candidateID := c.Param("candidateId")

	var req api.StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var inputs map[string]string
	if req.Inputs != nil {
		inputs = *req.Inputs
	}

	runID, err := h.svc.Start(c.Request.Context(), migrationID, candidateID, inputs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("run started", "migrationId", migrationID, "candidate", candidateID, "runId", runID)
	c.JSON(http.StatusAccepted, gin.H{"runId": runID})
}

// CancelRun handles POST /migrations/:id/candidates/:candidateId/cancel.
func (h *Handler) CancelRun(c *gin.Context) {
	migrationID := c.Param("id")
	candidateID := c.Param("candidateId")

	if err := h.svc.Cancel(c.Request.Context(), migrationID, candidateID); err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info("run cancelled", "migrationId", migrationID, "candidate", candidateID)
	c.Status(http.StatusNoContent)
}

// RetryStep handles POST /migrations/:id/candidates/:candidateId/retry-step.
func (h *Handler) RetryStep(c *gin.Context) {
	migrationID := c.Param("id")
	candidateID := c.Param("candidateId")

	var req api.RetryStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.RetryStep(c.Request.Context(), migrationID, candidateID, req.StepName); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "retry raised"})
}

// UpdateInputs handles PUT /migrations/:id/candidates/:candidateId/inputs —
// editing a running candidate's metadata.
func (h *Handler) UpdateInputs(c *gin.Context) {
	migrationID := c.Param("id")
	candidateID := c.Param("candidateId")

	var inputs map[string]string
	if err := c.ShouldBindJSON(&inputs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.UpdateInputs(c.Request.Context(), migrationID, candidateID, inputs); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetCandidateSteps handles GET /migrations/:id/candidates/:candidateId/steps.
func (h *Handler) GetCandidateSteps(c *gin.Context) {
	migrationID := c.Param("id")
	candidateID := c.Param("candidateId")

	resp, err := h.svc.GetCandidateSteps(c.Request.Context(), migrationID, candidateID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no run found for candidate"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
