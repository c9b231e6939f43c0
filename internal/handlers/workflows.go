package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/agents"
	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

type startWorkflowRequest struct {
	Workflow string               `json:"workflow" binding:"required"`
	Input    agents.WorkflowInput `json:"input"`
}

// StartWorkflow creates a pending run and enqueues it for background
// execution. Responds 202; progress is polled via GetWorkflowRun.
func (h *Handler) StartWorkflow(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	orgID, _ := middleware.GetOrgID(c)
	userID, _ := middleware.GetUserID(c)

	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	if !agents.KnownWorkflow(req.Workflow) {
		c.JSON(http.StatusBadRequest, fail("unknown workflow", "UNKNOWN_WORKFLOW"))
		return
	}

	allowed, err := h.Billing.CheckLimit(c.Request.Context(), orgID, billing.LimitWorkflowRuns)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to check plan limits", "LIMIT_CHECK_FAILED"))
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, fail("monthly workflow run limit reached for the current plan", "PLAN_LIMIT_REACHED"))
		return
	}

	run, err := h.Runner.Start(c.Request.Context(), orgID, project.ID, userID, req.Workflow, req.Input)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "WORKFLOW_START_FAILED"))
		return
	}

	if err := h.Queue.EnqueueRun(c.Request.Context(), run.RunID); err != nil {
		logging.S().Errorw("enqueue failed", "run_id", run.RunID, "error", err)
		c.JSON(http.StatusInternalServerError, fail("failed to enqueue workflow", "ENQUEUE_FAILED"))
		return
	}

	c.JSON(http.StatusAccepted, ok(run))
}

// ListWorkflowRuns returns a project's runs, newest first.
func (h *Handler) ListWorkflowRuns(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	page, limit, offset := pageParams(c)

	q := h.DB.DB.Model(&models.WorkflowRun{}).Where("project_id = ?", project.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	q.Count(&total)

	var runs []models.WorkflowRun
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, paginate(runs, page, limit, total))
}

// GetWorkflowRun returns one run including its step audit trail.
func (h *Handler) GetWorkflowRun(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	var run models.WorkflowRun
	if err := h.DB.DB.First(&run, "run_id = ? AND project_id = ?", c.Param("runID"), project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("workflow run not found", "RUN_NOT_FOUND"))
		return
	}

	c.JSON(http.StatusOK, ok(run))
}

// CancelWorkflowRun cancels a pending run. Running and finished runs
// cannot be canceled.
func (h *Handler) CancelWorkflowRun(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	var run models.WorkflowRun
	if err := h.DB.DB.First(&run, "run_id = ? AND project_id = ?", c.Param("runID"), project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("workflow run not found", "RUN_NOT_FOUND"))
		return
	}

	if err := h.Runner.Cancel(c.Request.Context(), run.RunID); err != nil {
		c.JSON(http.StatusConflict, fail(err.Error(), "CANCEL_FAILED"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "workflow run canceled"})
}
