package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// ListIdeas returns a project's ideas, optionally filtered by status.
func (h *Handler) ListIdeas(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	page, limit, offset := pageParams(c)

	q := h.DB.DB.Model(&models.Idea{}).Where("project_id = ?", project.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	q.Count(&total)

	var ideas []models.Idea
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&ideas).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, paginate(ideas, page, limit, total))
}

type createIdeaRequest struct {
	Title       string `json:"title" binding:"required,min=2,max=200"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// CreateIdea creates a draft idea.
func (h *Handler) CreateIdea(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	userID, _ := middleware.GetUserID(c)

	var req createIdeaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	source := req.Source
	switch source {
	case "":
		source = "manual"
	case "manual", "ai", "analytics":
	default:
		c.JSON(http.StatusBadRequest, fail("source must be manual, ai, or analytics", "INVALID_SOURCE"))
		return
	}

	idea := &models.Idea{
		ProjectID:   project.ID,
		CreatedBy:   userID,
		Title:       req.Title,
		Description: req.Description,
		Source:      source,
		Status:      models.IdeaStatusDraft,
	}
	if err := h.DB.DB.Create(idea).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to create idea", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusCreated, ok(idea))
}

type ideaStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateIdeaStatus moves an idea along its lifecycle. Illegal
// transitions are rejected with 409.
func (h *Handler) UpdateIdeaStatus(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	ideaID, valid := parseUintParam(c, "ideaID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("idea not found", "IDEA_NOT_FOUND"))
		return
	}

	var req ideaStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	var idea models.Idea
	if err := h.DB.DB.First(&idea, "id = ? AND project_id = ?", ideaID, project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("idea not found", "IDEA_NOT_FOUND"))
		return
	}

	if !idea.CanTransition(req.Status) {
		c.JSON(http.StatusConflict, StandardResponse{
			Success: false,
			Error:   "cannot move idea from " + idea.Status + " to " + req.Status,
			Code:    "INVALID_TRANSITION",
		})
		return
	}

	if err := h.DB.DB.Model(&idea).Update("status", req.Status).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to update idea", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(idea))
}

// RefineIdea runs AI refinement on a draft or refining idea. The idea
// ends up validated or rejected depending on the AI score.
func (h *Handler) RefineIdea(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	ideaID, valid := parseUintParam(c, "ideaID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("idea not found", "IDEA_NOT_FOUND"))
		return
	}

	var idea models.Idea
	if err := h.DB.DB.First(&idea, "id = ? AND project_id = ?", ideaID, project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("idea not found", "IDEA_NOT_FOUND"))
		return
	}

	userID, _ := middleware.GetUserID(c)
	if err := h.Agents.RefineIdea(c.Request.Context(), project.OrganizationID, userID, &idea); err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, fail("not enough credits", "INSUFFICIENT_CREDITS"))
			return
		}
		c.JSON(http.StatusConflict, fail(err.Error(), "REFINE_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(idea))
}
