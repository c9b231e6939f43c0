package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/agents"
	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

type generateRequest struct {
	Type     string            `json:"type" binding:"required"`
	IdeaID   *uint             `json:"idea_id"`
	Period   int               `json:"period"`
	Language string            `json:"language"`
	Inputs   map[string]string `json:"inputs"`
}

// GenerateContent produces one artifact. Repeat requests with the
// same inputs return the cached artifact without charging again.
func (h *Handler) GenerateContent(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	orgID, _ := middleware.GetOrgID(c)
	userID, _ := middleware.GetUserID(c)

	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	switch req.Type {
	case models.ArtifactAffirmation, models.ArtifactInstagramPost,
		models.ArtifactVisualPost, models.ArtifactVideo, models.ArtifactAsoReport:
	default:
		c.JSON(http.StatusBadRequest, fail("unknown content type", "INVALID_TYPE"))
		return
	}

	if req.Period < 0 || req.Period > 7 {
		c.JSON(http.StatusBadRequest, fail("period must be between 1 and 7", "INVALID_PERIOD"))
		return
	}

	if req.Type == models.ArtifactVideo {
		allowed, err := h.Billing.CheckLimit(c.Request.Context(), orgID, billing.LimitVideoGeneration)
		if err != nil {
			c.JSON(http.StatusInternalServerError, fail("failed to check plan limits", "LIMIT_CHECK_FAILED"))
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, fail("video generation limit reached for the current plan", "PLAN_LIMIT_REACHED"))
			return
		}
	}

	language := req.Language
	if language == "" {
		language = project.Language
	}

	artifact, cacheHit, err := h.Agents.Generate(c.Request.Context(), agents.GenerateParams{
		OrganizationID: orgID,
		ProjectID:      project.ID,
		Type:           req.Type,
		IdeaID:         req.IdeaID,
		Period:         req.Period,
		Language:       language,
		Inputs:         req.Inputs,
		CreatedBy:      userID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, fail("not enough credits", "INSUFFICIENT_CREDITS"))
			return
		}
		c.JSON(http.StatusBadGateway, fail("generation failed: "+err.Error(), "GENERATION_FAILED"))
		return
	}

	status := http.StatusCreated
	if cacheHit {
		status = http.StatusOK
	}
	c.JSON(status, ok(gin.H{
		"artifact":  artifact,
		"cache_hit": cacheHit,
	}))
}

// ListArtifacts returns a project's artifacts, optionally filtered by type.
func (h *Handler) ListArtifacts(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	page, limit, offset := pageParams(c)

	q := h.DB.DB.Model(&models.ContentArtifact{}).Where("project_id = ?", project.ID)
	if artifactType := c.Query("type"); artifactType != "" {
		q = q.Where("type = ?", artifactType)
	}
	if period := c.Query("period"); period != "" {
		q = q.Where("period = ?", period)
	}

	var total int64
	q.Count(&total)

	var artifacts []models.ContentArtifact
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&artifacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, paginate(artifacts, page, limit, total))
}

// GetArtifact returns one artifact.
func (h *Handler) GetArtifact(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	artifactID, valid := parseUintParam(c, "artifactID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("artifact not found", "ARTIFACT_NOT_FOUND"))
		return
	}

	var artifact models.ContentArtifact
	if err := h.DB.DB.First(&artifact, "id = ? AND project_id = ?", artifactID, project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("artifact not found", "ARTIFACT_NOT_FOUND"))
		return
	}

	c.JSON(http.StatusOK, ok(artifact))
}
