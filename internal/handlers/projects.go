package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// ListProjects returns the organization's projects. Archived projects
// are excluded unless ?archived=true.
func (h *Handler) ListProjects(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	page, limit, offset := pageParams(c)

	q := h.DB.DB.Model(&models.Project{}).Where("organization_id = ?", orgID)
	if c.Query("archived") != "true" {
		q = q.Where("is_archived = ?", false)
	}

	var total int64
	q.Count(&total)

	var projects []models.Project
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&projects).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, paginate(projects, page, limit, total))
}

type createProjectRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=100"`
	Description string `json:"description"`
	Language    string `json:"language"`
	BrandVoice  string `json:"brand_voice"`
	Hashtags    string `json:"hashtags"`
}

// CreateProject creates a project, subject to the plan's project limit.
func (h *Handler) CreateProject(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	allowed, err := h.Billing.CheckLimit(c.Request.Context(), orgID, billing.LimitProjects)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to check plan limits", "LIMIT_CHECK_FAILED"))
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, fail("project limit reached for the current plan", "PLAN_LIMIT_REACHED"))
		return
	}

	language := req.Language
	if language == "" {
		language = "de"
	}

	project := &models.Project{
		OrganizationID: orgID,
		Name:           req.Name,
		Slug:           uniqueProjectSlug(h.DB.DB, orgID, req.Name),
		Description:    req.Description,
		Language:       language,
		BrandVoice:     req.BrandVoice,
		Hashtags:       req.Hashtags,
	}
	if err := h.DB.DB.Create(project).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to create project", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusCreated, ok(project))
}

// GetProject returns one project.
func (h *Handler) GetProject(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	c.JSON(http.StatusOK, ok(project))
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Language    *string `json:"language"`
	BrandVoice  *string `json:"brand_voice"`
	Hashtags    *string `json:"hashtags"`
}

// UpdateProject applies a partial update.
func (h *Handler) UpdateProject(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil && strings.TrimSpace(*req.Name) != "" {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Language != nil && *req.Language != "" {
		updates["language"] = *req.Language
	}
	if req.BrandVoice != nil {
		updates["brand_voice"] = *req.BrandVoice
	}
	if req.Hashtags != nil {
		updates["hashtags"] = *req.Hashtags
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, fail("nothing to update", "EMPTY_UPDATE"))
		return
	}

	if err := h.DB.DB.Model(project).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to update project", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(project))
}

// ArchiveProject marks a project archived. Archived projects stop
// counting towards the plan's project limit.
func (h *Handler) ArchiveProject(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	if err := h.DB.DB.Model(project).Update("is_archived", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to archive project", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "project archived"})
}

// DeleteProject soft-deletes a project.
func (h *Handler) DeleteProject(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	if err := h.DB.DB.Delete(project).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to delete project", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "project deleted"})
}

// uniqueProjectSlug derives a slug from the project name, unique
// within the organization.
func uniqueProjectSlug(tx *gorm.DB, orgID uint, name string) string {
	base := slugify(name)
	if base == "" {
		base = "project"
	}

	slug := base
	for i := 2; ; i++ {
		var count int64
		tx.Model(&models.Project{}).Where("organization_id = ? AND slug = ?", orgID, slug).Count(&count)
		if count == 0 {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
