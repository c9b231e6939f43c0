package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

type schedulePostRequest struct {
	ArtifactID  uint      `json:"artifact_id" binding:"required"`
	Platform    string    `json:"platform"`
	RequestedAt time.Time `json:"requested_at"`
}

// SchedulePost queues an artifact for publishing. The requested time
// snaps forward to the next publishing slot.
func (h *Handler) SchedulePost(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	orgID, _ := middleware.GetOrgID(c)
	userID, _ := middleware.GetUserID(c)

	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	allowed, err := h.Billing.CheckLimit(c.Request.Context(), orgID, billing.LimitScheduledPosts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to check plan limits", "LIMIT_CHECK_FAILED"))
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, fail("scheduled post limit reached for the current plan", "PLAN_LIMIT_REACHED"))
		return
	}

	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	post, err := h.Scheduler.Schedule(c.Request.Context(), project.ID, req.ArtifactID, userID, req.Platform, requestedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "SCHEDULE_FAILED"))
		return
	}

	c.JSON(http.StatusCreated, ok(post))
}

// ListScheduledPosts returns a project's scheduled posts.
func (h *Handler) ListScheduledPosts(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	page, limit, offset := pageParams(c)

	q := h.DB.DB.Model(&models.ScheduledPost{}).Where("project_id = ?", project.ID)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	q.Count(&total)

	var posts []models.ScheduledPost
	if err := q.Preload("Artifact").Order("publish_at DESC").Limit(limit).Offset(offset).Find(&posts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, paginate(posts, page, limit, total))
}

// CancelScheduledPost cancels a post that has not yet published.
func (h *Handler) CancelScheduledPost(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	postID, valid := parseUintParam(c, "postID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("post not found", "POST_NOT_FOUND"))
		return
	}

	if err := h.Scheduler.CancelPost(c.Request.Context(), project.ID, postID); err != nil {
		c.JSON(http.StatusConflict, fail(err.Error(), "CANCEL_FAILED"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "post canceled"})
}
