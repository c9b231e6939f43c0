package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/instagram"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

type connectInstagramRequest struct {
	// OAuth authorization code, exchanged server-side.
	Code string `json:"code"`
	// Alternatively a long-lived token obtained elsewhere.
	AccessToken  string     `json:"access_token"`
	TokenExpires *time.Time `json:"token_expires"`
}

// ConnectInstagram links an Instagram business account to the
// project, either from an OAuth code or a pre-obtained token.
func (h *Handler) ConnectInstagram(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	userID, _ := middleware.GetUserID(c)

	if h.Instagram == nil {
		c.JSON(http.StatusServiceUnavailable, fail("instagram integration is not configured", "INSTAGRAM_UNAVAILABLE"))
		return
	}

	var req connectInstagramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	accessToken := req.AccessToken
	tokenExpires := req.TokenExpires

	if accessToken == "" {
		if req.Code == "" {
			c.JSON(http.StatusBadRequest, fail("either code or access_token is required", "MISSING_CREDENTIALS"))
			return
		}
		token, err := h.Instagram.ExchangeCode(c.Request.Context(), req.Code)
		if err != nil {
			c.JSON(http.StatusBadGateway, fail("oauth exchange failed", "OAUTH_FAILED"))
			return
		}
		accessToken = token.AccessToken
		if !token.Expiry.IsZero() {
			tokenExpires = &token.Expiry
		}
	}

	info, err := h.Instagram.ResolveAccount(c.Request.Context(), accessToken)
	if err != nil {
		c.JSON(http.StatusBadGateway, fail("could not resolve an instagram business account for this token", "ACCOUNT_RESOLUTION_FAILED"))
		return
	}

	if err := h.Publisher.Connect(c.Request.Context(), project.ID, userID, accessToken, tokenExpires, info); err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to store account", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(gin.H{
		"ig_user_id": info.IGUserID,
		"username":   info.Username,
	}))
}

type publishNowRequest struct {
	Platform string `json:"platform"`
}

// PublishArtifact pushes an artifact to the connected account
// immediately, bypassing the scheduler. The publish is still recorded
// as a post so it shows up in the project's history.
func (h *Handler) PublishArtifact(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}
	userID, _ := middleware.GetUserID(c)

	if h.Publisher == nil {
		c.JSON(http.StatusServiceUnavailable, fail("instagram integration is not configured", "INSTAGRAM_UNAVAILABLE"))
		return
	}

	artifactID, valid := parseUintParam(c, "artifactID")
	if !valid {
		c.JSON(http.StatusBadRequest, fail("invalid artifact id", "INVALID_ID"))
		return
	}

	var req publishNowRequest
	_ = c.ShouldBindJSON(&req)
	platform := req.Platform
	if platform == "" {
		platform = "instagram"
	}
	if platform != "instagram" && platform != "threads" {
		c.JSON(http.StatusBadRequest, fail("platform must be instagram or threads", "INVALID_PLATFORM"))
		return
	}

	var artifact models.ContentArtifact
	if err := h.DB.DB.First(&artifact, "id = ? AND project_id = ?", artifactID, project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("artifact not found", "NOT_FOUND"))
		return
	}

	now := time.Now()
	post := models.ScheduledPost{
		ProjectID:  project.ID,
		ArtifactID: artifact.ID,
		Platform:   platform,
		PublishAt:  now,
		Status:     "publishing",
		Attempts:   1,
		CreatedBy:  userID,
	}
	if err := h.DB.DB.Create(&post).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to record post", "DATABASE_ERROR"))
		return
	}

	externalID, err := h.Publisher.Publish(c.Request.Context(), &post)
	if err != nil {
		post.Status = "failed"
		post.Error = err.Error()
		h.DB.DB.Save(&post)

		switch {
		case errors.Is(err, instagram.ErrRateLimited):
			c.Header("Retry-After", "3600")
			c.JSON(http.StatusTooManyRequests, fail("publish rate limit reached for this account", "RATE_LIMITED"))
		case errors.Is(err, instagram.ErrNotConnected):
			c.JSON(http.StatusConflict, fail("no instagram account connected", "NOT_CONNECTED"))
		case errors.Is(err, instagram.ErrTokenExpired):
			c.JSON(http.StatusConflict, fail("instagram token expired, reconnect the account", "TOKEN_EXPIRED"))
		default:
			c.JSON(http.StatusBadGateway, fail("publish failed", "PUBLISH_FAILED"))
		}
		return
	}

	post.Status = "published"
	post.ExternalID = externalID
	post.PublishedAt = &now
	h.DB.DB.Save(&post)

	c.JSON(http.StatusOK, ok(gin.H{"post": post}))
}

// GetInstagramAccount returns the connected account, if any. The
// access token itself is never serialized.
func (h *Handler) GetInstagramAccount(c *gin.Context) {
	project := h.projectInOrg(c)
	if project == nil {
		return
	}

	var account models.InstagramAccount
	if err := h.DB.DB.First(&account, "project_id = ?", project.ID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("no instagram account connected", "NOT_CONNECTED"))
		return
	}

	c.JSON(http.StatusOK, ok(gin.H{
		"account":     account,
		"token_valid": account.TokenValid(),
	}))
}
