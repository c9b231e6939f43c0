package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/auth"
	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// Register creates a user together with their first organization. The
// user becomes the organization's owner and the free plan's monthly
// credits are granted once.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	if ok, problems := h.Auth.PasswordStrengthCheck(req.Password); !ok {
		c.JSON(http.StatusBadRequest, StandardResponse{
			Success: false,
			Error:   strings.Join(problems, "; "),
			Code:    "WEAK_PASSWORD",
		})
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	if err := h.DB.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, fail("an account with this email already exists", "USER_EXISTS"))
		return
	}

	hash, err := h.Auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to process password", "HASH_FAILED"))
		return
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         req.Name,
		IsActive:     true,
	}
	org := &models.Organization{
		Name: req.OrganizationName,
		Plan: string(billing.PlanFree),
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		org.Slug = uniqueSlug(tx, req.OrganizationName)
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		member := &models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         user.ID,
			Role:           models.RoleOwner,
			JoinedAt:       time.Now(),
		}
		return tx.Create(member).Error
	})
	if err != nil {
		logging.S().Errorw("registration failed", "email", email, "error", err)
		c.JSON(http.StatusInternalServerError, fail("failed to create account", "DATABASE_ERROR"))
		return
	}

	// Signup grant. Outside the transaction so ledger idempotency
	// keys keep a retried signup from double-granting.
	freePlan, _ := billing.GetPlan(billing.PlanFree)
	if _, err := h.Ledger.Grant(c.Request.Context(), ledger.Entry{
		OrganizationID: org.ID,
		Amount:         freePlan.MonthlyGrant,
		IdempotencyKey: fmt.Sprintf("signup:org:%d", org.ID),
		Reference:      "signup",
		Description:    "Free plan signup credits",
		CreatedBy:      user.ID,
	}); err != nil {
		logging.S().Errorw("signup grant failed", "org_id", org.ID, "error", err)
	}

	tokens, err := h.Auth.GenerateTokens(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to generate tokens", "TOKEN_GENERATION_FAILED"))
		return
	}

	c.JSON(http.StatusCreated, ok(gin.H{
		"user":         user,
		"organization": org,
		"tokens":       tokens,
	}))
}

// Login authenticates by email and password.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	var user models.User
	if err := h.DB.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, fail("invalid email or password", "INVALID_CREDENTIALS"))
		return
	}

	if !user.IsActive {
		c.JSON(http.StatusForbidden, fail("account is deactivated", "ACCOUNT_DISABLED"))
		return
	}

	if err := h.Auth.CheckPassword(req.Password, user.PasswordHash); err != nil {
		c.JSON(http.StatusUnauthorized, fail("invalid email or password", "INVALID_CREDENTIALS"))
		return
	}

	now := time.Now()
	h.DB.DB.Model(&user).Update("last_login_at", now)

	tokens, err := h.Auth.GenerateTokens(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to generate tokens", "TOKEN_GENERATION_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(gin.H{
		"user":   user,
		"tokens": tokens,
	}))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh exchanges a refresh token for a fresh token pair.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	userID, err := h.Auth.ExtractUserFromToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, fail("invalid refresh token", "INVALID_TOKEN"))
		return
	}

	var user models.User
	if err := h.DB.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, fail("user not found", "USER_NOT_FOUND"))
		return
	}

	tokens, err := h.Auth.RefreshTokens(req.RefreshToken, &user)
	if err != nil {
		c.JSON(http.StatusUnauthorized, fail("invalid refresh token", "INVALID_TOKEN"))
		return
	}

	c.JSON(http.StatusOK, ok(gin.H{"tokens": tokens}))
}

// Me returns the authenticated user with their memberships.
func (h *Handler) Me(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var user models.User
	if err := h.DB.DB.Preload("Memberships").First(&user, userID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("user not found", "USER_NOT_FOUND"))
		return
	}

	c.JSON(http.StatusOK, ok(user))
}

// uniqueSlug derives a URL slug from the organization name and
// suffixes a counter when taken.
func uniqueSlug(tx *gorm.DB, name string) string {
	base := slugify(name)
	if base == "" {
		base = "org"
	}

	slug := base
	for i := 2; ; i++ {
		var count int64
		tx.Model(&models.Organization{}).Where("slug = ?", slug).Count(&count)
		if count == 0 {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

func slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
