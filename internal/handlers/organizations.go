package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/cache"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// ListOrganizations returns every organization the user belongs to.
func (h *Handler) ListOrganizations(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var memberships []models.OrganizationMember
	if err := h.DB.DB.Preload("Organization").Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	type orgWithRole struct {
		models.Organization
		Role string `json:"role"`
	}
	orgs := make([]orgWithRole, 0, len(memberships))
	for _, m := range memberships {
		orgs = append(orgs, orgWithRole{Organization: m.Organization, Role: m.Role})
	}

	c.JSON(http.StatusOK, ok(orgs))
}

type createOrgRequest struct {
	Name        string `json:"name" binding:"required,min=2,max=100"`
	Description string `json:"description"`
}

// CreateOrganization creates an additional organization owned by the
// caller, with the free plan's signup credits.
func (h *Handler) CreateOrganization(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req createOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	org := &models.Organization{
		Name:        req.Name,
		Description: req.Description,
		Plan:        string(billing.PlanFree),
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		org.Slug = uniqueSlug(tx, req.Name)
		if err := tx.Create(org).Error; err != nil {
			return err
		}
		return tx.Create(&models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         userID,
			Role:           models.RoleOwner,
			JoinedAt:       time.Now(),
		}).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to create organization", "DATABASE_ERROR"))
		return
	}

	freePlan, _ := billing.GetPlan(billing.PlanFree)
	if _, err := h.Ledger.Grant(c.Request.Context(), ledger.Entry{
		OrganizationID: org.ID,
		Amount:         freePlan.MonthlyGrant,
		IdempotencyKey: fmt.Sprintf("signup:org:%d", org.ID),
		Reference:      "signup",
		Description:    "Free plan signup credits",
		CreatedBy:      userID,
	}); err != nil {
		logging.S().Errorw("signup grant failed", "org_id", org.ID, "error", err)
	}

	c.JSON(http.StatusCreated, ok(org))
}

// GetOrganization returns the organization in context.
func (h *Handler) GetOrganization(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	var org models.Organization
	if err := h.DB.DB.First(&org, orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("organization not found", "ORG_NOT_FOUND"))
		return
	}

	c.JSON(http.StatusOK, ok(org))
}

type updateOrgRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Settings    *string `json:"settings"`
}

// UpdateOrganization updates name, description and settings.
func (h *Handler) UpdateOrganization(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	var req updateOrgRequest
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
	if req.Settings != nil {
		updates["settings"] = *req.Settings
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, fail("nothing to update", "EMPTY_UPDATE"))
		return
	}

	if err := h.DB.DB.Model(&models.Organization{}).Where("id = ?", orgID).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to update organization", "DATABASE_ERROR"))
		return
	}

	var org models.Organization
	h.DB.DB.First(&org, orgID)
	c.JSON(http.StatusOK, ok(org))
}

// ListMembers returns the organization's members with user details.
func (h *Handler) ListMembers(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	var members []models.OrganizationMember
	if err := h.DB.DB.Preload("User").Where("organization_id = ?", orgID).Order("joined_at").Find(&members).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(members))
}

type addMemberRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// AddMember adds an existing user to the organization by email. The
// owner role can only be obtained through ownership transfer.
func (h *Handler) AddMember(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	inviterID, _ := middleware.GetUserID(c)

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleMember
	}
	switch role {
	case models.RoleAdmin, models.RoleMember, models.RoleViewer:
	default:
		c.JSON(http.StatusBadRequest, fail("role must be admin, member, or viewer", "INVALID_ROLE"))
		return
	}

	allowed, err := h.Billing.CheckLimit(c.Request.Context(), orgID, billing.LimitMembers)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to check plan limits", "LIMIT_CHECK_FAILED"))
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, fail("member limit reached for the current plan", "PLAN_LIMIT_REACHED"))
		return
	}

	var user models.User
	if err := h.DB.DB.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("no account with this email", "USER_NOT_FOUND"))
		return
	}

	var existing models.OrganizationMember
	if err := h.DB.DB.Where("organization_id = ? AND user_id = ?", orgID, user.ID).First(&existing).Error; err == nil {
		c.JSON(http.StatusConflict, fail("user is already a member", "ALREADY_MEMBER"))
		return
	}

	member := &models.OrganizationMember{
		OrganizationID: orgID,
		UserID:         user.ID,
		Role:           role,
		InvitedBy:      inviterID,
		JoinedAt:       time.Now(),
	}
	if err := h.DB.DB.Create(member).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to add member", "DATABASE_ERROR"))
		return
	}

	member.User = user
	c.JSON(http.StatusCreated, ok(member))
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateMemberRole changes a member's role. The owner's role is fixed;
// promoting someone to owner goes through TransferOwnership.
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	memberID, valid := parseUintParam(c, "memberID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("member not found", "MEMBER_NOT_FOUND"))
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	switch req.Role {
	case models.RoleAdmin, models.RoleMember, models.RoleViewer:
	case models.RoleOwner:
		c.JSON(http.StatusBadRequest, fail("ownership changes require a transfer", "OWNERSHIP_TRANSFER_REQUIRED"))
		return
	default:
		c.JSON(http.StatusBadRequest, fail("unknown role", "INVALID_ROLE"))
		return
	}

	var member models.OrganizationMember
	if err := h.DB.DB.First(&member, "id = ? AND organization_id = ?", memberID, orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("member not found", "MEMBER_NOT_FOUND"))
		return
	}

	if member.Role == models.RoleOwner {
		c.JSON(http.StatusForbidden, fail("the owner's role cannot be changed", "OWNER_IMMUTABLE"))
		return
	}

	if err := h.DB.DB.Model(&member).Update("role", req.Role).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to update role", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(member))
}

// RemoveMember removes a member. The owner cannot be removed.
func (h *Handler) RemoveMember(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	memberID, valid := parseUintParam(c, "memberID")
	if !valid {
		c.JSON(http.StatusNotFound, fail("member not found", "MEMBER_NOT_FOUND"))
		return
	}

	var member models.OrganizationMember
	if err := h.DB.DB.First(&member, "id = ? AND organization_id = ?", memberID, orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("member not found", "MEMBER_NOT_FOUND"))
		return
	}

	if member.Role == models.RoleOwner {
		c.JSON(http.StatusForbidden, fail("the owner cannot be removed; transfer ownership first", "OWNER_IMMUTABLE"))
		return
	}

	if err := h.DB.DB.Delete(&member).Error; err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to remove member", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "member removed"})
}

type transferRequest struct {
	NewOwnerUserID uint `json:"new_owner_user_id" binding:"required"`
}

// TransferOwnership hands the owner role to another member. The
// previous owner becomes an admin; both rows change in one
// transaction so the org always has exactly one owner.
func (h *Handler) TransferOwnership(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	currentOwnerID, _ := middleware.GetUserID(c)

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	if req.NewOwnerUserID == currentOwnerID {
		c.JSON(http.StatusBadRequest, fail("you already own this organization", "ALREADY_OWNER"))
		return
	}

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var target models.OrganizationMember
		if err := tx.Where("organization_id = ? AND user_id = ?", orgID, req.NewOwnerUserID).First(&target).Error; err != nil {
			return fmt.Errorf("target is not a member: %w", err)
		}
		if err := tx.Model(&models.OrganizationMember{}).
			Where("organization_id = ? AND user_id = ?", orgID, currentOwnerID).
			Update("role", models.RoleAdmin).Error; err != nil {
			return err
		}
		return tx.Model(&target).Update("role", models.RoleOwner).Error
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, fail("transfer failed: the target must be an existing member", "TRANSFER_FAILED"))
		return
	}

	logging.S().Infow("ownership transferred",
		"org_id", orgID, "from", currentOwnerID, "to", req.NewOwnerUserID)
	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "ownership transferred"})
}

// GetCredits returns the organization's credit balance.
func (h *Handler) GetCredits(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)

	balance, err := h.Ledger.Balance(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to load balance", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(balance))
}

// GetCreditHistory returns the credit transaction journal, newest first.
func (h *Handler) GetCreditHistory(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	page, limit, offset := pageParams(c)

	history, err := h.Ledger.History(c.Request.Context(), orgID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to load history", "DATABASE_ERROR"))
		return
	}

	var total int64
	h.DB.DB.Model(&models.CreditTransaction{}).Where("organization_id = ?", orgID).Count(&total)

	c.JSON(http.StatusOK, paginate(history, page, limit, total))
}

// GetUsage returns the current plan and usage against its limits.
// Answers from cache for a short window since the counting queries
// join several tables.
func (h *Handler) GetUsage(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	ctx := c.Request.Context()

	type usageReport struct {
		Plan  billing.Plan              `json:"plan"`
		Usage map[billing.LimitType]int `json:"usage"`
	}

	var report usageReport
	err := h.Cache.GetOrSetJSON(ctx, cache.UsageKey(orgID), 30*time.Second, &report, func() (interface{}, error) {
		plan, err := h.Billing.GetOrgPlan(ctx, orgID)
		if err != nil {
			return nil, err
		}
		usage, err := h.Billing.GetUsage(ctx, orgID)
		if err != nil {
			return nil, err
		}
		return usageReport{Plan: plan, Usage: usage}, nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, fail("failed to load usage", "DATABASE_ERROR"))
		return
	}

	c.JSON(http.StatusOK, ok(report))
}
