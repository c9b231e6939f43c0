// Package handlers implements the REST API.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/agents"
	"github.com/bxt-team/sevencycles/internal/analytics"
	"github.com/bxt-team/sevencycles/internal/auth"
	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/cache"
	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/internal/instagram"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/internal/payments"
	"github.com/bxt-team/sevencycles/internal/worker"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// Handler carries the service dependencies for all API handlers.
type Handler struct {
	DB        *db.Database
	Auth      *auth.AuthService
	Agents    *agents.Service
	Runner    *agents.Runner
	Scheduler *agents.Scheduler
	Queue     worker.Queue
	Ledger    *ledger.Ledger
	Billing   *billing.Service
	Stripe    *payments.StripeService
	Instagram *instagram.Client
	Publisher *instagram.Publisher
	Analytics *analytics.Fetcher
	Cache     *cache.Cache
}

// NewHandler creates a handler instance.
func NewHandler(database *db.Database, authSvc *auth.AuthService, agentSvc *agents.Service,
	runner *agents.Runner, scheduler *agents.Scheduler, queue worker.Queue,
	l *ledger.Ledger, billingSvc *billing.Service, stripeSvc *payments.StripeService,
	igClient *instagram.Client, publisher *instagram.Publisher,
	fetcher *analytics.Fetcher, c *cache.Cache) *Handler {
	return &Handler{
		DB:        database,
		Auth:      authSvc,
		Agents:    agentSvc,
		Runner:    runner,
		Scheduler: scheduler,
		Queue:     queue,
		Ledger:    l,
		Billing:   billingSvc,
		Stripe:    stripeSvc,
		Instagram: igClient,
		Publisher: publisher,
		Analytics: fetcher,
		Cache:     c,
	}
}

// StandardResponse is the envelope for non-paginated responses.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PaginatedResponse wraps list responses with pagination metadata.
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata.
type PaginationInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func ok(data interface{}) StandardResponse {
	return StandardResponse{Success: true, Data: data}
}

func fail(err, code string) StandardResponse {
	return StandardResponse{Success: false, Error: err, Code: code}
}

// pageParams reads ?page and ?limit with sane bounds.
func pageParams(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}

func paginate(data interface{}, page, limit int, total int64) PaginatedResponse {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return PaginatedResponse{
		StandardResponse: StandardResponse{Success: true, Data: data},
		Pagination: &PaginationInfo{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: pages,
		},
	}
}

// RegisterRoutes mounts the full API surface on the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	// Public billing surface: pricing page and the Stripe webhook.
	v1.GET("/billing/plans", h.GetPlans)
	v1.POST("/billing/webhook", h.StripeWebhook)

	authed := v1.Group("")
	authed.Use(middleware.RequireAuth(h.Auth))
	{
		authed.GET("/me", h.Me)
		authed.GET("/organizations", h.ListOrganizations)
		authed.POST("/organizations", h.CreateOrganization)
	}

	gdb := h.DB.DB

	viewer := v1.Group("/organizations/:orgID")
	viewer.Use(middleware.RequireAuth(h.Auth), middleware.RequireOrgRole(gdb, models.RoleViewer))
	{
		viewer.GET("", h.GetOrganization)
		viewer.GET("/members", h.ListMembers)
		viewer.GET("/credits", h.GetCredits)
		viewer.GET("/credits/history", h.GetCreditHistory)
		viewer.GET("/usage", h.GetUsage)

		viewer.GET("/projects", h.ListProjects)
		viewer.GET("/projects/:projectID", h.GetProject)
		viewer.GET("/projects/:projectID/ideas", h.ListIdeas)
		viewer.GET("/projects/:projectID/artifacts", h.ListArtifacts)
		viewer.GET("/projects/:projectID/artifacts/:artifactID", h.GetArtifact)
		viewer.GET("/projects/:projectID/workflows", h.ListWorkflowRuns)
		viewer.GET("/projects/:projectID/workflows/:runID", h.GetWorkflowRun)
		viewer.GET("/projects/:projectID/posts", h.ListScheduledPosts)
		viewer.GET("/projects/:projectID/instagram", h.GetInstagramAccount)
		viewer.GET("/projects/:projectID/analytics/aso", h.GetAsoAnalytics)
	}

	member := v1.Group("/organizations/:orgID")
	member.Use(middleware.RequireAuth(h.Auth), middleware.RequireOrgRole(gdb, models.RoleMember))
	{
		member.POST("/projects", h.CreateProject)
		member.PUT("/projects/:projectID", h.UpdateProject)
		member.POST("/projects/:projectID/archive", h.ArchiveProject)

		member.POST("/projects/:projectID/ideas", h.CreateIdea)
		member.PUT("/projects/:projectID/ideas/:ideaID/status", h.UpdateIdeaStatus)
		member.POST("/projects/:projectID/ideas/:ideaID/refine", h.RefineIdea)

		member.POST("/projects/:projectID/generate", h.GenerateContent)

		member.POST("/projects/:projectID/workflows", h.StartWorkflow)
		member.POST("/projects/:projectID/workflows/:runID/cancel", h.CancelWorkflowRun)

		member.POST("/projects/:projectID/schedule", h.SchedulePost)
		member.DELETE("/projects/:projectID/posts/:postID", h.CancelScheduledPost)

		member.POST("/projects/:projectID/instagram/connect", h.ConnectInstagram)
		member.POST("/projects/:projectID/instagram/publish/:artifactID", h.PublishArtifact)
	}

	admin := v1.Group("/organizations/:orgID")
	admin.Use(middleware.RequireAuth(h.Auth), middleware.RequireOrgRole(gdb, models.RoleAdmin))
	{
		admin.PUT("", h.UpdateOrganization)
		admin.POST("/members", h.AddMember)
		admin.PUT("/members/:memberID", h.UpdateMemberRole)
		admin.DELETE("/members/:memberID", h.RemoveMember)
		admin.DELETE("/projects/:projectID", h.DeleteProject)

		admin.POST("/billing/checkout", h.CreateSubscriptionCheckout)
		admin.POST("/billing/credits/checkout", h.CreateCreditPackCheckout)
		admin.POST("/billing/portal", h.CreateBillingPortal)
	}

	owner := v1.Group("/organizations/:orgID")
	owner.Use(middleware.RequireAuth(h.Auth), middleware.RequireOrgRole(gdb, models.RoleOwner))
	{
		owner.POST("/transfer-ownership", h.TransferOwnership)
		owner.DELETE("/billing/subscription", h.CancelSubscription)
	}
}

// projectInOrg loads :projectID and verifies it belongs to the org in
// context. Responds 404 and returns nil on any mismatch so handlers
// can bail with a bare return.
func (h *Handler) projectInOrg(c *gin.Context) *models.Project {
	orgID, _ := middleware.GetOrgID(c)

	projectID, err := strconv.ParseUint(c.Param("projectID"), 10, 32)
	if err != nil {
		c.JSON(http.StatusNotFound, fail("project not found", "PROJECT_NOT_FOUND"))
		return nil
	}

	var project models.Project
	if err := h.DB.DB.First(&project, "id = ? AND organization_id = ?", projectID, orgID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, fail("project not found", "PROJECT_NOT_FOUND"))
		} else {
			c.JSON(http.StatusInternalServerError, fail("database error", "DATABASE_ERROR"))
		}
		return nil
	}
	return &project
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
