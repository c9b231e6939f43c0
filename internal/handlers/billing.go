package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/middleware"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// GetPlans returns the public plan and credit pack catalog.
func (h *Handler) GetPlans(c *gin.Context) {
	c.JSON(http.StatusOK, ok(h.Billing.GetPricing()))
}

type checkoutRequest struct {
	PriceID    string `json:"price_id" binding:"required"`
	SuccessURL string `json:"success_url" binding:"required,url"`
	CancelURL  string `json:"cancel_url" binding:"required,url"`
}

func (h *Handler) requireStripe(c *gin.Context) bool {
	if h.Stripe == nil || !h.Stripe.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, fail("billing is not configured", "BILLING_UNAVAILABLE"))
		return false
	}
	return true
}

func (h *Handler) orgFromContext(c *gin.Context) *models.Organization {
	orgID, _ := middleware.GetOrgID(c)
	var org models.Organization
	if err := h.DB.DB.First(&org, orgID).Error; err != nil {
		c.JSON(http.StatusNotFound, fail("organization not found", "ORG_NOT_FOUND"))
		return nil
	}
	return &org
}

func userEmail(c *gin.Context) string {
	if email, exists := c.Get("email"); exists {
		if s, isString := email.(string); isString {
			return s
		}
	}
	return ""
}

// CreateSubscriptionCheckout starts a Stripe checkout for a plan.
func (h *Handler) CreateSubscriptionCheckout(c *gin.Context) {
	if !h.requireStripe(c) {
		return
	}
	org := h.orgFromContext(c)
	if org == nil {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	result, err := h.Stripe.CreateSubscriptionCheckout(c.Request.Context(), org, userEmail(c), req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "CHECKOUT_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(result))
}

// CreateCreditPackCheckout starts a one-time checkout for a credit pack.
func (h *Handler) CreateCreditPackCheckout(c *gin.Context) {
	if !h.requireStripe(c) {
		return
	}
	org := h.orgFromContext(c)
	if org == nil {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	result, err := h.Stripe.CreateCreditPackCheckout(c.Request.Context(), org, userEmail(c), req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "CHECKOUT_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(result))
}

type portalRequest struct {
	ReturnURL string `json:"return_url" binding:"required,url"`
}

// CreateBillingPortal opens the Stripe customer portal.
func (h *Handler) CreateBillingPortal(c *gin.Context) {
	if !h.requireStripe(c) {
		return
	}
	org := h.orgFromContext(c)
	if org == nil {
		return
	}

	var req portalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, fail("invalid request format", "INVALID_REQUEST"))
		return
	}

	result, err := h.Stripe.CreateBillingPortalSession(c.Request.Context(), org, req.ReturnURL)
	if err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "PORTAL_FAILED"))
		return
	}

	c.JSON(http.StatusOK, ok(result))
}

// CancelSubscription cancels the subscription at period end.
func (h *Handler) CancelSubscription(c *gin.Context) {
	if !h.requireStripe(c) {
		return
	}
	orgID, _ := middleware.GetOrgID(c)

	if err := h.Stripe.CancelSubscription(c.Request.Context(), orgID); err != nil {
		c.JSON(http.StatusBadRequest, fail(err.Error(), "CANCEL_FAILED"))
		return
	}

	c.JSON(http.StatusOK, StandardResponse{Success: true, Message: "subscription will cancel at period end"})
}

// StripeWebhook ingests Stripe events. Unauthenticated; the payload
// signature is verified inside HandleWebhook.
func (h *Handler) StripeWebhook(c *gin.Context) {
	if h.Stripe == nil {
		c.JSON(http.StatusServiceUnavailable, fail("billing is not configured", "BILLING_UNAVAILABLE"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, fail("failed to read payload", "INVALID_PAYLOAD"))
		return
	}

	if err := h.Stripe.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		logging.S().Warnw("webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, fail("webhook processing failed", "WEBHOOK_FAILED"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
