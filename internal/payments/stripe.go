package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/billing"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// Common errors
var (
	ErrNotConfigured    = errors.New("stripe is not configured")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvalidWebhook   = errors.New("invalid webhook signature")
	ErrInvalidPriceID   = errors.New("invalid price ID")
)

// StripeService handles checkout, the billing portal and webhook
// consequences. Credit grants flow through the ledger so a replayed
// webhook can never grant twice.
type StripeService struct {
	db            *gorm.DB
	ledger        *ledger.Ledger
	secretKey     string
	webhookSecret string
}

// CheckoutSessionResult is returned to the frontend for redirect.
type CheckoutSessionResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalSessionResult is returned to the frontend for redirect.
type PortalSessionResult struct {
	URL string `json:"url"`
}

// NewStripeService creates a Stripe service. The key is set globally,
// the stripe-go client is package-level.
func NewStripeService(db *gorm.DB, l *ledger.Ledger, secretKey, webhookSecret string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		db:            db,
		ledger:        l,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
	}
}

// IsConfigured returns true if Stripe is properly configured
func (s *StripeService) IsConfigured() bool {
	return s.secretKey != "" && s.secretKey != "sk_test_xxx"
}

// EnsureCustomer returns the org's Stripe customer, creating one on
// first use and persisting the ID.
func (s *StripeService) EnsureCustomer(ctx context.Context, org *models.Organization, email string) (string, error) {
	if !s.IsConfigured() {
		return "", ErrNotConfigured
	}
	if org.StripeCustomerID != "" {
		return org.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(org.Name),
		Metadata: map[string]string{
			"organization_id": fmt.Sprint(org.ID),
		},
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	org.StripeCustomerID = c.ID
	if err := s.db.WithContext(ctx).Model(org).Update("stripe_customer_id", c.ID).Error; err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateSubscriptionCheckout starts a checkout session for a plan.
func (s *StripeService) CreateSubscriptionCheckout(ctx context.Context, org *models.Organization, email, priceID, successURL, cancelURL string) (*CheckoutSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	plan, ok := billing.PlanByStripePrice(priceID)
	if !ok {
		return nil, ErrInvalidPriceID
	}

	customerID, err := s.EnsureCustomer(ctx, org, email)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"organization_id": fmt.Sprint(org.ID),
				"plan":            string(plan.Type),
			},
		},
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String("auto"),
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSessionResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreateCreditPackCheckout starts a one-time payment session for a
// credit pack.
func (s *StripeService) CreateCreditPackCheckout(ctx context.Context, org *models.Organization, email, priceID, successURL, cancelURL string) (*CheckoutSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	pack, ok := billing.PackByStripePrice(priceID)
	if !ok {
		return nil, ErrInvalidPriceID
	}

	customerID, err := s.EnsureCustomer(ctx, org, email)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		Metadata: map[string]string{
			"organization_id": fmt.Sprint(org.ID),
			"credit_pack":     pack.ID,
			"credits":         fmt.Sprint(pack.Credits),
		},
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSessionResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session
func (s *StripeService) CreateBillingPortalSession(ctx context.Context, org *models.Organization, returnURL string) (*PortalSessionResult, error) {
	if !s.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if org.StripeCustomerID == "" {
		return nil, ErrCustomerNotFound
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(org.StripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing portal session: %w", err)
	}
	return &PortalSessionResult{URL: sess.URL}, nil
}

// CancelSubscription cancels the org's subscription at period end.
func (s *StripeService) CancelSubscription(ctx context.Context, orgID uint) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	var sub models.Subscription
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&sub).Error; err != nil {
		return fmt.Errorf("no subscription for organization %d: %w", orgID, err)
	}
	if sub.StripeSubscriptionID == "" {
		return errors.New("subscription has no stripe id")
	}

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	if _, err := subscription.Update(sub.StripeSubscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	return s.db.WithContext(ctx).Model(&sub).Update("cancel_at_period_end", true).Error
}

// HandleWebhook verifies and applies a Stripe webhook event.
// Credit-granting events carry the Stripe event ID as the ledger
// idempotency key, so delivery retries are safe.
func (s *StripeService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	var event stripe.Event
	var err error

	if s.webhookSecret != "" {
		event, err = webhook.ConstructEvent(payload, signature, s.webhookSecret)
		if err != nil {
			logging.S().Warnw("webhook signature verification failed", "error", err)
			return ErrInvalidWebhook
		}
	} else {
		// Development mode without a webhook secret.
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("failed to parse webhook: %w", err)
		}
	}

	logging.S().Infow("processing stripe webhook", "type", event.Type, "event_id", event.ID)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to parse subscription: %w", err)
		}
		return s.applySubscription(ctx, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("failed to parse subscription: %w", err)
		}
		return s.deleteSubscription(ctx, &sub)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to parse invoice: %w", err)
		}
		return s.applyPaidInvoice(ctx, event.ID, &inv)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("failed to parse invoice: %w", err)
		}
		return s.applyFailedInvoice(ctx, &inv)

	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return fmt.Errorf("failed to parse checkout session: %w", err)
		}
		return s.applyCheckoutCompleted(ctx, event.ID, &sess)
	}

	// Unhandled event types are acknowledged, not errors.
	return nil
}

// applySubscription upserts the local subscription row and keeps the
// org's plan field in sync.
func (s *StripeService) applySubscription(ctx context.Context, sub *stripe.Subscription) error {
	orgID, err := s.resolveOrg(ctx, sub.Metadata, customerIDOf(sub.Customer))
	if err != nil {
		return err
	}

	planType := billing.PlanFree
	if len(sub.Items.Data) > 0 {
		if plan, ok := billing.PlanByStripePrice(sub.Items.Data[0].Price.ID); ok {
			planType = plan.Type
		}
	}

	record := models.Subscription{
		OrganizationID:       orgID,
		StripeCustomerID:     customerIDOf(sub.Customer),
		StripeSubscriptionID: sub.ID,
		Plan:                 string(planType),
		Status:               mapStripeStatus(sub.Status),
		CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	var existing models.Subscription
	err = s.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		record.ID = existing.ID
		if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", orgID).
		Update("plan", string(planType)).Error
}

func (s *StripeService) deleteSubscription(ctx context.Context, sub *stripe.Subscription) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":      models.SubStatusCanceled,
			"canceled_at": &now,
		}).Error
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("stripe_customer_id = ?", customerIDOf(sub.Customer)).
		Update("plan", string(billing.PlanFree)).Error
}

// applyPaidInvoice records the invoice and grants the plan's monthly
// credits through the ledger.
func (s *StripeService) applyPaidInvoice(ctx context.Context, eventID string, inv *stripe.Invoice) error {
	orgID, err := s.resolveOrg(ctx, nil, customerIDOf(inv.Customer))
	if err != nil {
		return err
	}

	now := time.Now()
	record := models.Invoice{
		OrganizationID:  orgID,
		StripeInvoiceID: inv.ID,
		AmountCents:     inv.AmountPaid,
		Currency:        string(inv.Currency),
		Status:          "paid",
		HostedURL:       inv.HostedInvoiceURL,
		PDFURL:          inv.InvoicePDF,
		PaidAt:          &now,
	}
	if err := s.db.WithContext(ctx).
		Where(models.Invoice{StripeInvoiceID: inv.ID}).
		Assign(record).
		FirstOrCreate(&models.Invoice{}).Error; err != nil {
		return err
	}

	plan, err := s.orgPlan(ctx, orgID)
	if err != nil {
		return err
	}
	if plan.MonthlyGrant <= 0 {
		return nil
	}

	_, err = s.ledger.Grant(ctx, ledger.Entry{
		OrganizationID: orgID,
		Amount:         plan.MonthlyGrant,
		IdempotencyKey: "stripe:" + eventID,
		Reference:      inv.ID,
		Description:    fmt.Sprintf("%s plan monthly credits", plan.Name),
	})
	if err != nil {
		return fmt.Errorf("failed to grant plan credits: %w", err)
	}

	logging.Org(orgID).Infow("granted plan credits",
		"plan", plan.Type, "credits", plan.MonthlyGrant)
	return nil
}

func (s *StripeService) applyFailedInvoice(ctx context.Context, inv *stripe.Invoice) error {
	orgID, err := s.resolveOrg(ctx, nil, customerIDOf(inv.Customer))
	if err != nil {
		return err
	}

	record := models.Invoice{
		OrganizationID:  orgID,
		StripeInvoiceID: inv.ID,
		AmountCents:     inv.AmountDue,
		Currency:        string(inv.Currency),
		Status:          "payment_failed",
		HostedURL:       inv.HostedInvoiceURL,
	}
	if err := s.db.WithContext(ctx).
		Where(models.Invoice{StripeInvoiceID: inv.ID}).
		Assign(record).
		FirstOrCreate(&models.Invoice{}).Error; err != nil {
		return err
	}

	return s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("organization_id = ?", orgID).
		Update("status", models.SubStatusPastDue).Error
}

// applyCheckoutCompleted grants credit packs. Subscription checkouts
// are handled by the subscription events instead.
func (s *StripeService) applyCheckoutCompleted(ctx context.Context, eventID string, sess *stripe.CheckoutSession) error {
	if sess.Mode != stripe.CheckoutSessionModePayment {
		return nil
	}

	packID := sess.Metadata["credit_pack"]
	if packID == "" {
		return nil
	}

	orgID, err := s.resolveOrg(ctx, sess.Metadata, customerIDOf(sess.Customer))
	if err != nil {
		return err
	}

	var pack billing.CreditPack
	found := false
	for _, p := range billing.GetCreditPacks() {
		if p.ID == packID {
			pack = p
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown credit pack: %s", packID)
	}

	_, err = s.ledger.Grant(ctx, ledger.Entry{
		OrganizationID: orgID,
		Amount:         pack.Credits,
		IdempotencyKey: "stripe:" + eventID,
		Reference:      sess.ID,
		Description:    pack.Name + " purchase",
	})
	if err != nil {
		return fmt.Errorf("failed to grant pack credits: %w", err)
	}

	logging.Org(orgID).Infow("granted credit pack",
		"pack", pack.ID, "credits", pack.Credits)
	return nil
}

// resolveOrg finds the organization a Stripe object belongs to, first
// by metadata then by stored customer ID.
func (s *StripeService) resolveOrg(ctx context.Context, metadata map[string]string, customerID string) (uint, error) {
	if metadata != nil {
		if raw := metadata["organization_id"]; raw != "" {
			var id uint
			if _, err := fmt.Sscanf(raw, "%d", &id); err == nil && id > 0 {
				return id, nil
			}
		}
	}

	if customerID != "" {
		var org models.Organization
		if err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&org).Error; err == nil {
			return org.ID, nil
		}
	}

	return 0, fmt.Errorf("cannot resolve organization for customer %q", customerID)
}

func (s *StripeService) orgPlan(ctx context.Context, orgID uint) (billing.Plan, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).First(&sub).Error
	if err != nil {
		return billing.GetPlan(billing.PlanFree)
	}
	return billing.GetPlan(billing.PlanType(sub.Plan))
}

func customerIDOf(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func mapStripeStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.SubStatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.SubStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubStatusCanceled
	default:
		return string(status)
	}
}
