package payments

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/pkg/models"
)

func newTestStripe(t *testing.T) (*StripeService, *ledger.Ledger, *db.Database) {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	l := ledger.New(database.DB)
	// Empty webhook secret puts HandleWebhook into unverified dev mode.
	svc := NewStripeService(database.DB, l, "", "")
	return svc, l, database
}

func seedOrg(t *testing.T, database *db.Database, customerID string) *models.Organization {
	t.Helper()
	org := &models.Organization{
		Name:             "Seven Cycles GmbH",
		Slug:             fmt.Sprintf("seven-cycles-%s", customerID),
		StripeCustomerID: customerID,
	}
	require.NoError(t, database.DB.Create(org).Error)
	return org
}

func subscriptionEvent(eventType, subID, customerID, priceID, status string, orgID uint) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s_%s",
		"type": "%s",
		"data": {"object": {
			"id": "%s",
			"customer": {"id": "%s"},
			"status": "%s",
			"current_period_start": 1756512000,
			"current_period_end": 1759104000,
			"items": {"data": [{"price": {"id": "%s"}}]},
			"metadata": {"organization_id": "%d"}
		}}
	}`, subID, status, eventType, subID, customerID, status, priceID, orgID))
}

func TestWebhookSubscriptionCreated(t *testing.T) {
	svc, _, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	payload := subscriptionEvent("customer.subscription.created", "sub_1", "cus_123", "price_pro_monthly", "active", org.ID)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	var sub models.Subscription
	require.NoError(t, database.DB.Where("organization_id = ?", org.ID).First(&sub).Error)
	assert.Equal(t, "pro", sub.Plan)
	assert.Equal(t, models.SubStatusActive, sub.Status)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)

	var refreshed models.Organization
	require.NoError(t, database.DB.First(&refreshed, org.ID).Error)
	assert.Equal(t, "pro", refreshed.Plan)
}

func TestWebhookSubscriptionUpdateUpserts(t *testing.T) {
	svc, _, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	created := subscriptionEvent("customer.subscription.created", "sub_1", "cus_123", "price_starter_monthly", "active", org.ID)
	require.NoError(t, svc.HandleWebhook(context.Background(), created, ""))

	updated := subscriptionEvent("customer.subscription.updated", "sub_1", "cus_123", "price_pro_monthly", "active", org.ID)
	require.NoError(t, svc.HandleWebhook(context.Background(), updated, ""))

	var count int64
	require.NoError(t, database.DB.Model(&models.Subscription{}).Where("organization_id = ?", org.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count, "updates must not create a second row")

	var sub models.Subscription
	require.NoError(t, database.DB.Where("organization_id = ?", org.ID).First(&sub).Error)
	assert.Equal(t, "pro", sub.Plan)
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	svc, _, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	created := subscriptionEvent("customer.subscription.created", "sub_1", "cus_123", "price_pro_monthly", "active", org.ID)
	require.NoError(t, svc.HandleWebhook(context.Background(), created, ""))

	deleted := []byte(`{
		"id": "evt_del_1",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_1", "customer": {"id": "cus_123"}}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), deleted, ""))

	var sub models.Subscription
	require.NoError(t, database.DB.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, models.SubStatusCanceled, sub.Status)
	assert.NotNil(t, sub.CanceledAt)

	var refreshed models.Organization
	require.NoError(t, database.DB.First(&refreshed, org.ID).Error)
	assert.Equal(t, "free", refreshed.Plan)
}

func invoicePaidEvent(eventID, invoiceID, customerID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "%s",
		"type": "invoice.paid",
		"data": {"object": {
			"id": "%s",
			"customer": {"id": "%s"},
			"amount_paid": %d,
			"currency": "eur",
			"hosted_invoice_url": "https://invoice.stripe.com/i/test"
		}}
	}`, eventID, invoiceID, customerID, amount))
}

func TestWebhookInvoicePaidGrantsCredits(t *testing.T) {
	svc, l, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	sub := &models.Subscription{
		OrganizationID:   org.ID,
		StripeCustomerID: "cus_123",
		Plan:             "pro",
		Status:           models.SubStatusActive,
	}
	require.NoError(t, database.DB.Create(sub).Error)

	payload := invoicePaidEvent("evt_inv_1", "in_1", "cus_123", 7900)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	balance, err := l.Balance(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance.Available, "pro plan grants 5000 credits")

	var invoice models.Invoice
	require.NoError(t, database.DB.Where("stripe_invoice_id = ?", "in_1").First(&invoice).Error)
	assert.Equal(t, "paid", invoice.Status)
	assert.Equal(t, int64(7900), invoice.AmountCents)
}

func TestWebhookInvoicePaidReplayIsIdempotent(t *testing.T) {
	svc, l, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	sub := &models.Subscription{
		OrganizationID:   org.ID,
		StripeCustomerID: "cus_123",
		Plan:             "starter",
		Status:           models.SubStatusActive,
	}
	require.NoError(t, database.DB.Create(sub).Error)

	payload := invoicePaidEvent("evt_inv_1", "in_1", "cus_123", 2900)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	balance, err := l.Balance(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance.Available, "replayed event must not grant twice")
}

func TestWebhookInvoicePaymentFailed(t *testing.T) {
	svc, _, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	sub := &models.Subscription{
		OrganizationID:   org.ID,
		StripeCustomerID: "cus_123",
		Plan:             "pro",
		Status:           models.SubStatusActive,
	}
	require.NoError(t, database.DB.Create(sub).Error)

	payload := []byte(`{
		"id": "evt_fail_1",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_2",
			"customer": {"id": "cus_123"},
			"amount_due": 7900,
			"currency": "eur"
		}}
	}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	var refreshed models.Subscription
	require.NoError(t, database.DB.First(&refreshed, sub.ID).Error)
	assert.Equal(t, models.SubStatusPastDue, refreshed.Status)
}

func TestWebhookCheckoutCompletedGrantsPack(t *testing.T) {
	svc, l, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_pack_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"mode": "payment",
			"customer": {"id": "cus_123"},
			"metadata": {"organization_id": "%d", "credit_pack": "pack_medium", "credits": "2000"}
		}}
	}`, org.ID))
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	balance, err := l.Balance(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance.Available)
}

func TestWebhookCheckoutSubscriptionModeIgnored(t *testing.T) {
	svc, l, database := newTestStripe(t)
	org := seedOrg(t, database, "cus_123")

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_sub_checkout",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_2",
			"mode": "subscription",
			"customer": {"id": "cus_123"},
			"metadata": {"organization_id": "%d"}
		}}
	}`, org.ID))
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))

	balance, err := l.Balance(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Zero(t, balance.Available, "subscription checkouts grant nothing directly")
}

func TestWebhookUnknownEventIsAcknowledged(t *testing.T) {
	svc, _, _ := newTestStripe(t)

	payload := []byte(`{"id": "evt_x", "type": "charge.refunded", "data": {"object": {}}}`)
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, ""))
}

func TestIsConfigured(t *testing.T) {
	svc, _, _ := newTestStripe(t)
	assert.False(t, svc.IsConfigured())
}
