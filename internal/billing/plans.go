package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/pkg/models"
)

// PlanType represents different subscription tiers
type PlanType string

const (
	PlanFree    PlanType = "free"
	PlanStarter PlanType = "starter" // €29/month
	PlanPro     PlanType = "pro"     // €79/month
	PlanAgency  PlanType = "agency"  // €199/month
)

// LimitType represents different plan limits
type LimitType string

const (
	LimitProjects        LimitType = "projects"
	LimitMembers         LimitType = "members"
	LimitWorkflowRuns    LimitType = "workflow_runs_month"
	LimitScheduledPosts  LimitType = "scheduled_posts"
	LimitVideoGeneration LimitType = "video_generation"
)

// Plan represents a subscription plan
type Plan struct {
	Type          PlanType          `json:"type"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	MonthlyPrice  int64             `json:"monthly_price"` // in cents
	AnnualPrice   int64             `json:"annual_price"`  // in cents
	MonthlyGrant  int64             `json:"monthly_grant"` // credits granted per billing cycle
	StripePriceID string            `json:"stripe_price_id"`
	Limits        map[LimitType]int `json:"limits"`
	Features      []string          `json:"features"`
	PopularPlan   bool              `json:"popular_plan"`
}

// CreditPack is a one-time credit purchase.
type CreditPack struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Credits       int64  `json:"credits"`
	Price         int64  `json:"price"` // in cents
	StripePriceID string `json:"stripe_price_id"`
}

// GetPlans returns all available subscription plans
func GetPlans() []Plan {
	return []Plan{
		{
			Type:         PlanFree,
			Name:         "Free",
			Description:  "Try the 7 Cycles content engine",
			MonthlyPrice: 0,
			AnnualPrice:  0,
			MonthlyGrant: 100,
			Limits: map[LimitType]int{
				LimitProjects:        1,
				LimitMembers:         1,
				LimitWorkflowRuns:    10,
				LimitScheduledPosts:  5,
				LimitVideoGeneration: 0,
			},
			Features: []string{
				"1 Project",
				"100 Credits/month",
				"Affirmations & Instagram posts",
				"Community Support",
			},
		},
		{
			Type:          PlanStarter,
			Name:          "Starter",
			Description:   "For solo creators building a presence",
			MonthlyPrice:  2900,  // €29.00
			AnnualPrice:   29000, // €290.00 (2 months free)
			MonthlyGrant:  1500,
			StripePriceID: "price_starter_monthly", // Set in Stripe
			Limits: map[LimitType]int{
				LimitProjects:        3,
				LimitMembers:         3,
				LimitWorkflowRuns:    100,
				LimitScheduledPosts:  60,
				LimitVideoGeneration: 5,
			},
			Features: []string{
				"3 Projects",
				"3 Team Members",
				"1,500 Credits/month",
				"Visual post generation",
				"Instagram scheduling",
				"Email Support",
			},
		},
		{
			Type:          PlanPro,
			Name:          "Pro",
			Description:   "For brands running full content cycles",
			MonthlyPrice:  7900,  // €79.00
			AnnualPrice:   79000, // €790.00 (2 months free)
			MonthlyGrant:  5000,
			StripePriceID: "price_pro_monthly",
			PopularPlan:   true,
			Limits: map[LimitType]int{
				LimitProjects:        10,
				LimitMembers:         10,
				LimitWorkflowRuns:    500,
				LimitScheduledPosts:  -1, // Unlimited
				LimitVideoGeneration: 30,
			},
			Features: []string{
				"10 Projects",
				"10 Team Members",
				"5,000 Credits/month",
				"Video generation",
				"ASO review analytics",
				"Full cycle workflows",
				"Priority Support",
			},
		},
		{
			Type:          PlanAgency,
			Name:          "Agency",
			Description:   "For agencies managing client brands",
			MonthlyPrice:  19900,  // €199.00
			AnnualPrice:   199000, // €1,990.00 (2 months free)
			MonthlyGrant:  15000,
			StripePriceID: "price_agency_monthly",
			Limits: map[LimitType]int{
				LimitProjects:        -1, // Unlimited
				LimitMembers:         -1, // Unlimited
				LimitWorkflowRuns:    -1,
				LimitScheduledPosts:  -1,
				LimitVideoGeneration: 150,
			},
			Features: []string{
				"Unlimited Projects",
				"Unlimited Team Members",
				"15,000 Credits/month",
				"All content types",
				"Dedicated Account Manager",
				"SLA Guarantees",
			},
		},
	}
}

// GetCreditPacks returns the one-time credit top-up packs.
func GetCreditPacks() []CreditPack {
	return []CreditPack{
		{ID: "pack_small", Name: "Small Pack", Credits: 500, Price: 900, StripePriceID: "price_pack_small"},
		{ID: "pack_medium", Name: "Medium Pack", Credits: 2000, Price: 2900, StripePriceID: "price_pack_medium"},
		{ID: "pack_large", Name: "Large Pack", Credits: 10000, Price: 11900, StripePriceID: "price_pack_large"},
	}
}

// GetPlan looks up a plan by type.
func GetPlan(planType PlanType) (Plan, error) {
	for _, p := range GetPlans() {
		if p.Type == planType {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("plan not found: %s", planType)
}

// PlanByStripePrice maps a Stripe price ID back to its plan. Used by
// webhook handling to resolve what was purchased.
func PlanByStripePrice(priceID string) (Plan, bool) {
	for _, p := range GetPlans() {
		if p.StripePriceID == priceID && priceID != "" {
			return p, true
		}
	}
	return Plan{}, false
}

// PackByStripePrice maps a Stripe price ID back to its credit pack.
func PackByStripePrice(priceID string) (CreditPack, bool) {
	for _, p := range GetCreditPacks() {
		if p.StripePriceID == priceID && priceID != "" {
			return p, true
		}
	}
	return CreditPack{}, false
}

// Service answers plan limit questions against live data.
type Service struct {
	db *gorm.DB
}

// NewService creates a billing service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetOrgPlan returns the organization's current plan, free when no
// active subscription exists.
func (s *Service) GetOrgPlan(ctx context.Context, orgID uint) (Plan, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil || !sub.IsActive() {
		return GetPlan(PlanFree)
	}
	return GetPlan(PlanType(sub.Plan))
}

// GetUsage calculates the organization's current usage.
func (s *Service) GetUsage(ctx context.Context, orgID uint) (map[LimitType]int, error) {
	usage := make(map[LimitType]int)
	monthStart := monthStart(time.Now())

	var projects int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).
		Where("organization_id = ? AND is_archived = ?", orgID, false).
		Count(&projects).Error; err == nil {
		usage[LimitProjects] = int(projects)
	}

	var members int64
	if err := s.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Where("organization_id = ?", orgID).
		Count(&members).Error; err == nil {
		usage[LimitMembers] = int(members)
	}

	var runs int64
	if err := s.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("organization_id = ? AND created_at >= ?", orgID, monthStart).
		Count(&runs).Error; err == nil {
		usage[LimitWorkflowRuns] = int(runs)
	}

	var posts int64
	if err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Joins("JOIN projects ON projects.id = scheduled_posts.project_id").
		Where("projects.organization_id = ? AND scheduled_posts.status = ?", orgID, models.PostStatusScheduled).
		Count(&posts).Error; err == nil {
		usage[LimitScheduledPosts] = int(posts)
	}

	var videos int64
	if err := s.db.WithContext(ctx).Model(&models.ContentArtifact{}).
		Joins("JOIN projects ON projects.id = content_artifacts.project_id").
		Where("projects.organization_id = ? AND content_artifacts.type = ? AND content_artifacts.created_at >= ?",
			orgID, models.ArtifactVideo, monthStart).
		Count(&videos).Error; err == nil {
		usage[LimitVideoGeneration] = int(videos)
	}

	return usage, nil
}

// CheckLimit reports whether the organization has reached a plan
// limit. -1 limits are unlimited.
func (s *Service) CheckLimit(ctx context.Context, orgID uint, limit LimitType) (bool, error) {
	plan, err := s.GetOrgPlan(ctx, orgID)
	if err != nil {
		return true, err
	}

	max, exists := plan.Limits[limit]
	if !exists || max == -1 {
		return false, nil
	}

	usage, err := s.GetUsage(ctx, orgID)
	if err != nil {
		return true, err // Err on the side of caution
	}
	return usage[limit] >= max, nil
}

// GetPricing returns pricing information for the frontend.
func (s *Service) GetPricing() map[string]interface{} {
	return map[string]interface{}{
		"plans":         GetPlans(),
		"credit_packs":  GetCreditPacks(),
		"currency":      "eur",
		"tax_inclusive": false,
		"trial_days":    14,
	}
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
