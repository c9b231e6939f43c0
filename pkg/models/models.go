// Package models defines the database models for 7 Cycles
// Multi-tenant marketing automation: organizations own projects,
// projects own ideas, generated content artifacts, and schedules.
package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a platform user account
type User struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Email        string         `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string         `json:"-" gorm:"not null"`
	Name         string         `json:"name"`
	AvatarURL    string         `json:"avatar_url"`
	IsActive     bool           `json:"is_active" gorm:"default:true"`
	LastLoginAt  *time.Time     `json:"last_login_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`

	Memberships []OrganizationMember `json:"memberships,omitempty" gorm:"foreignKey:UserID"`
}

// Organization is the tenant boundary. Credits, subscriptions and
// projects all hang off an organization, never off a user.
type Organization struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Name             string         `json:"name" gorm:"not null"`
	Slug             string         `json:"slug" gorm:"uniqueIndex;not null"`
	Description      string         `json:"description"`
	Plan             string         `json:"plan" gorm:"default:'free'"`
	StripeCustomerID string         `json:"stripe_customer_id" gorm:"index"`
	Settings         string         `json:"settings"` // JSON blob of org preferences
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	Members  []OrganizationMember `json:"members,omitempty" gorm:"foreignKey:OrganizationID"`
	Projects []Project            `json:"projects,omitempty" gorm:"foreignKey:OrganizationID"`
}

// Organization member roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// OrganizationMember links a user to an organization with a role.
// Exactly one member per organization holds the owner role.
type OrganizationMember struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"uniqueIndex:idx_org_user;not null"`
	UserID         uint      `json:"user_id" gorm:"uniqueIndex:idx_org_user;not null"`
	Role           string    `json:"role" gorm:"default:'member'"`
	InvitedBy      uint      `json:"invited_by"`
	JoinedAt       time.Time `json:"joined_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	User         User         `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Organization Organization `json:"-" gorm:"foreignKey:OrganizationID"`
}

// CanManage reports whether the member may change org settings,
// membership and billing.
func (m *OrganizationMember) CanManage() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}

// CanEdit reports whether the member may create and modify content.
func (m *OrganizationMember) CanEdit() bool {
	return m.Role != RoleViewer
}

// Project is a content workspace inside an organization, typically
// one per brand or app being marketed.
type Project struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	OrganizationID uint           `json:"organization_id" gorm:"index;not null;uniqueIndex:idx_org_project_slug"`
	Name           string         `json:"name" gorm:"not null"`
	Slug           string         `json:"slug" gorm:"not null;uniqueIndex:idx_org_project_slug"`
	Description    string         `json:"description"`
	Language       string         `json:"language" gorm:"default:'de'"`
	BrandVoice     string         `json:"brand_voice"`
	Hashtags       string         `json:"hashtags"` // comma separated defaults
	IsArchived     bool           `json:"is_archived" gorm:"default:false"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	Organization Organization    `json:"-" gorm:"foreignKey:OrganizationID"`
	Members      []ProjectMember `json:"members,omitempty" gorm:"foreignKey:ProjectID"`
}

// ProjectMember scopes access to a single project. Organization
// admins and owners have implicit access to every project.
type ProjectMember struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ProjectID uint      `json:"project_id" gorm:"uniqueIndex:idx_project_user;not null"`
	UserID    uint      `json:"user_id" gorm:"uniqueIndex:idx_project_user;not null"`
	Role      string    `json:"role" gorm:"default:'member'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

// Idea lifecycle states
const (
	IdeaStatusDraft     = "draft"
	IdeaStatusRefining  = "refining"
	IdeaStatusValidated = "validated"
	IdeaStatusRejected  = "rejected"
	IdeaStatusConverted = "converted"
)

// Idea is a raw content idea that moves through a fixed lifecycle:
// draft -> refining -> validated or rejected, validated -> converted.
type Idea struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ProjectID   uint           `json:"project_id" gorm:"index;not null"`
	CreatedBy   uint           `json:"created_by"`
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description"`
	Source      string         `json:"source" gorm:"default:'manual'"` // manual, ai, analytics
	Status      string         `json:"status" gorm:"default:'draft';index"`
	Refinement  string         `json:"refinement"` // AI refinement notes, JSON
	Score       float64        `json:"score"`      // 0..1 validation score
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	Project Project `json:"-" gorm:"foreignKey:ProjectID"`
}

// CanTransition reports whether the idea may move to the given status.
func (i *Idea) CanTransition(to string) bool {
	switch i.Status {
	case IdeaStatusDraft:
		return to == IdeaStatusRefining || to == IdeaStatusRejected
	case IdeaStatusRefining:
		return to == IdeaStatusValidated || to == IdeaStatusRejected
	case IdeaStatusValidated:
		return to == IdeaStatusConverted || to == IdeaStatusRejected
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (i *Idea) IsTerminal() bool {
	return i.Status == IdeaStatusRejected || i.Status == IdeaStatusConverted
}

// CreditBalance is the per-organization balance snapshot. All writes
// go through the ledger which bumps Version for optimistic locking;
// the journal of CreditTransactions is the source of truth.
type CreditBalance struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"uniqueIndex;not null"`
	Available      int64     `json:"available" gorm:"default:0"`
	Reserved       int64     `json:"reserved" gorm:"default:0"`
	Consumed       int64     `json:"consumed" gorm:"default:0"`
	Version        int64     `json:"version" gorm:"default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Total returns available plus reserved credits.
func (b *CreditBalance) Total() int64 {
	return b.Available + b.Reserved
}

// Credit transaction types
const (
	TxTypeGrant   = "grant"
	TxTypeReserve = "reserve"
	TxTypeConsume = "consume"
	TxTypeRelease = "release"
	TxTypeRefund  = "refund"
)

// CreditTransaction is one append-only journal entry. Rows are never
// updated or deleted. IdempotencyKey dedupes retried operations; it
// is NULL for keyless entries so the unique index only bites on real
// keys.
type CreditTransaction struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"index;not null"`
	Type           string    `json:"type" gorm:"not null;index"`
	Amount         int64     `json:"amount" gorm:"not null"` // always positive
	BalanceAfter   int64     `json:"balance_after"`          // available after applying
	Reference      string    `json:"reference"`              // workflow run id, stripe event id
	Description    string    `json:"description"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty" gorm:"uniqueIndex"`
	CreatedBy      uint      `json:"created_by"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

// Subscription statuses mirror Stripe's vocabulary.
const (
	SubStatusActive   = "active"
	SubStatusTrialing = "trialing"
	SubStatusPastDue  = "past_due"
	SubStatusCanceled = "canceled"
)

// Subscription tracks the organization's Stripe subscription.
type Subscription struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	OrganizationID       uint       `json:"organization_id" gorm:"uniqueIndex;not null"`
	StripeCustomerID     string     `json:"stripe_customer_id" gorm:"index"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"index"`
	Plan                 string     `json:"plan" gorm:"default:'free'"`
	Status               string     `json:"status" gorm:"default:'active'"`
	CurrentPeriodStart   time.Time  `json:"current_period_start"`
	CurrentPeriodEnd     time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription entitles the org to its plan.
func (s *Subscription) IsActive() bool {
	return s.Status == SubStatusActive || s.Status == SubStatusTrialing
}

// Invoice tracks Stripe invoices for display in the billing UI.
type Invoice struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	OrganizationID  uint       `json:"organization_id" gorm:"index;not null"`
	StripeInvoiceID string     `json:"stripe_invoice_id" gorm:"uniqueIndex"`
	AmountCents     int64      `json:"amount_cents"`
	Currency        string     `json:"currency" gorm:"default:'eur'"`
	Status          string     `json:"status"`
	HostedURL       string     `json:"hosted_url"`
	PDFURL          string     `json:"pdf_url"`
	PaidAt          *time.Time `json:"paid_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Content artifact types, also used as AI capability hints.
const (
	ArtifactAffirmation   = "affirmation"
	ArtifactInstagramPost = "instagram_post"
	ArtifactVisualPost    = "visual_post"
	ArtifactVideo         = "video"
	ArtifactAsoReport     = "aso_report"
)

// ContentArtifact is a generated piece of content. Generation is
// idempotent on (ProjectID, Type, ContentHash): requesting the same
// inputs returns the stored artifact instead of calling the AI again.
type ContentArtifact struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	ProjectID   uint           `json:"project_id" gorm:"uniqueIndex:idx_project_type_hash;not null"`
	Type        string         `json:"type" gorm:"uniqueIndex:idx_project_type_hash;not null"`
	ContentHash string         `json:"content_hash" gorm:"uniqueIndex:idx_project_type_hash;size:32;not null"`
	IdeaID      *uint          `json:"idea_id" gorm:"index"`
	Period      int            `json:"period"` // 7 Cycles period 1..7, 0 = none
	Title       string         `json:"title"`
	Body        string         `json:"body"`    // main text content
	Payload     string         `json:"payload"` // structured extras, JSON
	MediaURL    string         `json:"media_url"`
	Status      string         `json:"status" gorm:"default:'ready'"` // ready, pending, failed
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	CostCredits int64          `json:"cost_credits"`
	CreatedBy   uint           `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	Project Project `json:"-" gorm:"foreignKey:ProjectID"`
}

// Workflow run statuses
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCanceled  = "canceled"
)

// WorkflowRun records one execution of a content workflow, including
// the per-step audit trail and the credit reservation backing it.
type WorkflowRun struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	RunID           string     `json:"run_id" gorm:"uniqueIndex;size:36;not null"`
	ProjectID       uint       `json:"project_id" gorm:"index;not null"`
	OrganizationID  uint       `json:"organization_id" gorm:"index;not null"`
	Workflow        string     `json:"workflow" gorm:"not null"` // e.g. instagram_post, full_cycle
	Status          string     `json:"status" gorm:"default:'pending';index"`
	Input           string     `json:"input"` // JSON workflow input
	Steps           string     `json:"steps"` // JSON step audit trail
	Error           string     `json:"error"`
	ReservedCredits int64      `json:"reserved_credits"`
	ConsumedCredits int64      `json:"consumed_credits"`
	TriggeredBy     uint       `json:"triggered_by"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsFinished reports whether the run reached a terminal state.
func (r *WorkflowRun) IsFinished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed || r.Status == RunStatusCanceled
}

// Scheduled post statuses
const (
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
	PostStatusCanceled  = "canceled"
)

// ScheduledPost queues an artifact for publishing into an hour slot.
// PublishAt is always truncated to the hour; the scheduler drains one
// bucket per tick.
type ScheduledPost struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	ProjectID   uint       `json:"project_id" gorm:"index;not null"`
	ArtifactID  uint       `json:"artifact_id" gorm:"index;not null"`
	Platform    string     `json:"platform" gorm:"default:'instagram'"`
	PublishAt   time.Time  `json:"publish_at" gorm:"index"`
	Status      string     `json:"status" gorm:"default:'scheduled';index"`
	ExternalID  string     `json:"external_id"` // platform media id after publish
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts" gorm:"default:0"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedBy   uint       `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Artifact ContentArtifact `json:"artifact,omitempty" gorm:"foreignKey:ArtifactID"`
}

// GenerationRecord tracks every AI call for usage reporting, whether
// it resulted in a new artifact or a hash hit.
type GenerationRecord struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"index;not null"`
	ProjectID      uint      `json:"project_id" gorm:"index"`
	ArtifactType   string    `json:"artifact_type"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	RawCostUSD     float64   `json:"raw_cost_usd"`
	CostCredits    int64     `json:"cost_credits"`
	CacheHit       bool      `json:"cache_hit"`
	LatencyMs      int64     `json:"latency_ms"`
	DayKey         string    `json:"day_key" gorm:"size:10;index"` // YYYY-MM-DD
	CreatedAt      time.Time `json:"created_at"`
}

// InstagramAccount stores a connected Instagram business account per
// project, with the long-lived access token from the OAuth exchange.
type InstagramAccount struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	ProjectID    uint       `json:"project_id" gorm:"uniqueIndex;not null"`
	IGUserID     string     `json:"ig_user_id" gorm:"index"`
	Username     string     `json:"username"`
	AccessToken  string     `json:"-" gorm:"not null"`
	TokenExpires *time.Time `json:"token_expires"`
	ConnectedBy  uint       `json:"connected_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TokenValid reports whether the stored token is still usable.
func (a *InstagramAccount) TokenValid() bool {
	if a.AccessToken == "" {
		return false
	}
	if a.TokenExpires == nil {
		return true
	}
	return a.TokenExpires.After(time.Now())
}

// AllModels returns every model for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Organization{},
		&OrganizationMember{},
		&Project{},
		&ProjectMember{},
		&Idea{},
		&CreditBalance{},
		&CreditTransaction{},
		&Subscription{},
		&Invoice{},
		&ContentArtifact{},
		&WorkflowRun{},
		&ScheduledPost{},
		&GenerationRecord{},
		&InstagramAccount{},
	}
}
