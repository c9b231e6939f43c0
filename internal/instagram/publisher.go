package instagram

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/pkg/models"
)

// Publisher resolves a scheduled post to its connected account and
// pushes it through the Graph API. Satisfies the scheduler's
// publisher interface.
type Publisher struct {
	db     *gorm.DB
	client *Client
}

// NewPublisher creates a publisher bound to a Graph API client.
func NewPublisher(db *gorm.DB, client *Client) *Publisher {
	return &Publisher{db: db, client: client}
}

// Publish pushes the post's artifact to its platform and returns the
// platform media id.
func (p *Publisher) Publish(ctx context.Context, post *models.ScheduledPost) (string, error) {
	if p.client == nil {
		return "", ErrNotConnected
	}

	var artifact models.ContentArtifact
	if err := p.db.WithContext(ctx).First(&artifact, post.ArtifactID).Error; err != nil {
		return "", fmt.Errorf("artifact %d not found: %w", post.ArtifactID, err)
	}

	var account models.InstagramAccount
	if err := p.db.WithContext(ctx).Where("project_id = ?", post.ProjectID).First(&account).Error; err != nil {
		return "", ErrNotConnected
	}
	if !account.TokenValid() {
		return "", ErrTokenExpired
	}

	switch post.Platform {
	case "threads":
		return p.client.PublishThreads(ctx, account.IGUserID, account.AccessToken, artifact.Body)
	case "instagram", "":
		if artifact.MediaURL == "" {
			return "", fmt.Errorf("artifact %d has no media to publish", artifact.ID)
		}
		return p.client.PublishImage(ctx, account.IGUserID, account.AccessToken, artifact.MediaURL, artifact.Body)
	default:
		return "", fmt.Errorf("unsupported platform: %s", post.Platform)
	}
}

// Connect stores the account for a project after the OAuth exchange.
func (p *Publisher) Connect(ctx context.Context, projectID, userID uint, accessToken string, tokenExpires *time.Time, info *AccountInfo) error {
	account := models.InstagramAccount{
		ProjectID:    projectID,
		IGUserID:     info.IGUserID,
		Username:     info.Username,
		AccessToken:  accessToken,
		TokenExpires: tokenExpires,
		ConnectedBy:  userID,
	}

	return p.db.WithContext(ctx).
		Where(models.InstagramAccount{ProjectID: projectID}).
		Assign(account).
		FirstOrCreate(&models.InstagramAccount{}).Error
}
