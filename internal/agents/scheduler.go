package agents

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// DefaultSlots are the hours of day posts are published at, chosen
// for Instagram engagement in the core European audience.
var DefaultSlots = []int{9, 12, 17, 20}

const maxPublishAttempts = 3

// PostPublisher publishes a scheduled post to its platform and
// returns the platform media id.
type PostPublisher interface {
	Publish(ctx context.Context, post *models.ScheduledPost) (string, error)
}

// Locker takes a short-lived lock so only one replica publishes a
// given post. The redis client satisfies this.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// Scheduler drains due posts bucketed into hour slots.
type Scheduler struct {
	db        *gorm.DB
	publisher PostPublisher
	locker    Locker
	slots     []int
	interval  time.Duration
	stop      chan struct{}
}

// NewScheduler creates a scheduler. locker may be nil in single
// replica deployments.
func NewScheduler(db *gorm.DB, publisher PostPublisher, locker Locker) *Scheduler {
	return &Scheduler{
		db:        db,
		publisher: publisher,
		locker:    locker,
		slots:     DefaultSlots,
		interval:  time.Minute,
		stop:      make(chan struct{}),
	}
}

// NextSlot returns the first publishing slot strictly after t,
// truncated to the hour. Requests land in the next bucket, never in
// one that already passed.
func NextSlot(t time.Time, slots []int) time.Time {
	if len(slots) == 0 {
		slots = DefaultSlots
	}

	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for offset := 0; offset < 2; offset++ {
		candidateDay := day.AddDate(0, 0, offset)
		for _, hour := range slots {
			slot := candidateDay.Add(time.Duration(hour) * time.Hour)
			if slot.After(t) {
				return slot
			}
		}
	}
	// Unreachable with non-empty slots but keeps the compiler honest.
	return day.AddDate(0, 0, 1).Add(time.Duration(slots[0]) * time.Hour)
}

// Schedule queues an artifact into the next free slot at or after
// requestedAt.
func (s *Scheduler) Schedule(ctx context.Context, projectID, artifactID, userID uint, platform string, requestedAt time.Time) (*models.ScheduledPost, error) {
	var artifact models.ContentArtifact
	if err := s.db.WithContext(ctx).First(&artifact, artifactID).Error; err != nil {
		return nil, fmt.Errorf("artifact %d not found: %w", artifactID, err)
	}
	if artifact.ProjectID != projectID {
		return nil, fmt.Errorf("artifact %d does not belong to project %d", artifactID, projectID)
	}
	if platform == "" {
		platform = "instagram"
	}

	// Advance past slots the project already occupies so back-to-back
	// requests spread over the day instead of stacking.
	slot := NextSlot(requestedAt, s.slots)
	for i := 0; i < 64; i++ {
		var taken int64
		err := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
			Where("project_id = ? AND platform = ? AND publish_at = ? AND status = ?",
				projectID, platform, slot, models.PostStatusScheduled).
			Count(&taken).Error
		if err != nil {
			return nil, err
		}
		if taken == 0 {
			break
		}
		slot = NextSlot(slot, s.slots)
	}

	post := &models.ScheduledPost{
		ProjectID:  projectID,
		ArtifactID: artifactID,
		Platform:   platform,
		PublishAt:  slot,
		Status:     models.PostStatusScheduled,
		CreatedBy:  userID,
	}
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return nil, fmt.Errorf("failed to schedule post: %w", err)
	}
	return post, nil
}

// CancelPost cancels a post that has not been published yet.
func (s *Scheduler) CancelPost(ctx context.Context, projectID, postID uint) error {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPost{}).
		Where("id = ? AND project_id = ? AND status = ?", postID, projectID, models.PostStatusScheduled).
		Update("status", models.PostStatusCanceled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("post %d is not scheduled", postID)
	}
	return nil
}

// Run ticks until Stop is called, draining due posts each tick.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if err := s.DrainDue(ctx, time.Now()); err != nil {
				logging.S().Warnw("scheduler drain failed", "error", err)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the Run loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// DrainDue publishes every scheduled post whose slot has passed.
func (s *Scheduler) DrainDue(ctx context.Context, now time.Time) error {
	var due []models.ScheduledPost
	err := s.db.WithContext(ctx).
		Where("status = ? AND publish_at <= ?", models.PostStatusScheduled, now).
		Order("publish_at ASC").
		Limit(50).
		Find(&due).Error
	if err != nil {
		return err
	}

	for i := range due {
		post := &due[i]

		if s.locker != nil {
			key := fmt.Sprintf("publish:%d", post.ID)
			ok, err := s.locker.SetNX(ctx, key, 1, 10*time.Minute)
			if err != nil || !ok {
				continue
			}
		}

		s.publishOne(ctx, post)
	}
	return nil
}

func (s *Scheduler) publishOne(ctx context.Context, post *models.ScheduledPost) {
	post.Attempts++

	externalID, err := s.publisher.Publish(ctx, post)
	if err != nil {
		post.Error = err.Error()
		if post.Attempts >= maxPublishAttempts {
			post.Status = models.PostStatusFailed
			logging.S().Errorw("post permanently failed",
				"post_id", post.ID, "attempts", post.Attempts, "error", err)
		} else {
			// Stays scheduled, the next tick retries.
			logging.S().Warnw("post publish failed, will retry",
				"post_id", post.ID, "attempt", post.Attempts, "error", err)
		}
		if saveErr := s.db.WithContext(ctx).Save(post).Error; saveErr != nil {
			logging.S().Errorw("failed to persist post state", "post_id", post.ID, "error", saveErr)
		}
		return
	}

	now := time.Now()
	post.Status = models.PostStatusPublished
	post.ExternalID = externalID
	post.PublishedAt = &now
	post.Error = ""
	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		logging.S().Errorw("failed to persist published post", "post_id", post.ID, "error", err)
	}

	logging.S().Infow("post published",
		"post_id", post.ID, "platform", post.Platform, "external_id", externalID)
}
