package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/pkg/models"
)

type fakePublisher struct {
	failures int
	calls    int
}

func (f *fakePublisher) Publish(ctx context.Context, post *models.ScheduledPost) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("graph api unavailable")
	}
	return fmt.Sprintf("media_%d", post.ID), nil
}

type fakeLocker struct {
	held map[string]bool
}

func (f *fakeLocker) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func newTestScheduler(t *testing.T, publisher PostPublisher) (*Scheduler, *db.Database) {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewScheduler(database.DB, publisher, nil), database
}

func seedArtifact(t *testing.T, database *db.Database, projectID uint) *models.ContentArtifact {
	t.Helper()
	artifact := &models.ContentArtifact{
		ProjectID:   projectID,
		Type:        models.ArtifactInstagramPost,
		ContentHash: fmt.Sprintf("%032d", time.Now().UnixNano()%1e9),
		Title:       "Post",
		Body:        "Caption",
	}
	require.NoError(t, database.DB.Create(artifact).Error)
	return artifact
}

func TestNextSlot(t *testing.T) {
	loc := time.UTC
	day := func(hour, min int) time.Time {
		return time.Date(2026, 8, 30, hour, min, 0, 0, loc)
	}

	cases := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"early morning lands in 9h slot", day(6, 30), day(9, 0)},
		{"exactly on a slot moves to the next", day(9, 0), day(12, 0)},
		{"between slots", day(13, 45), day(17, 0)},
		{"after last slot wraps to next day", day(21, 10), day(9, 0).AddDate(0, 0, 1)},
		{"one second before a slot takes it", day(11, 59).Add(59 * time.Second), day(12, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextSlot(tc.at, DefaultSlots)
			assert.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
		})
	}
}

func TestNextSlotCustomSlots(t *testing.T) {
	at := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	got := NextSlot(at, []int{8, 14})
	want := time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestScheduleSnapsToSlot(t *testing.T) {
	scheduler, database := newTestScheduler(t, &fakePublisher{})
	artifact := seedArtifact(t, database, 1)

	requested := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)
	post, err := scheduler.Schedule(context.Background(), 1, artifact.ID, 1, "", requested)
	require.NoError(t, err)

	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.Equal(t, "instagram", post.Platform, "platform defaults to instagram")
	assert.Equal(t, 12, post.PublishAt.Hour())
	assert.Equal(t, 0, post.PublishAt.Minute())
}

func TestScheduleSkipsOccupiedSlots(t *testing.T) {
	scheduler, database := newTestScheduler(t, &fakePublisher{})
	first := seedArtifact(t, database, 1)
	second := seedArtifact(t, database, 1)
	third := seedArtifact(t, database, 1)

	requested := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	postA, err := scheduler.Schedule(context.Background(), 1, first.ID, 1, "instagram", requested)
	require.NoError(t, err)
	postB, err := scheduler.Schedule(context.Background(), 1, second.ID, 1, "instagram", requested)
	require.NoError(t, err)

	assert.Equal(t, 12, postA.PublishAt.Hour())
	assert.Equal(t, 17, postB.PublishAt.Hour(), "a taken slot pushes the next post forward")

	// A canceled post frees its slot again.
	require.NoError(t, scheduler.CancelPost(context.Background(), 1, postA.ID))
	postC, err := scheduler.Schedule(context.Background(), 1, third.ID, 1, "instagram", requested)
	require.NoError(t, err)
	assert.Equal(t, 12, postC.PublishAt.Hour())
}

func TestScheduleSlotsArePerProject(t *testing.T) {
	scheduler, database := newTestScheduler(t, &fakePublisher{})
	mine := seedArtifact(t, database, 1)
	theirs := seedArtifact(t, database, 2)

	requested := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	postA, err := scheduler.Schedule(context.Background(), 1, mine.ID, 1, "instagram", requested)
	require.NoError(t, err)
	postB, err := scheduler.Schedule(context.Background(), 2, theirs.ID, 1, "instagram", requested)
	require.NoError(t, err)

	assert.Equal(t, postA.PublishAt, postB.PublishAt, "projects do not contend for slots")
}

func TestScheduleRejectsForeignArtifact(t *testing.T) {
	scheduler, database := newTestScheduler(t, &fakePublisher{})
	artifact := seedArtifact(t, database, 2)

	_, err := scheduler.Schedule(context.Background(), 1, artifact.ID, 1, "instagram", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")
}

func TestCancelScheduledPost(t *testing.T) {
	scheduler, database := newTestScheduler(t, &fakePublisher{})
	artifact := seedArtifact(t, database, 1)

	post, err := scheduler.Schedule(context.Background(), 1, artifact.ID, 1, "instagram", time.Now())
	require.NoError(t, err)
	require.NoError(t, scheduler.CancelPost(context.Background(), 1, post.ID))

	var stored models.ScheduledPost
	require.NoError(t, database.DB.First(&stored, post.ID).Error)
	assert.Equal(t, models.PostStatusCanceled, stored.Status)

	require.Error(t, scheduler.CancelPost(context.Background(), 1, post.ID))
}

func TestDrainDuePublishes(t *testing.T) {
	publisher := &fakePublisher{}
	scheduler, database := newTestScheduler(t, publisher)
	artifact := seedArtifact(t, database, 1)

	post := &models.ScheduledPost{
		ProjectID:  1,
		ArtifactID: artifact.ID,
		Platform:   "instagram",
		PublishAt:  time.Now().Add(-time.Hour),
		Status:     models.PostStatusScheduled,
	}
	require.NoError(t, database.DB.Create(post).Error)

	require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))

	var stored models.ScheduledPost
	require.NoError(t, database.DB.First(&stored, post.ID).Error)
	assert.Equal(t, models.PostStatusPublished, stored.Status)
	assert.Equal(t, fmt.Sprintf("media_%d", post.ID), stored.ExternalID)
	assert.NotNil(t, stored.PublishedAt)
	assert.Equal(t, 1, stored.Attempts)
}

func TestDrainDueSkipsFuturePosts(t *testing.T) {
	publisher := &fakePublisher{}
	scheduler, database := newTestScheduler(t, publisher)
	artifact := seedArtifact(t, database, 1)

	post := &models.ScheduledPost{
		ProjectID:  1,
		ArtifactID: artifact.ID,
		Platform:   "instagram",
		PublishAt:  time.Now().Add(time.Hour),
		Status:     models.PostStatusScheduled,
	}
	require.NoError(t, database.DB.Create(post).Error)

	require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))
	assert.Zero(t, publisher.calls)
}

func TestDrainDueRetriesThenFails(t *testing.T) {
	publisher := &fakePublisher{failures: 10}
	scheduler, database := newTestScheduler(t, publisher)
	artifact := seedArtifact(t, database, 1)

	post := &models.ScheduledPost{
		ProjectID:  1,
		ArtifactID: artifact.ID,
		Platform:   "instagram",
		PublishAt:  time.Now().Add(-time.Hour),
		Status:     models.PostStatusScheduled,
	}
	require.NoError(t, database.DB.Create(post).Error)

	// First two failures keep the post scheduled for retry.
	for i := 1; i <= 2; i++ {
		require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))

		var stored models.ScheduledPost
		require.NoError(t, database.DB.First(&stored, post.ID).Error)
		assert.Equal(t, models.PostStatusScheduled, stored.Status)
		assert.Equal(t, i, stored.Attempts)
		assert.NotEmpty(t, stored.Error)
	}

	// Third failure is permanent.
	require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))

	var stored models.ScheduledPost
	require.NoError(t, database.DB.First(&stored, post.ID).Error)
	assert.Equal(t, models.PostStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)

	// Failed posts leave the drain queue.
	require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))
	assert.Equal(t, 3, publisher.calls)
}

func TestDrainDueRespectsLock(t *testing.T) {
	publisher := &fakePublisher{}
	scheduler, database := newTestScheduler(t, publisher)
	scheduler.locker = &fakeLocker{held: map[string]bool{}}
	artifact := seedArtifact(t, database, 1)

	post := &models.ScheduledPost{
		ProjectID:  1,
		ArtifactID: artifact.ID,
		Platform:   "instagram",
		PublishAt:  time.Now().Add(-time.Hour),
		Status:     models.PostStatusScheduled,
	}
	require.NoError(t, database.DB.Create(post).Error)

	// Pre-hold the lock, the drain must skip the post.
	locker := scheduler.locker.(*fakeLocker)
	locker.held[fmt.Sprintf("publish:%d", post.ID)] = true

	require.NoError(t, scheduler.DrainDue(context.Background(), time.Now()))
	assert.Zero(t, publisher.calls)
}
