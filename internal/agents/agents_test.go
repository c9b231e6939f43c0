package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bxt-team/sevencycles/internal/ai"
	"github.com/bxt-team/sevencycles/internal/db"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// stubText returns canned content per capability.
type stubText struct {
	responses map[ai.Capability]string
	err       error
	calls     int
}

func (s *stubText) Generate(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	content, ok := s.responses[req.Capability]
	if !ok {
		content = "generated content"
	}
	return &ai.Response{
		ID:       req.ID,
		Provider: ai.ProviderAnthropic,
		Model:    "claude-3-5-sonnet-20241022",
		Content:  content,
		Usage: &ai.Usage{
			PromptTokens:     500,
			CompletionTokens: 300,
			TotalTokens:      800,
			Cost:             0.006,
		},
		CreatedAt: time.Now(),
	}, nil
}

type stubImages struct{ url string }

func (s *stubImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if s.url == "" {
		return "", errors.New("no image")
	}
	return s.url, nil
}

func newTestService(t *testing.T, text TextGenerator) (*Service, *ledger.Ledger, *db.Database) {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	l := ledger.New(database.DB)
	svc := NewService(database.DB, text, &stubImages{url: "https://cdn.example.com/img.png"}, nil, l)
	return svc, l, database
}

func grantCredits(t *testing.T, l *ledger.Ledger, orgID uint, amount int64) {
	t.Helper()
	_, err := l.Grant(context.Background(), ledger.Entry{OrganizationID: orgID, Amount: amount})
	require.NoError(t, err)
}

func TestGenerateAffirmation(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityAffirmation: "Ich vertraue meinem Weg.",
	}}
	svc, l, _ := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	artifact, cacheHit, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactAffirmation,
		Period:         3,
		Inputs:         map[string]string{"topic": "Selbstvertrauen"},
	})
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, "Ich vertraue meinem Weg.", artifact.Body)
	assert.Equal(t, 3, artifact.Period)
	assert.NotEmpty(t, artifact.ContentHash)
	assert.Greater(t, artifact.CostCredits, int64(0))
}

func TestGenerateIdempotentOnHash(t *testing.T) {
	text := &stubText{}
	svc, l, _ := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	params := GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactAffirmation,
		Inputs:         map[string]string{"topic": "Mut"},
	}

	first, hit, err := svc.Generate(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, hit)
	callsAfterFirst := text.calls

	second, hit, err := svc.Generate(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, hit, "identical inputs must return the stored artifact")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, callsAfterFirst, text.calls, "cache hit must not call the AI")

	// Cache hits are free: available only dropped once.
	balance, err := l.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000)-first.CostCredits, balance.Available)
}

func TestGenerateChargesLedger(t *testing.T) {
	svc, l, _ := newTestService(t, &stubText{})
	grantCredits(t, l, 1, 1000)

	artifact, _, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactAffirmation,
		Inputs:         map[string]string{"topic": "Energie"},
	})
	require.NoError(t, err)

	balance, err := l.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000)-artifact.CostCredits, balance.Available)
	assert.Equal(t, artifact.CostCredits, balance.Consumed)
	assert.Equal(t, int64(0), balance.Reserved, "reservation fully settled")
}

func TestGenerateFailsWithoutCredits(t *testing.T) {
	svc, _, _ := newTestService(t, &stubText{})

	_, _, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactAffirmation,
		Inputs:         map[string]string{"topic": "Erfolg"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
}

func TestGenerateInstagramPostPayload(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityInstagramCaption: "Dein neuer Zyklus beginnt heute.\n\nStarte jetzt.",
		ai.CapabilityHashtags:         `["#7cycles", "#neuanfang", "achtsamkeit"]`,
	}}
	svc, l, _ := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	artifact, _, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactInstagramPost,
		Inputs:         map[string]string{"topic": "Neuanfang"},
	})
	require.NoError(t, err)
	assert.Contains(t, artifact.Body, "#7cycles")
	assert.Contains(t, artifact.Body, "#achtsamkeit", "bare tags get a # prefix")
	assert.Contains(t, artifact.Payload, "caption")
	assert.Equal(t, 2, text.calls, "caption and hashtags are separate calls")
}

func TestGenerateVisualPostUsesImageURL(t *testing.T) {
	svc, l, _ := newTestService(t, &stubText{})
	grantCredits(t, l, 1, 1000)

	artifact, _, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactVisualPost,
		Inputs:         map[string]string{"topic": "Ruhe"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img.png", artifact.MediaURL)
}

func TestGenerateUnknownType(t *testing.T) {
	svc, _, _ := newTestService(t, &stubText{})

	_, _, err := svc.Generate(context.Background(), GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           "podcast",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown artifact type")
}

func TestRefineIdeaValidates(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityIdeaRefinement: `{"angle":"morning routines","audience":"busy parents","formats":["reel"],"score":0.8}`,
	}}
	svc, l, database := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	idea := &models.Idea{ProjectID: 1, Title: "Morgenroutine", Status: models.IdeaStatusDraft}
	require.NoError(t, database.DB.Create(idea).Error)

	require.NoError(t, svc.RefineIdea(context.Background(), 1, 1, idea))
	assert.Equal(t, models.IdeaStatusValidated, idea.Status)
	assert.InDelta(t, 0.8, idea.Score, 0.001)
	assert.NotEmpty(t, idea.Refinement)
}

func TestRefineIdeaRejectsLowScore(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityIdeaRefinement: `{"angle":"","audience":"","formats":[],"score":0.1}`,
	}}
	svc, l, database := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	idea := &models.Idea{ProjectID: 1, Title: "Schwache Idee", Status: models.IdeaStatusDraft}
	require.NoError(t, database.DB.Create(idea).Error)

	require.NoError(t, svc.RefineIdea(context.Background(), 1, 1, idea))
	assert.Equal(t, models.IdeaStatusRejected, idea.Status)
}

func TestRefineIdeaConsumesCredits(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityIdeaRefinement: `{"angle":"a","audience":"b","formats":[],"score":0.9}`,
	}}
	svc, l, database := newTestService(t, text)
	grantCredits(t, l, 1, 1000)

	idea := &models.Idea{ProjectID: 1, Title: "Abendroutine", Status: models.IdeaStatusDraft}
	require.NoError(t, database.DB.Create(idea).Error)

	require.NoError(t, svc.RefineIdea(context.Background(), 1, 1, idea))

	balance, err := l.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Greater(t, balance.Consumed, int64(0))
	assert.Equal(t, int64(0), balance.Reserved)
}

func TestRefineIdeaInsufficientCredits(t *testing.T) {
	text := &stubText{responses: map[ai.Capability]string{
		ai.CapabilityIdeaRefinement: `{"angle":"a","audience":"b","formats":[],"score":0.9}`,
	}}
	svc, _, database := newTestService(t, text)

	idea := &models.Idea{ProjectID: 1, Title: "Pleite", Status: models.IdeaStatusDraft}
	require.NoError(t, database.DB.Create(idea).Error)

	err := svc.RefineIdea(context.Background(), 1, 1, idea)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientCredits)
	assert.Equal(t, models.IdeaStatusDraft, idea.Status, "unbillable attempt returns the idea to draft")

	var count int64
	require.NoError(t, database.DB.Model(&models.CreditTransaction{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestRefineIdeaInvalidTransition(t *testing.T) {
	svc, _, database := newTestService(t, &stubText{})

	idea := &models.Idea{ProjectID: 1, Title: "Fertig", Status: models.IdeaStatusConverted}
	require.NoError(t, database.DB.Create(idea).Error)

	err := svc.RefineIdea(context.Background(), 1, 1, idea)
	require.Error(t, err)
}

func TestParseHashtagsFreeText(t *testing.T) {
	tags := parseHashtags("Great post! #zyklus #energie, and #mut.")
	assert.Equal(t, []string{"#zyklus", "#energie", "#mut"}, tags)
}

func TestExtractJSONStripsFences(t *testing.T) {
	fenced := "```json\n{\"score\": 0.7}\n```"
	assert.Equal(t, `{"score": 0.7}`, extractJSON(fenced))
}

func TestGenerateRecordsUsage(t *testing.T) {
	svc, l, database := newTestService(t, &stubText{})
	grantCredits(t, l, 1, 1000)

	params := GenerateParams{
		OrganizationID: 1,
		ProjectID:      1,
		Type:           models.ArtifactAffirmation,
		Inputs:         map[string]string{"topic": "Kreativität"},
	}
	_, _, err := svc.Generate(context.Background(), params)
	require.NoError(t, err)
	_, _, err = svc.Generate(context.Background(), params)
	require.NoError(t, err)

	var records []models.GenerationRecord
	require.NoError(t, database.DB.Find(&records).Error)
	require.Len(t, records, 2)

	hits := 0
	for _, r := range records {
		if r.CacheHit {
			hits++
			assert.Equal(t, int64(0), r.CostCredits, "cache hits are free")
		}
		assert.Equal(t, uint(1), r.OrganizationID)
	}
	assert.Equal(t, 1, hits)
}
