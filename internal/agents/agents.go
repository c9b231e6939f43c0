// Package agents implements the content generation agents of 7 Cycles:
// affirmations, Instagram posts, visuals, videos and ASO reports, plus
// the workflow runner and the publishing scheduler built on top.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bxt-team/sevencycles/internal/ai"
	"github.com/bxt-team/sevencycles/internal/ledger"
	"github.com/bxt-team/sevencycles/internal/logging"
	"github.com/bxt-team/sevencycles/internal/pricing"
	"github.com/bxt-team/sevencycles/pkg/models"
)

// TextGenerator produces text through the provider router.
type TextGenerator interface {
	Generate(ctx context.Context, req *ai.Request) (*ai.Response, error)
}

// ImageGenerator turns a visual prompt into a hosted image URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// VideoGenerator turns a script into a hosted video URL.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, script string) (string, error)
}

// GenerateParams describes one artifact generation request.
type GenerateParams struct {
	OrganizationID uint
	ProjectID      uint
	Type           string
	IdeaID         *uint
	Period         int
	Language       string
	Inputs         map[string]string // type-specific inputs, part of the hash
	CreatedBy      uint
}

// Service runs the content agents. Every generation is idempotent on
// the content hash and charged through the credit ledger.
type Service struct {
	db      *gorm.DB
	text    TextGenerator
	images  ImageGenerator
	videos  VideoGenerator
	ledger  *ledger.Ledger
	pricing *pricing.Engine
}

// NewService wires the agent service. images and videos may be nil
// when those providers are not configured; the corresponding artifact
// types then fail with a clear error.
func NewService(db *gorm.DB, text TextGenerator, images ImageGenerator, videos VideoGenerator, l *ledger.Ledger) *Service {
	return &Service{
		db:      db,
		text:    text,
		images:  images,
		videos:  videos,
		ledger:  l,
		pricing: pricing.Get(),
	}
}

// Generate produces one content artifact. When an artifact with the
// same (project, type, hash) already exists it is returned as-is and
// nothing is charged. The bool result reports that cache hit.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*models.ContentArtifact, bool, error) {
	if p.Language == "" {
		p.Language = "de"
	}
	if p.Inputs == nil {
		p.Inputs = map[string]string{}
	}
	if p.Period > 0 {
		p.Inputs["period"] = strconv.Itoa(p.Period)
	}
	p.Inputs["language"] = p.Language

	hash := ContentHash(p.ProjectID, p.Type, p.Inputs)

	var existing models.ContentArtifact
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND type = ? AND content_hash = ?", p.ProjectID, p.Type, hash).
		First(&existing).Error
	if err == nil {
		s.recordGeneration(ctx, p, &existing, nil, true, 0)
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	start := time.Now()
	artifact, resp, err := s.generate(ctx, p, hash)
	if err != nil {
		return nil, false, err
	}

	credits, err := s.charge(ctx, p, hash, resp, artifact)
	if err != nil {
		return nil, false, err
	}
	artifact.CostCredits = credits

	if err := s.db.WithContext(ctx).Create(artifact).Error; err != nil {
		// A concurrent request may have stored the same hash first.
		var raced models.ContentArtifact
		if lookupErr := s.db.WithContext(ctx).
			Where("project_id = ? AND type = ? AND content_hash = ?", p.ProjectID, p.Type, hash).
			First(&raced).Error; lookupErr == nil {
			return &raced, true, nil
		}
		return nil, false, fmt.Errorf("failed to store artifact: %w", err)
	}

	s.recordGeneration(ctx, p, artifact, resp, false, time.Since(start).Milliseconds())
	return artifact, false, nil
}

// generate dispatches to the type-specific agent.
func (s *Service) generate(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	switch p.Type {
	case models.ArtifactAffirmation:
		return s.generateAffirmation(ctx, p, hash)
	case models.ArtifactInstagramPost:
		return s.generateInstagramPost(ctx, p, hash)
	case models.ArtifactVisualPost:
		return s.generateVisualPost(ctx, p, hash)
	case models.ArtifactVideo:
		return s.generateVideo(ctx, p, hash)
	case models.ArtifactAsoReport:
		return s.generateAsoReport(ctx, p, hash)
	default:
		return nil, nil, fmt.Errorf("unknown artifact type: %s", p.Type)
	}
}

func (s *Service) generateAffirmation(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	resp, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityAffirmation,
		Prompt:     fmt.Sprintf("Write one affirmation about: %s", p.Inputs["topic"]),
		Language:   p.Language,
		Period:     p.Period,
	})
	if err != nil {
		return nil, nil, err
	}

	body := strings.TrimSpace(resp.Content)
	return s.newArtifact(p, hash, resp, body, body, ""), resp, nil
}

func (s *Service) generateInstagramPost(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	caption, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityInstagramCaption,
		Prompt:     fmt.Sprintf("Write an Instagram caption about: %s", p.Inputs["topic"]),
		Language:   p.Language,
		Period:     p.Period,
	})
	if err != nil {
		return nil, nil, err
	}

	hashtags, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityHashtags,
		Prompt:     fmt.Sprintf("Hashtags for an Instagram post about: %s\n\nCaption:\n%s", p.Inputs["topic"], caption.Content),
		Language:   p.Language,
		Period:     p.Period,
	})
	if err != nil {
		return nil, nil, err
	}

	tags := parseHashtags(hashtags.Content)
	payload, _ := json.Marshal(map[string]interface{}{
		"caption":  strings.TrimSpace(caption.Content),
		"hashtags": tags,
	})

	// Merge usage of both calls for billing.
	merged := mergeResponses(caption, hashtags)
	body := strings.TrimSpace(caption.Content)
	if len(tags) > 0 {
		body += "\n\n" + strings.Join(tags, " ")
	}

	artifact := s.newArtifact(p, hash, merged, firstLine(caption.Content), body, "")
	artifact.Payload = string(payload)
	return artifact, merged, nil
}

func (s *Service) generateVisualPost(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	if s.images == nil {
		return nil, nil, fmt.Errorf("image generation is not configured")
	}

	prompt, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityVisualPrompt,
		Prompt:     fmt.Sprintf("Image prompt for a post about: %s", p.Inputs["topic"]),
		Language:   p.Language,
		Period:     p.Period,
	})
	if err != nil {
		return nil, nil, err
	}

	imageURL, err := s.images.GenerateImage(ctx, strings.TrimSpace(prompt.Content))
	if err != nil {
		return nil, nil, fmt.Errorf("image generation failed: %w", err)
	}

	artifact := s.newArtifact(p, hash, prompt, p.Inputs["topic"], strings.TrimSpace(prompt.Content), imageURL)
	return artifact, prompt, nil
}

func (s *Service) generateVideo(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	if s.videos == nil {
		return nil, nil, fmt.Errorf("video generation is not configured")
	}

	script, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityVideoScript,
		Prompt:     fmt.Sprintf("Video script about: %s", p.Inputs["topic"]),
		Language:   p.Language,
		Period:     p.Period,
	})
	if err != nil {
		return nil, nil, err
	}

	videoURL, err := s.videos.GenerateVideo(ctx, script.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("video generation failed: %w", err)
	}

	artifact := s.newArtifact(p, hash, script, p.Inputs["topic"], strings.TrimSpace(script.Content), videoURL)
	artifact.Payload = script.Content
	return artifact, script, nil
}

func (s *Service) generateAsoReport(ctx context.Context, p GenerateParams, hash string) (*models.ContentArtifact, *ai.Response, error) {
	reviews := p.Inputs["reviews"]
	if reviews == "" {
		return nil, nil, fmt.Errorf("aso report requires review data")
	}

	resp, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityAsoInsights,
		Prompt:     fmt.Sprintf("App: %s\n\nReviews:\n%s", p.Inputs["app"], reviews),
		Language:   p.Language,
	})
	if err != nil {
		return nil, nil, err
	}

	artifact := s.newArtifact(p, hash, resp, "ASO report: "+p.Inputs["app"], resp.Content, "")
	artifact.Payload = resp.Content
	return artifact, resp, nil
}

// RefineIdea runs the refinement agent over a draft idea and moves it
// through refining into validated or rejected based on the AI score.
// Each attempt is billed like a generation; an unbillable attempt
// returns the idea to draft.
func (s *Service) RefineIdea(ctx context.Context, orgID, userID uint, idea *models.Idea) error {
	if !idea.CanTransition(models.IdeaStatusRefining) {
		return fmt.Errorf("idea %d cannot be refined from status %s", idea.ID, idea.Status)
	}

	idea.Status = models.IdeaStatusRefining
	if err := s.db.WithContext(ctx).Save(idea).Error; err != nil {
		return err
	}

	resp, err := s.text.Generate(ctx, &ai.Request{
		Capability: ai.CapabilityIdeaRefinement,
		Prompt:     fmt.Sprintf("Idea: %s\n\n%s", idea.Title, idea.Description),
	})
	if err != nil {
		// Refinement failure is not terminal, the idea returns to draft.
		idea.Status = models.IdeaStatusDraft
		_ = s.db.WithContext(ctx).Save(idea).Error
		return fmt.Errorf("idea refinement failed: %w", err)
	}

	// Retries are separate attempts, so the ref is unique per call.
	ref := fmt.Sprintf("refine:%d:%s", idea.ID, uuid.NewString())
	if _, err := s.chargeUsage(ctx, orgID, userID, ref, "idea refinement",
		len(idea.Title)+len(idea.Description), resp, 0); err != nil {
		idea.Status = models.IdeaStatusDraft
		_ = s.db.WithContext(ctx).Save(idea).Error
		return fmt.Errorf("idea refinement billing: %w", err)
	}

	var refinement struct {
		Angle    string   `json:"angle"`
		Audience string   `json:"audience"`
		Formats  []string `json:"formats"`
		Score    float64  `json:"score"`
	}
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &refinement); err != nil {
		logging.S().Warnw("unparseable refinement, keeping raw text", "idea_id", idea.ID, "error", err)
		refinement.Score = 0.5
	}

	idea.Refinement = resp.Content
	idea.Score = refinement.Score
	if refinement.Score >= 0.4 {
		idea.Status = models.IdeaStatusValidated
	} else {
		idea.Status = models.IdeaStatusRejected
	}

	return s.db.WithContext(ctx).Save(idea).Error
}

// charge reserves, consumes and releases credits for one generation.
// Video artifacts bill a flat rate on top of the script tokens.
func (s *Service) charge(ctx context.Context, p GenerateParams, hash string, resp *ai.Response, artifact *models.ContentArtifact) (int64, error) {
	var surcharge int64
	if p.Type == models.ArtifactVideo {
		surcharge += s.pricing.VideoCredits()
	}
	if p.Type == models.ArtifactVisualPost {
		// Flat image surcharge, DALL-E bills per image not per token.
		surcharge += 4
	}

	ref := fmt.Sprintf("%s:%s", p.Type, hash)
	return s.chargeUsage(ctx, p.OrganizationID, p.CreatedBy, ref,
		fmt.Sprintf("%s generation", p.Type), len(p.Inputs["topic"])+200, resp, surcharge)
}

// chargeUsage bills one AI response: reserve an estimate that covers
// the actual cost, consume the actual, release the remainder.
func (s *Service) chargeUsage(ctx context.Context, orgID, userID uint, ref, description string, promptChars int, resp *ai.Response, surcharge int64) (int64, error) {
	estimate := s.pricing.EstimateCredits(string(resp.Provider), resp.Model, promptChars, 0)
	inTokens, outTokens := usageTokens(resp)
	actual := s.pricing.CreditCost(string(resp.Provider), resp.Model, inTokens, outTokens) + surcharge
	if actual > estimate {
		estimate = actual
	}

	if _, err := s.ledger.Reserve(ctx, ledger.Entry{
		OrganizationID: orgID,
		Amount:         estimate,
		IdempotencyKey: "reserve:" + ref,
		Reference:      ref,
		CreatedBy:      userID,
	}); err != nil {
		return 0, err
	}

	if _, err := s.ledger.Consume(ctx, ledger.Entry{
		OrganizationID: orgID,
		Amount:         actual,
		IdempotencyKey: "consume:" + ref,
		Reference:      ref,
		Description:    description,
		CreatedBy:      userID,
	}); err != nil {
		return 0, err
	}

	if remainder := estimate - actual; remainder > 0 {
		if _, err := s.ledger.Release(ctx, ledger.Entry{
			OrganizationID: orgID,
			Amount:         remainder,
			IdempotencyKey: "release:" + ref,
			Reference:      ref,
			CreatedBy:      userID,
		}); err != nil {
			return 0, err
		}
	}

	return actual, nil
}

func (s *Service) newArtifact(p GenerateParams, hash string, resp *ai.Response, title, body, mediaURL string) *models.ContentArtifact {
	return &models.ContentArtifact{
		ProjectID:   p.ProjectID,
		Type:        p.Type,
		ContentHash: hash,
		IdeaID:      p.IdeaID,
		Period:      p.Period,
		Title:       truncate(title, 255),
		Body:        body,
		MediaURL:    mediaURL,
		Status:      "ready",
		Provider:    string(resp.Provider),
		Model:       resp.Model,
		CreatedBy:   p.CreatedBy,
	}
}

func (s *Service) recordGeneration(ctx context.Context, p GenerateParams, artifact *models.ContentArtifact, resp *ai.Response, cacheHit bool, latencyMs int64) {
	record := &models.GenerationRecord{
		OrganizationID: p.OrganizationID,
		ProjectID:      p.ProjectID,
		ArtifactType:   p.Type,
		Provider:       artifact.Provider,
		Model:          artifact.Model,
		CacheHit:       cacheHit,
		LatencyMs:      latencyMs,
		CostCredits:    artifact.CostCredits,
		DayKey:         time.Now().UTC().Format("2006-01-02"),
	}
	if cacheHit {
		record.CostCredits = 0
	}
	if resp != nil && resp.Usage != nil {
		record.InputTokens = resp.Usage.PromptTokens
		record.OutputTokens = resp.Usage.CompletionTokens
		record.RawCostUSD = resp.Usage.Cost
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		logging.S().Warnw("failed to write generation record", "error", err)
	}
}

func usageTokens(resp *ai.Response) (int, int) {
	if resp.Usage == nil {
		return 0, 0
	}
	return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
}

// mergeResponses combines two provider responses into one for billing
// and audit purposes. Provider and model come from the first.
func mergeResponses(a, b *ai.Response) *ai.Response {
	merged := &ai.Response{
		ID:        a.ID,
		Provider:  a.Provider,
		Model:     a.Model,
		Content:   a.Content,
		Duration:  a.Duration + b.Duration,
		CreatedAt: a.CreatedAt,
		Usage:     &ai.Usage{},
	}
	for _, r := range []*ai.Response{a, b} {
		if r.Usage != nil {
			merged.Usage.PromptTokens += r.Usage.PromptTokens
			merged.Usage.CompletionTokens += r.Usage.CompletionTokens
			merged.Usage.TotalTokens += r.Usage.TotalTokens
			merged.Usage.Cost += r.Usage.Cost
		}
	}
	return merged
}

// parseHashtags accepts either a JSON array or free text with #tags.
func parseHashtags(content string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(extractJSON(content)), &tags); err == nil {
		out := tags[:0]
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !strings.HasPrefix(t, "#") {
				t = "#" + t
			}
			out = append(out, t)
		}
		if len(out) > 30 {
			out = out[:30]
		}
		return out
	}

	// Fallback: scrape #tags out of free text.
	var out []string
	for _, field := range strings.Fields(content) {
		if strings.HasPrefix(field, "#") && len(field) > 1 {
			out = append(out, strings.Trim(field, ".,"))
		}
		if len(out) == 30 {
			break
		}
	}
	return out
}

// extractJSON strips markdown fences some models insist on adding.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx > 0 {
		s = s[:idx]
	}
	return truncate(s, 255)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
