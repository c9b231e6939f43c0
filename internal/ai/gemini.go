package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/bxt-team/sevencycles/internal/pricing"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements the Client interface on the official genai SDK
type GeminiClient struct {
	client  *genai.Client
	usage   *ProviderUsage
	usageMu sync.RWMutex
}

// NewGeminiClient creates a Gemini client against the public Gemini API
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		usage: &ProviderUsage{
			Provider: ProviderGemini,
			LastUsed: time.Now(),
		},
	}, nil
}

// Generate implements the Client interface for Gemini
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := defaultGeminiModel
	if req.Model != "" {
		model = req.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens(req.Capability)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(buildSystemPrompt(req.Capability, req.Language, req.Period), genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		c.incrementErrorCount()
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}

	var promptTokens, completionTokens int
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		completionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	cost := pricing.Get().RawCost(string(ProviderGemini), model, promptTokens, completionTokens)
	c.updateUsage(promptTokens+completionTokens, cost, time.Since(startTime))

	return &Response{
		ID:       req.ID,
		Provider: ProviderGemini,
		Model:    model,
		Content:  resp.Text(),
		Usage: &Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// GetCapabilities returns capabilities Gemini handles well. Long
// context makes it the preferred provider for review analytics.
func (c *GeminiClient) GetCapabilities() []Capability {
	return []Capability{
		CapabilityHashtags,
		CapabilityAsoInsights,
		CapabilityInstagramCaption,
		CapabilityIdeaRefinement,
	}
}

// GetProvider returns the provider identifier
func (c *GeminiClient) GetProvider() Provider {
	return ProviderGemini
}

// Health checks if the Gemini API is accessible
func (c *GeminiClient) Health(ctx context.Context) error {
	config := &genai.GenerateContentConfig{MaxOutputTokens: 5}
	_, err := c.client.Models.GenerateContent(ctx, "gemini-1.5-flash", genai.Text("Hello"), config)
	return err
}

func (c *GeminiClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	c.usage.RequestCount++
	c.usage.TotalTokens += int64(totalTokens)
	c.usage.TotalCost += cost
	c.usage.AvgLatency = (c.usage.AvgLatency*float64(c.usage.RequestCount-1) + duration.Seconds()) / float64(c.usage.RequestCount)
	c.usage.LastUsed = time.Now()
}

func (c *GeminiClient) incrementErrorCount() {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (c *GeminiClient) GetUsage() *ProviderUsage {
	c.usageMu.RLock()
	defer c.usageMu.RUnlock()

	return &ProviderUsage{
		Provider:     c.usage.Provider,
		RequestCount: c.usage.RequestCount,
		TotalTokens:  c.usage.TotalTokens,
		TotalCost:    c.usage.TotalCost,
		AvgLatency:   c.usage.AvgLatency,
		ErrorCount:   c.usage.ErrorCount,
		LastUsed:     c.usage.LastUsed,
	}
}
