package ai

import (
	"context"
	"time"
)

// Provider identifies an AI backend
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Capability represents different generation use cases
type Capability string

const (
	CapabilityAffirmation      Capability = "affirmation"
	CapabilityInstagramCaption Capability = "instagram_caption"
	CapabilityHashtags         Capability = "hashtags"
	CapabilityVisualPrompt     Capability = "visual_prompt"
	CapabilityVideoScript      Capability = "video_script"
	CapabilityAsoInsights      Capability = "aso_insights"
	CapabilityIdeaRefinement   Capability = "idea_refinement"
)

// Request represents a request to an AI provider
type Request struct {
	ID          string                 `json:"id"`
	Provider    Provider               `json:"provider"`
	Model       string                 `json:"model,omitempty"` // explicit model override
	Capability  Capability             `json:"capability"`
	Prompt      string                 `json:"prompt"`
	Language    string                 `json:"language,omitempty"` // target content language, default de
	Period      int                    `json:"period,omitempty"`   // 7 Cycles period 1..7
	Context     map[string]interface{} `json:"context,omitempty"`
	MaxTokens   int                    `json:"max_tokens,omitempty"`
	Temperature float32                `json:"temperature,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Response represents a response from an AI provider
type Response struct {
	ID        string        `json:"id"`
	Provider  Provider      `json:"provider"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Usage     *Usage        `json:"usage,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Cost returns the raw USD cost of the response based on usage
func (r *Response) Cost() float64 {
	if r.Usage != nil {
		return r.Usage.Cost
	}
	return 0.0
}

// Usage represents token/cost usage for an AI request
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Client interface that all AI providers must implement
type Client interface {
	// Generate generates content based on the request
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GetCapabilities returns the capabilities this provider supports
	GetCapabilities() []Capability

	// GetProvider returns the provider identifier
	GetProvider() Provider

	// Health checks if the provider is healthy
	Health(ctx context.Context) error

	// GetUsage returns usage statistics
	GetUsage() *ProviderUsage
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     Provider  `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	TotalCost    float64   `json:"total_cost"`
	AvgLatency   float64   `json:"avg_latency"`
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}

// RouterConfig configures how requests are routed to providers
type RouterConfig struct {
	// Preferred provider per capability
	DefaultProviders map[Capability]Provider `json:"default_providers"`

	// Fallback order when the primary provider fails
	FallbackOrder map[Provider][]Provider `json:"fallback_order"`

	// Rate limits per provider (requests per minute)
	RateLimits map[Provider]int `json:"rate_limits"`
}

// DefaultRouterConfig returns the routing configuration tuned for
// content generation: Anthropic leads on text, Gemini on analytics
// summarization where long context matters.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		DefaultProviders: map[Capability]Provider{
			CapabilityAffirmation:      ProviderAnthropic,
			CapabilityInstagramCaption: ProviderAnthropic,
			CapabilityHashtags:         ProviderGemini,
			CapabilityVisualPrompt:     ProviderOpenAI,
			CapabilityVideoScript:      ProviderAnthropic,
			CapabilityAsoInsights:      ProviderGemini,
			CapabilityIdeaRefinement:   ProviderAnthropic,
		},
		FallbackOrder: map[Provider][]Provider{
			ProviderAnthropic: {ProviderOpenAI, ProviderGemini},
			ProviderOpenAI:    {ProviderAnthropic, ProviderGemini},
			ProviderGemini:    {ProviderAnthropic, ProviderOpenAI},
		},
		RateLimits: map[Provider]int{
			ProviderAnthropic: 100,
			ProviderOpenAI:    80,
			ProviderGemini:    120,
		},
	}
}
