package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bxt-team/sevencycles/internal/pricing"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient implements the Anthropic messages API client
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex // Protects usage statistics
}

// Anthropic API request/response structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float32            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicClient creates a new Anthropic API client
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderAnthropic,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the Client interface for Anthropic
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := defaultAnthropicModel
	if req.Model != "" {
		model = req.Model
	}

	anthropicReq := &anthropicRequest{
		Model:     model,
		MaxTokens: c.getMaxTokens(req),
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: req.Prompt,
			},
		},
		Temperature: req.Temperature,
		System:      buildSystemPrompt(req.Capability, req.Language, req.Period),
	}

	resp, err := c.makeRequest(ctx, anthropicReq)
	if err != nil {
		c.incrementErrorCount()
		return nil, err
	}

	cost := pricing.Get().RawCost(string(ProviderAnthropic), model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	c.updateUsage(resp.Usage.InputTokens+resp.Usage.OutputTokens, cost, time.Since(startTime))

	content := ""
	if len(resp.Content) > 0 && resp.Content[0].Type == "text" {
		content = resp.Content[0].Text
	}

	return &Response{
		ID:       req.ID,
		Provider: ProviderAnthropic,
		Model:    model,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// makeRequest sends HTTP request to the Anthropic API
func (c *AnthropicClient) makeRequest(ctx context.Context, req *anthropicRequest) (*anthropicResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case 429:
			return nil, fmt.Errorf("RATE_LIMIT: Anthropic API rate limit exceeded. Please wait before retrying")
		case 403:
			return nil, fmt.Errorf("FORBIDDEN: Anthropic API access denied - check API key permissions")
		case 401:
			return nil, fmt.Errorf("UNAUTHORIZED: Invalid Anthropic API key")
		case 402:
			return nil, fmt.Errorf("QUOTA_EXCEEDED: Anthropic API quota exhausted. Add credits or use another provider")
		case 500, 502, 503, 504, 529:
			return nil, fmt.Errorf("SERVICE_ERROR: Anthropic service temporarily unavailable (status %d)", resp.StatusCode)
		default:
			return nil, fmt.Errorf("API_ERROR: Anthropic request failed with status %d: %s", resp.StatusCode, string(body))
		}
	}

	var anthResp anthropicResponse
	if err := json.Unmarshal(body, &anthResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if anthResp.Error != nil {
		return nil, fmt.Errorf("Anthropic API error: %s", anthResp.Error.Message)
	}

	return &anthResp, nil
}

// GetCapabilities returns capabilities Anthropic handles well
func (c *AnthropicClient) GetCapabilities() []Capability {
	return []Capability{
		CapabilityAffirmation,
		CapabilityInstagramCaption,
		CapabilityHashtags,
		CapabilityVideoScript,
		CapabilityIdeaRefinement,
		CapabilityAsoInsights,
	}
}

// GetProvider returns the provider identifier
func (c *AnthropicClient) GetProvider() Provider {
	return ProviderAnthropic
}

// Health checks if the Anthropic API is accessible
func (c *AnthropicClient) Health(ctx context.Context) error {
	testReq := &anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 5,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: "Hello",
			},
		},
	}

	_, err := c.makeRequest(ctx, testReq)
	return err
}

// getMaxTokens determines appropriate max tokens based on request
func (c *AnthropicClient) getMaxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens(req.Capability)
}

// updateUsage updates internal usage statistics (thread-safe)
func (c *AnthropicClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	c.usage.RequestCount++
	c.usage.TotalTokens += int64(totalTokens)
	c.usage.TotalCost += cost
	c.usage.AvgLatency = (c.usage.AvgLatency*float64(c.usage.RequestCount-1) + duration.Seconds()) / float64(c.usage.RequestCount)
	c.usage.LastUsed = time.Now()
}

func (c *AnthropicClient) incrementErrorCount() {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (c *AnthropicClient) GetUsage() *ProviderUsage {
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
