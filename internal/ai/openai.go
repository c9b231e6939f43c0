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

const defaultOpenAIModel = "gpt-4o"

// OpenAIClient implements the OpenAI chat and image APIs
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	usage      *ProviderUsage
	usageMu    sync.RWMutex
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openaiImageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality,omitempty"`
}

type openaiImageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		usage: &ProviderUsage{
			Provider: ProviderOpenAI,
			LastUsed: time.Now(),
		},
	}
}

// Generate implements the Client interface for OpenAI
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	model := defaultOpenAIModel
	if req.Model != "" {
		model = req.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens(req.Capability)
	}

	oaReq := &openaiRequest{
		Model: model,
		Messages: []openaiMessage{
			{Role: "system", Content: buildSystemPrompt(req.Capability, req.Language, req.Period)},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	resp, err := c.makeRequest(ctx, oaReq)
	if err != nil {
		c.incrementErrorCount()
		return nil, err
	}

	cost := pricing.Get().RawCost(string(ProviderOpenAI), model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.updateUsage(resp.Usage.TotalTokens, cost, time.Since(startTime))

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &Response{
		ID:       req.ID,
		Provider: ProviderOpenAI,
		Model:    model,
		Content:  content,
		Usage: &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			Cost:             cost,
		},
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}

// GenerateImage calls DALL-E and returns the hosted image URL. Size
// 1024x1792 fits the Instagram portrait crop best.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	imgReq := &openaiImageRequest{
		Model:   "dall-e-3",
		Prompt:  prompt,
		N:       1,
		Size:    "1024x1792",
		Quality: "standard",
	}

	jsonData, err := json.Marshal(imgReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/images/generations", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.incrementErrorCount()
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.incrementErrorCount()
		return "", c.statusError(resp.StatusCode, body)
	}

	var imgResp openaiImageResponse
	if err := json.Unmarshal(body, &imgResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if imgResp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", imgResp.Error.Message)
	}
	if len(imgResp.Data) == 0 {
		return "", fmt.Errorf("OpenAI returned no image data")
	}

	return imgResp.Data[0].URL, nil
}

func (c *OpenAIClient) makeRequest(ctx context.Context, req *openaiRequest) (*openaiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

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
		return nil, c.statusError(resp.StatusCode, body)
	}

	var oaResp openaiResponse
	if err := json.Unmarshal(body, &oaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if oaResp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", oaResp.Error.Message)
	}

	return &oaResp, nil
}

func (c *OpenAIClient) statusError(status int, body []byte) error {
	switch status {
	case 429:
		return fmt.Errorf("RATE_LIMIT: OpenAI API rate limit exceeded. Please wait before retrying")
	case 403:
		return fmt.Errorf("FORBIDDEN: OpenAI API access denied - check API key permissions")
	case 401:
		return fmt.Errorf("UNAUTHORIZED: Invalid OpenAI API key")
	case 402:
		return fmt.Errorf("QUOTA_EXCEEDED: OpenAI API quota exhausted. Add credits or use another provider")
	case 500, 502, 503, 504:
		return fmt.Errorf("SERVICE_ERROR: OpenAI service temporarily unavailable (status %d)", status)
	default:
		return fmt.Errorf("API_ERROR: OpenAI request failed with status %d: %s", status, string(body))
	}
}

// GetCapabilities returns capabilities OpenAI handles well
func (c *OpenAIClient) GetCapabilities() []Capability {
	return []Capability{
		CapabilityInstagramCaption,
		CapabilityHashtags,
		CapabilityVisualPrompt,
		CapabilityVideoScript,
		CapabilityIdeaRefinement,
	}
}

// GetProvider returns the provider identifier
func (c *OpenAIClient) GetProvider() Provider {
	return ProviderOpenAI
}

// Health checks if the OpenAI API is accessible
func (c *OpenAIClient) Health(ctx context.Context) error {
	testReq := &openaiRequest{
		Model: "gpt-4o-mini",
		Messages: []openaiMessage{
			{Role: "user", Content: "Hello"},
		},
		MaxTokens: 5,
	}

	_, err := c.makeRequest(ctx, testReq)
	return err
}

func (c *OpenAIClient) updateUsage(totalTokens int, cost float64, duration time.Duration) {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()

	c.usage.RequestCount++
	c.usage.TotalTokens += int64(totalTokens)
	c.usage.TotalCost += cost
	c.usage.AvgLatency = (c.usage.AvgLatency*float64(c.usage.RequestCount-1) + duration.Seconds()) / float64(c.usage.RequestCount)
	c.usage.LastUsed = time.Now()
}

func (c *OpenAIClient) incrementErrorCount() {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage.ErrorCount++
}

// GetUsage returns current usage statistics (thread-safe copy)
func (c *OpenAIClient) GetUsage() *ProviderUsage {
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
