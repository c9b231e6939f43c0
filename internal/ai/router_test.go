package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scriptable provider for router tests.
type fakeClient struct {
	provider Provider
	content  string
	err      error
	calls    int
}

func (f *fakeClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Response{
		ID:        req.ID,
		Provider:  f.provider,
		Content:   f.content,
		Usage:     &Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, Cost: 0.001},
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeClient) GetCapabilities() []Capability { return nil }
func (f *fakeClient) GetProvider() Provider         { return f.provider }
func (f *fakeClient) Health(ctx context.Context) error {
	return nil
}
func (f *fakeClient) GetUsage() *ProviderUsage {
	return &ProviderUsage{Provider: f.provider, RequestCount: int64(f.calls)}
}

func testConfig() *RouterConfig {
	return &RouterConfig{
		DefaultProviders: map[Capability]Provider{
			CapabilityAffirmation: ProviderAnthropic,
		},
		FallbackOrder: map[Provider][]Provider{
			ProviderAnthropic: {ProviderOpenAI, ProviderGemini},
		},
		RateLimits: map[Provider]int{
			ProviderAnthropic: 600,
			ProviderOpenAI:    600,
			ProviderGemini:    600,
		},
	}
}

func TestRouterPrefersDefaultProvider(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, content: "Ich bin genug."}
	openai := &fakeClient{provider: ProviderOpenAI, content: "other"}

	r := NewRouter(testConfig(), anthropic, openai)
	defer r.Close()

	resp, err := r.Generate(context.Background(), &Request{Capability: CapabilityAffirmation, Prompt: "affirm"})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, resp.Provider)
	assert.Equal(t, "Ich bin genug.", resp.Content)
	assert.Equal(t, 0, openai.calls)
}

func TestRouterFallsBackOnError(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, err: errors.New("SERVICE_ERROR: down")}
	openai := &fakeClient{provider: ProviderOpenAI, content: "fallback content"}

	r := NewRouter(testConfig(), anthropic, openai)
	defer r.Close()

	resp, err := r.Generate(context.Background(), &Request{Capability: CapabilityAffirmation, Prompt: "affirm"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, 1, anthropic.calls)
}

func TestRouterAllProvidersFail(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, err: errors.New("down")}
	openai := &fakeClient{provider: ProviderOpenAI, err: errors.New("also down")}

	r := NewRouter(testConfig(), anthropic, openai)
	defer r.Close()

	_, err := r.Generate(context.Background(), &Request{Capability: CapabilityAffirmation})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestRouterExplicitProviderWins(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, content: "a"}
	openai := &fakeClient{provider: ProviderOpenAI, content: "o"}

	r := NewRouter(testConfig(), anthropic, openai)
	defer r.Close()

	resp, err := r.Generate(context.Background(), &Request{
		Capability: CapabilityAffirmation,
		Provider:   ProviderOpenAI,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, resp.Provider)
	assert.Equal(t, 0, anthropic.calls)
}

func TestRouterAssignsRequestID(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, content: "x"}

	r := NewRouter(testConfig(), anthropic)
	defer r.Close()

	resp, err := r.Generate(context.Background(), &Request{Capability: CapabilityAffirmation})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
}

func TestRouterUsageAggregation(t *testing.T) {
	anthropic := &fakeClient{provider: ProviderAnthropic, content: "x"}
	r := NewRouter(testConfig(), anthropic)
	defer r.Close()

	_, err := r.Generate(context.Background(), &Request{Capability: CapabilityAffirmation})
	require.NoError(t, err)

	total := r.GetTotalUsage()
	assert.Equal(t, int64(1), total.TotalRequests)
}
