// Package pricing converts raw AI provider cost into platform credits.
//
// Formula:
//
//	Credits = ceil(max(RawCost × margin, RawCost) / creditUnitUSD)
//
// Where:
//   - RawCost = actual API cost for the model based on token usage
//   - margin = our markup (default 1.5 = 50%), via SEVENCYCLES_MARGIN
//   - creditUnitUSD = USD value of one credit (default $0.01)
//
// No-loss guarantee: billed value never drops below RawCost even if
// env overrides set the margin below 1.0 by mistake. Every AI call
// costs at least one credit.
package pricing

import (
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ModelPricing defines per-1M token pricing for a model.
// These MUST match the actual API pricing from each provider.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// ProviderPricing groups model pricing for a provider.
type ProviderPricing struct {
	Default ModelPricing
	Models  map[string]ModelPricing
}

// Engine computes raw cost, credit cost and token estimates.
type Engine struct {
	providers            map[string]ProviderPricing
	margin               float64 // markup on top of raw API cost (1.5 = 50%)
	creditUnitUSD        float64 // USD value of one credit
	videoFlatCredits     int64   // flat rate per video generation
	defaultMaxTokensHint int
}

var (
	defaultEngine *Engine
	engineOnce    sync.Once
)

// Get returns a singleton pricing engine initialized from environment.
func Get() *Engine {
	engineOnce.Do(func() {
		defaultEngine = newEngineFromEnv()
	})
	return defaultEngine
}

func newEngineFromEnv() *Engine {
	engine := &Engine{
		// Actual API pricing per provider/model (what they charge us
		// per 1M tokens). Keep in sync with published pricing.
		providers: map[string]ProviderPricing{
			"anthropic": {
				Default: ModelPricing{InputPer1M: 3.00, OutputPer1M: 15.00},
				Models: map[string]ModelPricing{
					"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
					"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
				},
			},
			"openai": {
				Default: ModelPricing{InputPer1M: 2.50, OutputPer1M: 10.00},
				Models: map[string]ModelPricing{
					"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
					"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
					"dall-e-3":    {InputPer1M: 0.0, OutputPer1M: 0.0}, // flat per image
				},
			},
			"gemini": {
				Default: ModelPricing{InputPer1M: 0.50, OutputPer1M: 1.50},
				Models: map[string]ModelPricing{
					"gemini-2.0-flash":      {InputPer1M: 0.10, OutputPer1M: 0.40},
					"gemini-1.5-pro":        {InputPer1M: 1.25, OutputPer1M: 5.00},
					"gemini-1.5-flash":      {InputPer1M: 0.075, OutputPer1M: 0.30},
				},
			},
		},

		// 1.5 = 50% markup on raw API cost.
		margin: 1.50,

		// One credit is worth one cent by default.
		creditUnitUSD: 0.01,

		videoFlatCredits:     50,
		defaultMaxTokensHint: 2000,
	}

	// Environment overrides, change pricing without redeploying.
	engine.margin = getEnvFloat("SEVENCYCLES_MARGIN", engine.margin)
	engine.creditUnitUSD = getEnvFloat("SEVENCYCLES_CREDIT_UNIT_USD", engine.creditUnitUSD)
	if v := getEnvFloat("SEVENCYCLES_VIDEO_CREDITS", float64(engine.videoFlatCredits)); v > 0 {
		engine.videoFlatCredits = int64(v)
	}

	return engine
}

// RawCost returns the actual API cost (USD) for a call.
func (e *Engine) RawCost(provider, model string, inputTokens, outputTokens int) float64 {
	pricing := e.modelPricing(provider, model)
	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPer1M
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPer1M
	return roundUSD(inputCost + outputCost)
}

// CreditCost converts a call into platform credits, applying the
// margin and the no-loss floor. Non-zero cost always bills at least
// one credit.
func (e *Engine) CreditCost(provider, model string, inputTokens, outputTokens int) int64 {
	rawCost := e.RawCost(provider, model, inputTokens, outputTokens)
	if rawCost == 0 {
		return 0
	}

	billed := rawCost * e.margin
	if billed < rawCost {
		billed = rawCost
	}

	credits := int64(math.Ceil(billed / e.creditUnitUSD))
	if credits < 1 {
		credits = 1
	}
	return credits
}

// EstimateCredits returns a conservative credit estimate used to size
// the reservation before a workflow run.
func (e *Engine) EstimateCredits(provider, model string, promptChars, maxTokens int) int64 {
	if maxTokens <= 0 {
		maxTokens = e.defaultMaxTokensHint
	}
	inputTokens := e.estimateInputTokens(promptChars)
	credits := e.CreditCost(provider, model, inputTokens, maxTokens)
	if credits < 1 {
		credits = 1
	}
	return credits
}

// VideoCredits returns the flat credit rate for one video generation.
// Video providers bill per clip, not per token.
func (e *Engine) VideoCredits() int64 {
	return e.videoFlatCredits
}

// Margin returns the current markup multiplier.
func (e *Engine) Margin() float64 {
	return e.margin
}

func (e *Engine) modelPricing(provider, model string) ModelPricing {
	providerKey := normalizeProvider(provider)
	pp, ok := e.providers[providerKey]
	if !ok {
		return ModelPricing{}
	}
	if model != "" {
		if mp, ok := pp.Models[model]; ok {
			return mp
		}
	}
	return pp.Default
}

func (e *Engine) estimateInputTokens(promptChars int) int {
	if promptChars <= 0 {
		return 0
	}
	// Conservative heuristic: ~3 chars/token with a 15% buffer + small constant.
	base := int(math.Ceil(float64(promptChars) / 3.0))
	adjusted := int(math.Ceil(float64(base) * 1.15))
	return adjusted + 32
}

func normalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case "claude":
		return "anthropic"
	case "gpt4", "gpt-4":
		return "openai"
	case "google":
		return "gemini"
	default:
		return p
	}
}

func getEnvFloat(key string, fallback float64) float64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(val, 64); err == nil {
		return parsed
	}
	return fallback
}

func roundUSD(value float64) float64 {
	if value == 0 {
		return 0
	}
	return math.Round(value*1_000_000) / 1_000_000
}
