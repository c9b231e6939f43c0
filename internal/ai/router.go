package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bxt-team/sevencycles/internal/logging"
)

// Router routes generation requests to the preferred provider per
// capability, falling back through the configured chain on errors,
// rate limits or failed health checks.
type Router struct {
	clients  map[Provider]Client
	config   *RouterConfig
	limiters map[Provider]*rate.Limiter
	mu       sync.RWMutex
	healthy  map[Provider]bool
	stop     chan struct{}
}

// NewRouter creates a router over the given clients. Nil clients are
// skipped so a deployment can run with a subset of providers.
func NewRouter(config *RouterConfig, clients ...Client) *Router {
	if config == nil {
		config = DefaultRouterConfig()
	}

	clientMap := make(map[Provider]Client)
	for _, c := range clients {
		if c != nil {
			clientMap[c.GetProvider()] = c
		}
	}

	limiters := make(map[Provider]*rate.Limiter)
	for provider, perMinute := range config.RateLimits {
		limiters[provider] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}

	r := &Router{
		clients:  clientMap,
		config:   config,
		limiters: limiters,
		healthy:  make(map[Provider]bool),
		stop:     make(chan struct{}),
	}

	// Assume healthy until the first check says otherwise.
	for provider := range clientMap {
		r.healthy[provider] = true
	}

	go r.monitorHealth()

	return r
}

// Generate routes a request through the provider chain.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Temperature == 0 {
		req.Temperature = 0.7
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	var lastErr error
	for _, provider := range r.providerChain(req) {
		client, ok := r.clients[provider]
		if !ok {
			continue
		}
		if !r.isHealthy(provider) {
			continue
		}
		if limiter, ok := r.limiters[provider]; ok && !limiter.Allow() {
			logging.S().Warnw("provider rate limited, trying next", "provider", provider)
			continue
		}

		resp, err := client.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logging.S().Warnw("provider failed, trying next",
			"provider", provider, "capability", req.Capability, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return nil, fmt.Errorf("no provider available for capability %s", req.Capability)
}

// providerChain returns the primary provider for the request followed
// by its fallbacks. An explicit request provider wins over defaults.
func (r *Router) providerChain(req *Request) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := req.Provider
	if primary == "" {
		primary = r.config.DefaultProviders[req.Capability]
	}
	if primary == "" {
		// No preference: any configured provider goes.
		chain := make([]Provider, 0, len(r.clients))
		for provider := range r.clients {
			chain = append(chain, provider)
		}
		return chain
	}

	chain := []Provider{primary}
	chain = append(chain, r.config.FallbackOrder[primary]...)
	return chain
}

func (r *Router) isHealthy(provider Provider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	healthy, ok := r.healthy[provider]
	return ok && healthy
}

// monitorHealth re-checks every provider on a fixed interval.
func (r *Router) monitorHealth() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.performHealthChecks()
		case <-r.stop:
			return
		}
	}
}

func (r *Router) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for provider, client := range r.clients {
		wg.Add(1)
		go func(p Provider, c Client) {
			defer wg.Done()

			healthy := true
			if err := c.Health(ctx); err != nil {
				logging.L().Warn("provider health check failed",
					zap.String("provider", string(p)), zap.Error(err))
				healthy = false
			}

			r.mu.Lock()
			r.healthy[p] = healthy
			r.mu.Unlock()
		}(provider, client)
	}
	wg.Wait()
}

// Close stops the health monitor.
func (r *Router) Close() {
	close(r.stop)
}

// GetProviderUsage returns usage statistics for all providers
func (r *Router) GetProviderUsage() map[Provider]*ProviderUsage {
	usage := make(map[Provider]*ProviderUsage)
	for provider, client := range r.clients {
		usage[provider] = client.GetUsage()
	}
	return usage
}

// TotalUsage represents aggregated usage across all providers
type TotalUsage struct {
	Providers     map[Provider]*ProviderUsage `json:"providers"`
	TotalRequests int64                       `json:"total_requests"`
	TotalTokens   int64                       `json:"total_tokens"`
	TotalCost     float64                     `json:"total_cost"`
	TotalErrors   int64                       `json:"total_errors"`
	AvgLatency    float64                     `json:"avg_latency"`
}

// GetTotalUsage returns aggregated usage statistics
func (r *Router) GetTotalUsage() *TotalUsage {
	totalUsage := &TotalUsage{
		Providers: make(map[Provider]*ProviderUsage),
	}

	for provider, client := range r.clients {
		usage := client.GetUsage()
		totalUsage.Providers[provider] = usage
		totalUsage.TotalRequests += usage.RequestCount
		totalUsage.TotalTokens += usage.TotalTokens
		totalUsage.TotalCost += usage.TotalCost
		totalUsage.TotalErrors += usage.ErrorCount
	}

	if totalUsage.TotalRequests > 0 {
		totalLatency := 0.0
		for _, usage := range totalUsage.Providers {
			totalLatency += usage.AvgLatency * float64(usage.RequestCount)
		}
		totalUsage.AvgLatency = totalLatency / float64(totalUsage.TotalRequests)
	}

	return totalUsage
}

// GetHealthStatus returns current health status of all providers
func (r *Router) GetHealthStatus() map[Provider]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[Provider]bool)
	for provider := range r.clients {
		status[provider] = r.healthy[provider]
	}
	return status
}
