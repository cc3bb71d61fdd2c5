package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contentive/orchestrator/internal/circuitbreaker"
	"github.com/contentive/orchestrator/internal/metrics"
	"github.com/contentive/orchestrator/internal/models"
)

// TierConfig maps a model tier to a concrete provider, model, and sampling
// configuration.
type TierConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	QPS         float64       `mapstructure:"qps"`
}

// DefaultTimeout bounds a single model invocation when the tier does not
// configure its own.
const DefaultTimeout = 30 * time.Second

// Invocation is one attempt's worth of work handed to the client.
type Invocation struct {
	Tier      string
	System    string
	User      string
	MaxTokens int
}

// Client routes invocations by tier and wraps every provider call with rate
// limiting, a circuit breaker, and a per-call timeout.
type Client struct {
	tiers     map[string]TierConfig
	providers map[string]Provider
	breakers  map[string]*circuitbreaker.Breaker
	limiters  map[string]*rate.Limiter
	logger    *zap.Logger
}

// NewClient wires tiers to registered providers. Every tier must name a
// registered provider; a dangling tier is a configuration error.
func NewClient(tiers map[string]TierConfig, providers []Provider, breakerCfg circuitbreaker.Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		tiers:     tiers,
		providers: make(map[string]Provider, len(providers)),
		breakers:  make(map[string]*circuitbreaker.Breaker, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		logger:    logger,
	}
	for _, p := range providers {
		c.providers[p.Name()] = p
		c.breakers[p.Name()] = circuitbreaker.New(p.Name(), breakerCfg, logger)
	}

	for tier, cfg := range tiers {
		if _, ok := c.providers[cfg.Provider]; !ok {
			return nil, &models.Error{
				Kind:    models.KindProviderError,
				Message: "tier " + tier + " routes to unregistered provider " + cfg.Provider,
			}
		}
		qps := cfg.QPS
		if qps <= 0 {
			qps = 10
		}
		if _, ok := c.limiters[cfg.Provider]; !ok {
			c.limiters[cfg.Provider] = rate.NewLimiter(rate.Limit(qps), int(qps)+1)
		}
	}
	return c, nil
}

// Invoke performs one model call on the given tier. The call runs on a
// detached context with its own timeout: cancelling the caller's context does
// not abort an in-flight invocation, so its token usage is always observable.
func (c *Client) Invoke(ctx context.Context, inv *Invocation) (*Response, *models.Error) {
	cfg, ok := c.tiers[inv.Tier]
	if !ok {
		return nil, models.Errorf(models.KindProviderError, "no provider configured for tier %q", inv.Tier)
	}
	provider := c.providers[cfg.Provider]

	if limiter := c.limiters[cfg.Provider]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, models.Errorf(models.KindTimeout, "rate limit wait aborted: %v", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	req := &Request{
		System:      inv.System,
		User:        inv.User,
		Model:       cfg.Model,
		MaxTokens:   inv.MaxTokens,
		Temperature: cfg.Temperature,
	}

	start := time.Now()
	var resp *Response
	err := c.breakers[cfg.Provider].Execute(callCtx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = provider.Complete(ctx, req)
		return callErr
	})
	elapsed := time.Since(start)
	metrics.ModelInvocationLatency.WithLabelValues(cfg.Provider).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		metrics.ModelInvocations.WithLabelValues(cfg.Provider, cfg.Model, "error").Inc()
		mErr := classify(err, cfg.Provider)
		c.logger.Warn("model invocation failed",
			zap.String("provider", cfg.Provider),
			zap.String("model", cfg.Model),
			zap.String("kind", string(mErr.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, mErr
	}

	metrics.ModelInvocations.WithLabelValues(cfg.Provider, cfg.Model, "success").Inc()
	metrics.TokensConsumed.WithLabelValues("input").Add(float64(resp.InputTokens))
	metrics.TokensConsumed.WithLabelValues("output").Add(float64(resp.OutputTokens))
	return resp, nil
}

// ProviderFor reports which provider and model a tier routes to.
func (c *Client) ProviderFor(tier string) (provider, model string, ok bool) {
	cfg, found := c.tiers[tier]
	if !found {
		return "", "", false
	}
	return cfg.Provider, cfg.Model, true
}

// classify folds SDK and transport errors into the engine taxonomy. Timeouts
// and upstream overload (5xx, 429) are retryable; everything else is a
// terminal provider error.
func classify(err error, provider string) *models.Error {
	var mErr *models.Error
	if errors.As(err, &mErr) {
		return mErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.Errorf(models.KindTimeout, "%s invocation timed out", provider)
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.Errorf(models.KindProviderError, "%s circuit breaker open", provider)
	}

	if status, found := statusCode(err); found {
		if status >= 500 || status == 429 {
			return models.Errorf(models.KindProviderError, "%s returned status %d", provider, status)
		}
		e := models.Errorf(models.KindProviderError, "%s rejected the request with status %d", provider, status)
		e.Retryable = false
		return e
	}

	return models.Errorf(models.KindProviderError, "%s invocation failed: %v", provider, err)
}

func statusCode(err error) (int, bool) {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode, true
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode, true
	}
	return 0, false
}
