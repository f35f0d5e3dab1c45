// Package decision invokes external reasoning providers to obtain agent
// decisions. It routes logical model tags to providers, classifies failures,
// retries the transient ones and normalizes the returned decision payload.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"
)

const (
	// DefaultAttemptTimeout bounds a single provider attempt.
	DefaultAttemptTimeout = 5 * time.Minute
	// DefaultMaxTokens is used when InvokeOptions.MaxTokens is zero.
	DefaultMaxTokens = 1024
)

// Backoff computes the delay before a retry using exponential backoff with
// full jitter.
type Backoff struct {
	// Base is the delay ceiling for the first retry.
	Base time.Duration
	// Max caps the delay ceiling.
	Max time.Duration
	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n int64) int64
}

// DefaultBackoff returns the standard retry curve.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 20 * time.Second}
}

// Delay returns the wait before retry number retry (1-indexed).
func (b Backoff) Delay(retry int) time.Duration {
	if b.Base <= 0 || retry < 1 {
		return 0
	}
	ceiling := b.Base
	for i := 1; i < retry; i++ {
		ceiling *= 2
		if b.Max > 0 && ceiling >= b.Max {
			ceiling = b.Max
			break
		}
	}
	if b.Max > 0 && ceiling > b.Max {
		ceiling = b.Max
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}
	return time.Duration(jitter(int64(ceiling) + 1))
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Routes maps model tags to providers. Defaults to DefaultRoutes().
	Routes RouteTable
	// Providers are the registered backends, keyed by Name().
	Providers []Provider
	// AttemptTimeout bounds each attempt. Defaults to DefaultAttemptTimeout.
	AttemptTimeout time.Duration
	// Backoff is the retry delay curve. A zero Backoff retries immediately.
	Backoff Backoff
}

// Client invokes reasoning providers with retry and error classification.
// It holds no per-call state and is safe for concurrent use.
type Client struct {
	routes         RouteTable
	providers      map[string]Provider
	attemptTimeout time.Duration
	backoff        Backoff
	tracker        *TokenTracker
}

// NewClient creates a Client from cfg.
func NewClient(cfg ClientConfig) (*Client, error) {
	routes := cfg.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}

	providers := make(map[string]Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p == nil {
			continue
		}
		if _, dup := providers[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		providers[p.Name()] = p
	}

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	return &Client{
		routes:         routes,
		providers:      providers,
		attemptTimeout: timeout,
		backoff:        cfg.Backoff,
		tracker:        NewTokenTracker(),
	}, nil
}

// Tracker returns the token tracker for this client.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// Routes returns the client's routing table.
func (c *Client) Routes() RouteTable {
	return c.routes
}

// ValidateModel checks that tag routes to a registered provider.
func (c *Client) ValidateModel(tag string) error {
	route, err := c.routes.Lookup(tag)
	if err != nil {
		return err
	}
	if _, ok := c.providers[route.Provider]; !ok {
		return fmt.Errorf("%w: %q (model %q)", ErrUnknownProvider, route.Provider, tag)
	}
	return nil
}

// InvokeModel resolves tag through the routing table and calls Invoke.
func (c *Client) InvokeModel(ctx context.Context, tag string, req Request, opts InvokeOptions) (*Result, error) {
	route, err := c.routes.Lookup(tag)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, route.Provider, route.ModelID, req, opts)
}

// Invoke sends req to the named provider. RATE_LIMIT and PROVIDER_ERROR
// failures are retried up to opts.MaxRetries times; every other failure is
// returned immediately. The returned error is a *ProviderError unless the
// provider is unknown or ctx was canceled.
func (c *Client) Invoke(ctx context.Context, provider, modelID string, req Request, opts InvokeOptions) (*Result, error) {
	p, ok := c.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	call := Call{
		ModelID:   modelID,
		Request:   req,
		JSONMode:  opts.JSONMode,
		MaxTokens: maxTokens,
	}

	var lastErr *ProviderError
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt)
			log.Printf("[decision] %s/%s: retry %d/%d after %s (%s)",
				provider, modelID, attempt, maxRetries, delay, lastErr.Kind)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		res, err := c.attempt(ctx, p, call)
		if err == nil {
			c.tracker.Add(res.InputTokens, res.OutputTokens)
			return res, nil
		}

		// The caller gave up; do not classify or retry.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if !err.Kind.Retryable() {
			return nil, err
		}
	}

	return nil, lastErr
}

// attempt performs one provider call under the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, p Provider, call Call) (*Result, *ProviderError) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := p.Complete(attemptCtx, call)
	if err != nil {
		return nil, asProviderError(p.Name(), attemptCtx, err)
	}
	if res == nil {
		return nil, &ProviderError{Kind: KindProviderError, Message: "empty response", Provider: p.Name()}
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConfigError reports whether err is a configuration problem rather than
// an upstream failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownModel) || errors.Is(err, ErrUnknownProvider)
}
