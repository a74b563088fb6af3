package enhance

import (
	"context"
	"log"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/kerbrat/veilleur/models"
)

const (
	defaultMaxAttempts = 3
	defaultWaitBudget  = 2 * time.Second
	backoffBase        = 500 * time.Millisecond
)

// ChainProvider pairs a Provider with its token-bucket rate limiter.
type ChainProvider struct {
	Provider Provider
	Limiter  *rate.Limiter
}

// Chain walks an ordered list of AI providers and guarantees a
// best-effort answer: transient failures are retried with backoff,
// permanent failures skip to the next provider, and the deterministic
// heuristic terminates the chain, so Score and Expand never return an
// error to the caller.
type Chain struct {
	providers   []ChainProvider
	fallback    Provider
	maxAttempts int
	waitBudget  time.Duration
}

func NewChain(providers ...ChainProvider) *Chain {
	return &Chain{
		providers:   providers,
		fallback:    &Heuristic{},
		maxAttempts: defaultMaxAttempts,
		waitBudget:  defaultWaitBudget,
	}
}

// Score rates the item against the keywords using the first provider
// that answers, and reports which provider that was.
func (c *Chain) Score(ctx context.Context, item models.Item, keywords []string) (int, string) {
	for _, cp := range c.providers {
		score, err := attempt(ctx, c, cp, func(ctx context.Context) (int, error) {
			return cp.Provider.Score(ctx, item, keywords)
		})
		if err == nil {
			return score, cp.Provider.Name()
		}
		log.Printf("WARN (Chain): Provider %s failed to score, trying next: %v", cp.Provider.Name(), err)
	}

	score, _ := c.fallback.Score(ctx, item, keywords)
	return score, c.fallback.Name()
}

// Expand suggests additional search terms using the first provider
// that answers, and reports which provider that was.
func (c *Chain) Expand(ctx context.Context, keywords []string) ([]string, string) {
	for _, cp := range c.providers {
		terms, err := attempt(ctx, c, cp, func(ctx context.Context) ([]string, error) {
			return cp.Provider.Expand(ctx, keywords)
		})
		if err == nil {
			return terms, cp.Provider.Name()
		}
		log.Printf("WARN (Chain): Provider %s failed to expand, trying next: %v", cp.Provider.Name(), err)
	}

	terms, _ := c.fallback.Expand(ctx, keywords)
	return terms, c.fallback.Name()
}

// waitForToken blocks on the provider's token bucket. A bucket that
// cannot refill within the wait budget skips the provider for this
// call rather than stalling the run.
func waitForToken(ctx context.Context, cp ChainProvider, budget time.Duration) error {
	if cp.Limiter == nil {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return cp.Limiter.Wait(waitCtx)
}

// attempt runs one provider call through its rate limiter and the
// chain's retry policy.
func attempt[T any](ctx context.Context, c *Chain, cp ChainProvider, call func(context.Context) (T, error)) (T, error) {
	var zero T

	if err := waitForToken(ctx, cp, c.waitBudget); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt)):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := call(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// backoffDelay returns the exponential backoff for the given attempt
// with up to 25% jitter.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay) / 4))
	return delay + jitter
}
