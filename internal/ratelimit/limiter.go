package ratelimit

import "context"

// RateLimiter throttles outbound webhook traffic per endpoint. Keys are
// endpoint IDs so one slow receiver cannot starve the others.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}

// Unlimited is a no-op limiter for deployments without Redis and for tests.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(context.Context, string) error { return nil }
