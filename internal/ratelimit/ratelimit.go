// Package ratelimit provides the per-client request limiters used by the
// HTTP middleware.
//
// TWO IMPLEMENTATIONS:
//   - Memory: a token bucket per client, held in process. Right for a
//     single instance.
//   - Redis: a fixed window counter shared by every instance behind a load
//     balancer.
//
// Both allow RATE_LIMIT_MAX requests per RATE_LIMIT_WINDOW per key.
package ratelimit

import "context"

// Limiter decides whether the client identified by key may make one more
// request. An error means the limiter itself failed; callers decide whether
// to fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
