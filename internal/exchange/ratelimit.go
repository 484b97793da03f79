// ratelimit.go groups token-bucket limiters by endpoint category.
//
// The venue enforces one request budget per API key. Reads, placements and
// cancels get separate buckets at the same rate so a long placement run
// cannot starve the cancels of a withdraw.
package exchange

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimiter groups limiters by endpoint category. Each call must Wait on
// the matching bucket before making the HTTP request.
type RateLimiter struct {
	Read   *rate.Limiter // GET: book, balance, exposure, scores
	Order  *rate.Limiter // POST /markets/{id}/orders
	Cancel *rate.Limiter // DELETE /markets/{id}/orders
}

// NewRateLimiter creates limiters refilling at perSecond with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		Read:   rate.NewLimiter(rate.Limit(perSecond), burst),
		Order:  rate.NewLimiter(rate.Limit(perSecond), burst),
		Cancel: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Unlimited returns limiters that never block.
func Unlimited() *RateLimiter {
	return &RateLimiter{
		Read:   rate.NewLimiter(rate.Inf, 1),
		Order:  rate.NewLimiter(rate.Inf, 1),
		Cancel: rate.NewLimiter(rate.Inf, 1),
	}
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
