package channels

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// SendLimiter throttles posts from one agent so that a burst of replies
// does not trip the platform's rate limits. Safe for concurrent use.
type SendLimiter struct {
	lim *rate.Limiter
}

// NewSendLimiter allows perSecond sends with the given burst.
// A non-positive perSecond disables throttling.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 || math.IsInf(perSecond, 1) {
		limit = rate.Inf
	}
	return &SendLimiter{lim: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a send is permitted or ctx is done.
func (l *SendLimiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}
