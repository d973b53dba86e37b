package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out provider calls. Wait blocks until the next send slot or
// until ctx is cancelled, which makes it a cancellation checkpoint for the
// dispatch loop.
type Pacer interface {
	Wait(ctx context.Context) error
}

// IntervalPacer enforces a fixed minimum delay between sends. Pacing respects
// provider rate limits; it is throughput shaping, not a correctness guard.
type IntervalPacer struct {
	limiter *rate.Limiter
}

// NewIntervalPacer builds a pacer allowing one send per interval, with a
// burst of one so the first send is never delayed. A non-positive interval
// disables pacing.
func NewIntervalPacer(interval time.Duration) *IntervalPacer {
	if interval <= 0 {
		return &IntervalPacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &IntervalPacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *IntervalPacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return p.limiter.Wait(ctx)
}
