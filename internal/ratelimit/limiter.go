// Package ratelimit paces outgoing RPC calls so that hosted node endpoints
// with request quotas are not tripped by bursts.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket: up to burst calls may go out back to back, after
// which permits are issued at the configured rate.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a new Limiter with the specified rate (requests per second)
// and burst size. A non-positive rate defaults to 1/s and a non-positive
// burst to 1.
func New(ratePerSec float64, burst int) *Limiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{lim: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a permit is available or the context is cancelled.
// A cancelled wait gives its reservation back to the bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Rate returns the permit rate in requests per second.
func (l *Limiter) Rate() float64 {
	return float64(l.lim.Limit())
}

// Burst returns the bucket size.
func (l *Limiter) Burst() int {
	return l.lim.Burst()
}
