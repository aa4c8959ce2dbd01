// Package ratelimit spaces outgoing World Bank API requests.
//
// The API publishes no rate-limit headers, so the exporter keeps a fixed
// minimum interval between requests. Two implementations exist: an
// in-process token bucket and a Redis-backed limiter that coordinates the
// interval across every exporter process sharing the same Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultInterval is the spacing used when none is configured.
const DefaultInterval = 200 * time.Millisecond

// Prometheus metrics for rate limiting.
var (
	rateLimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_rate_limit_waits_total",
		Help: "Total number of rate limiter waits by limiter kind",
	}, []string{"limiter"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wb_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request slot by limiter kind",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
	}, []string{"limiter"})
)

// Limiter blocks until the next request may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// IntervalLimiter is an in-process token bucket with burst 1.
type IntervalLimiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewInterval returns a limiter that allows one request per interval.
// A non-positive interval disables limiting.
func NewInterval(interval time.Duration) *IntervalLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalLimiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *IntervalLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	observeWait("interval", time.Since(start))
	return nil
}

// Interval returns the configured spacing.
func (l *IntervalLimiter) Interval() time.Duration {
	return l.interval
}

func observeWait(kind string, d time.Duration) {
	rateLimitWaitsTotal.WithLabelValues(kind).Inc()
	rateLimitWaitSeconds.WithLabelValues(kind).Observe(d.Seconds())
}
