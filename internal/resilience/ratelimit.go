package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"docgate/internal/metrics"
)

// Budget is a per-class token bucket: PerSecond sustained, Burst on top.
type Budget struct {
	PerSecond float64
	Burst     int
}

// Limiter holds one token bucket per resource class, e.g. "drive.read".
// Classes without a configured budget use the fallback.
type Limiter struct {
	fallback Budget

	mu       sync.Mutex
	budgets  map[string]Budget
	limiters map[string]*rate.Limiter
}

func NewLimiter(fallback Budget, budgets map[string]Budget) *Limiter {
	copied := make(map[string]Budget, len(budgets))
	for class, b := range budgets {
		copied[class] = b
	}
	return &Limiter{
		fallback: fallback,
		budgets:  copied,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) get(class string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[class]; ok {
		return lim
	}
	b, ok := l.budgets[class]
	if !ok {
		b = l.fallback
	}
	limit := rate.Limit(b.PerSecond)
	if b.PerSecond <= 0 {
		limit = rate.Inf
	}
	burst := b.Burst
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(limit, burst)
	l.limiters[class] = lim
	return lim
}

// Wait blocks until class has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, class string) error {
	start := time.Now()
	err := l.get(class).Wait(ctx)
	metrics.RateLimitWaits.WithLabelValues(class).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("rate limit %s: %w", class, err)
	}
	return nil
}

// Allow takes a token without waiting.
func (l *Limiter) Allow(class string) bool {
	return l.get(class).Allow()
}
