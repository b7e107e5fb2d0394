// Package limiter provides token-bucket rate limiting for calls to external
// model APIs.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

// ErrRateLimit is returned when the bucket is empty.
var ErrRateLimit = fmt.Errorf("rate limit exceeded")

// Limiter is a token bucket refilled continuously at a per-minute rate. The
// bucket starts full.
type Limiter struct {
	mu         sync.Mutex
	perMinute  int
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New creates a limiter allowing perMinute calls per minute, with a burst of
// the same size.
func New(perMinute int) *Limiter {
	return &Limiter{
		perMinute:  perMinute,
		capacity:   float64(perMinute),
		tokens:     float64(perMinute),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Reserve takes one token, or returns ErrRateLimit when none are available.
func (l *Limiter) Reserve() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens < 1 {
		return ErrRateLimit
	}
	l.tokens--
	return nil
}

// Available reports how many calls could be made right now.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return int(l.tokens)
}

func (l *Limiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now
	l.tokens += elapsed.Minutes() * float64(l.perMinute)
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
}
