package reputation

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter implements token bucket algorithm
type RateLimiter struct {
	tokens     chan struct{}
	quit       chan struct{}
	refillRate time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = rps
	}

	rl := &RateLimiter{
		tokens:     make(chan struct{}, burst),
		quit:       make(chan struct{}),
		refillRate: time.Second / time.Duration(rps),
	}

	// Fill initial tokens
	for i := 0; i < burst; i++ {
		select {
		case rl.tokens <- struct{}{}:
		default:
		}
	}

	go rl.refillTokens()

	return rl
}

// refillTokens refills the token bucket at the specified rate
func (rl *RateLimiter) refillTokens() {
	ticker := time.NewTicker(rl.refillRate)
	defer ticker.Stop()

	for {
		select {
		case <-rl.quit:
			return
		case <-ticker.C:
			select {
			case rl.tokens <- struct{}{}:
			default:
				// Bucket is full
			}
		}
	}
}

// Wait waits for a token to become available
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rl.tokens:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("rate limit timeout")
	}
}

// Close stops the rate limiter
func (rl *RateLimiter) Close() {
	close(rl.quit)
}
