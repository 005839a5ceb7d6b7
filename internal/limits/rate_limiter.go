// Package limits implements the admission-control and rate-limiting
// primitives that protect duelcore from a single abusive or buggy peer.
package limits

import (
	"sync"
	"time"
)

// TokenBucket is a classic token-bucket rate limiter: a burst capacity
// that refills at a steady rate. Allows a legitimate burst (a player
// rapid-firing a few actions) while capping the sustained rate.
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a bucket with the given burst capacity and
// sustained refill rate (tokens/second).
func NewTokenBucket(maxTokens, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// TryConsume attempts to take n tokens. Returns false if the bucket
// doesn't have enough, in which case no tokens are deducted.
func (tb *TokenBucket) TryConsume(n float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

// RemainingBudget consumes as many tokens as are available, up to n,
// and returns how many were actually granted: a partial grant instead
// of TryConsume's all-or-nothing rejection.
func (tb *TokenBucket) RemainingBudget(n float64) float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefill = now

	grant := n
	if grant > tb.tokens {
		grant = tb.tokens
	}
	tb.tokens -= grant
	return grant
}

// RateLimiter tracks one TokenBucket per client, keyed by an opaque
// session id. Per-client (not global) so one abusive peer cannot
// starve the rest.
type RateLimiter struct {
	clients sync.Map // map[int64]*TokenBucket

	burst float64
	rate  float64
}

// NewRateLimiter builds a limiter with the given burst/sustained-rate
// defaults, applied lazily to each new client on first use.
func NewRateLimiter(burst, rate float64) *RateLimiter {
	return &RateLimiter{burst: burst, rate: rate}
}

// CheckLimit reports whether the client may send one more message.
func (rl *RateLimiter) CheckLimit(clientID int64) bool {
	bucket, _ := rl.clients.LoadOrStore(clientID, NewTokenBucket(rl.burst, rl.rate))
	return bucket.(*TokenBucket).TryConsume(1)
}

// RemoveClient releases a client's bucket on disconnect, so long-lived
// servers don't accumulate one bucket per connection ever made.
func (rl *RateLimiter) RemoveClient(clientID int64) {
	rl.clients.Delete(clientID)
}
