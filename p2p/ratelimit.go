package p2p

import (
	"sync"
	"time"
)

// Default per-peer inbound gossip rate limit, grounded in the token-bucket
// pattern used for block/tx gossip rate limiting in paw-chain/paw's
// GossipProtocol.
const (
	gossipRateLimit = 50 // messages/sec
	gossipRateBurst = gossipRateLimit * 2
)

// tokenBucket is a simple thread-safe token bucket, refilled by elapsed
// wall-clock time rather than a background goroutine.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	lastFill time.Time
}

func newTokenBucket(rate, capacity int) *tokenBucket {
	return &tokenBucket{
		rate:     float64(rate),
		capacity: float64(capacity),
		tokens:   float64(capacity),
		lastFill: time.Now(),
	}
}

// Allow reports whether an action is permitted right now, consuming one
// token if so.
func (tb *tokenBucket) Allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := now.Sub(tb.lastFill).Seconds()
	if elapsed > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.rate)
		tb.lastFill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--

		return true
	}

	return false
}
