package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     int
	capacity   int
	rate       int // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	now := time.Now()
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		rate:       rate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.lastUsed = now
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds() * float64(tb.rate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// RateLimiter gates relay admissions globally and per source IP.
// A zero rate disables the corresponding limit.
type RateLimiter struct {
	mu        sync.Mutex
	global    *TokenBucket
	perIP     map[string]*TokenBucket
	perIPRate int
	burstSize int
}

// NewRateLimiter creates a limiter allowing globalRate admissions/s overall and
// perIPRate admissions/s for each source IP, each with the given burst.
func NewRateLimiter(globalRate, perIPRate, burstSize int) *RateLimiter {
	rl := &RateLimiter{
		perIP:     make(map[string]*TokenBucket),
		perIPRate: perIPRate,
		burstSize: burstSize,
	}
	if globalRate > 0 {
		rl.global = NewTokenBucket(globalRate, burstSize)
	}
	return rl
}

// Enabled reports whether any limit is configured.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && (rl.global != nil || rl.perIPRate > 0)
}

// AllowConnection checks whether a new connection from ip may be admitted.
func (rl *RateLimiter) AllowConnection(ip string) bool {
	if rl == nil {
		return true
	}
	if rl.global != nil && !rl.global.Allow() {
		return false
	}
	if rl.perIPRate > 0 {
		rl.mu.Lock()
		bucket, exists := rl.perIP[ip]
		if !exists {
			bucket = NewTokenBucket(rl.perIPRate, rl.burstSize)
			rl.perIP[ip] = bucket
		}
		rl.mu.Unlock()

		if !bucket.Allow() {
			return false
		}
	}
	return true
}

// Sweep drops per-IP buckets that have not been used for maxIdle and returns
// how many were removed.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) int {
	if rl == nil {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, bucket := range rl.perIP {
		if bucket.idleSince().Before(cutoff) {
			delete(rl.perIP, ip)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of per-IP buckets.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.perIP)
}
