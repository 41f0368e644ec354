package core

import (
	"math"
	"time"
)

// epsilon absorbs float rounding in refill arithmetic so that, for example,
// 720s at 5 tokens/hour yields a whole token.
const epsilon = 1e-9

// TokenBucket implements the token bucket rate limiting algorithm
type TokenBucket struct {
	config Config
}

// NewTokenBucket creates a new token bucket with the given configuration
func NewTokenBucket(config Config) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TokenBucket{config: config}, nil
}

// Config returns the policy the bucket was built with.
func (tb *TokenBucket) Config() Config {
	return tb.config
}

// IsAllowed decides whether one unit of work may proceed at now.
// A nil entry is a key that has never been observed. The input entry is never
// modified; the returned entry is the state to persist.
func (tb *TokenBucket) IsAllowed(entry *Entry, now time.Time) (Entry, bool) {
	capacity := float64(tb.config.MaxTokens)

	if entry == nil {
		return Entry{Tokens: capacity - 1, LastRefill: now}, true
	}

	next := Entry{Tokens: clamp(entry.Tokens, capacity), LastRefill: entry.LastRefill}

	// Clock regression across callers adds nothing and keeps LastRefill monotonic
	if elapsed := now.Sub(entry.LastRefill).Seconds(); elapsed > 0 {
		next.Tokens = math.Min(capacity, next.Tokens+elapsed*tb.config.RefillRate)
		next.LastRefill = now
	}

	if next.Tokens+epsilon >= 1 {
		next.Tokens = math.Max(0, next.Tokens-1)
		return next, true
	}
	return next, false
}

// Remaining returns floor(tokens) for an observed key and MaxTokens otherwise.
func (tb *TokenBucket) Remaining(entry *Entry) int {
	if entry == nil {
		return tb.config.MaxTokens
	}
	return int(math.Floor(clamp(entry.Tokens, float64(tb.config.MaxTokens)) + epsilon))
}

// Check runs IsAllowed and packages the outcome as a Result.
func (tb *TokenBucket) Check(entry *Entry, now time.Time) (Entry, Result) {
	next, allowed := tb.IsAllowed(entry, now)
	result := Result{
		Allowed:   allowed,
		Remaining: tb.Remaining(&next),
		Limit:     tb.config.MaxTokens,
	}
	if !allowed {
		result.RetryAfter = tb.config.RetryAfter()
	}
	return next, result
}

// clamp bounds tokens to [0, capacity], mapping NaN to an empty bucket.
func clamp(tokens, capacity float64) float64 {
	if math.IsNaN(tokens) || tokens < 0 {
		return 0
	}
	return math.Min(tokens, capacity)
}
