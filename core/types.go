package core

import (
	"fmt"
	"math"
	"time"
)

// DefaultTTL is applied to persisted entries when Config.TTL is zero.
const DefaultTTL = time.Hour

// Config defines the rate limiting policy of one named limiter
type Config struct {
	MaxTokens      int           // Bucket capacity (burst size)
	RefillRate     float64       // Tokens added per second
	RefillInterval time.Duration // Informational; refill is computed continuously
	TTL            time.Duration // Expiry of persisted entries, DefaultTTL if zero
}

// Validate rejects policies that would never throttle or never admit.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.MaxTokens)
	}
	if c.RefillRate <= 0 || math.IsNaN(c.RefillRate) || math.IsInf(c.RefillRate, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidRefillRate, c.RefillRate)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidTTL, c.TTL)
	}
	return nil
}

// EffectiveTTL returns the TTL durable backends should apply.
func (c Config) EffectiveTTL() time.Duration {
	if c.TTL == 0 {
		return DefaultTTL
	}
	return c.TTL
}

// RetryAfter is the time until one token is available on an empty bucket,
// rounded up to whole seconds.
func (c Config) RetryAfter() time.Duration {
	seconds := math.Ceil(1/c.RefillRate - epsilon)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// Entry represents the current state of a token bucket
type Entry struct {
	Tokens     float64   // Current tokens available
	LastRefill time.Time // Last time tokens were refilled or consumed
}

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed    bool          // Whether the request is allowed
	Remaining  int           // floor(tokens) after this check
	Limit      int           // Bucket capacity
	RetryAfter time.Duration // Set only when the request is denied
}
