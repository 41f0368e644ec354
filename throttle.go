// Package throttle re-exports the rate limiting facade so that callers can
// import the module root.
package throttle

import (
	limiter "github.com/classhub/throttle/pkg/throttle"
)

// Re-export main types for convenience
type (
	Manager      = limiter.Manager
	Option       = limiter.Option
	Stats        = limiter.Stats
	KeyExtractor = limiter.KeyExtractor
)

var (
	NewManager = limiter.NewManager
	Middleware = limiter.Middleware
	Policies   = limiter.Policies
	Policy     = limiter.Policy
)
