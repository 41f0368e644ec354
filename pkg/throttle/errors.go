package throttle

import "errors"

var (
	// ErrInvalidConfig is returned when a limiter configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidName is returned when the limiter name is empty or contains
	// the namespace separator ":"
	ErrInvalidName = errors.New("limiter name must be non-empty and contain no ':'")

	// ErrInvalidKey is returned when the rate limit key is invalid or empty
	ErrInvalidKey = errors.New("rate limit key cannot be empty")

	// ErrUnknownPolicy is returned when no built-in policy has the given name
	ErrUnknownPolicy = errors.New("unknown policy")

	// ErrKeyExtractionFailed is returned when key extraction from request fails
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")
)
