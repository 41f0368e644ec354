package core

import "errors"

var (
	// ErrInvalidCapacity is returned when MaxTokens is not positive
	ErrInvalidCapacity = errors.New("max tokens must be positive")

	// ErrInvalidRefillRate is returned when RefillRate is not a positive number
	ErrInvalidRefillRate = errors.New("refill rate must be positive")

	// ErrInvalidTTL is returned when TTL is negative
	ErrInvalidTTL = errors.New("ttl cannot be negative")
)
