package throttle

import (
	"fmt"
	"time"

	"github.com/classhub/throttle/core"
)

// Names of the limiters guarding the platform's sensitive operations.
const (
	LimiterOTPRequest     = "otp-request"
	LimiterPasswordReset  = "password-reset"
	LimiterSearchStudents = "search-students"
	LimiterClassJoin      = "class-join"
	LimiterAdminPIN       = "admin-pin"
)

// perWindow builds a policy admitting n requests per window, refilled evenly.
func perWindow(n int, window time.Duration) core.Config {
	return core.Config{
		MaxTokens:      n,
		RefillRate:     float64(n) / window.Seconds(),
		RefillInterval: window,
		TTL:            window,
	}
}

// Policies returns the built-in policy of every platform limiter.
func Policies() map[string]core.Config {
	return map[string]core.Config{
		LimiterOTPRequest:     perWindow(5, time.Hour),
		LimiterPasswordReset:  perWindow(3, time.Hour),
		LimiterSearchStudents: perWindow(30, time.Minute),
		LimiterClassJoin:      perWindow(10, 15*time.Minute),
		LimiterAdminPIN:       perWindow(20, time.Hour),
	}
}

// Policy returns the built-in policy for name.
func Policy(name string) (core.Config, error) {
	config, ok := Policies()[name]
	if !ok {
		return core.Config{}, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return config, nil
}
