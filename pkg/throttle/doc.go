// Package throttle guards the sensitive operations of the classhub platform
// (OTP requests, password resets, student search, class joins, admin PIN
// changes) with named token bucket limiters.
//
// # Quick Start
//
// A Manager owns the limiters. The first call for a name binds a backend
// and config to it:
//
//	manager, err := throttle.NewManager()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	policy, _ := throttle.Policy(throttle.LimiterOTPRequest)
//	result, err := manager.CheckLimit(ctx, throttle.LimiterOTPRequest, "otp:"+email, policy)
//	if err != nil {
//	    // misconfigured limiter
//	}
//	if !result.Allowed {
//	    fmt.Printf("Rate limited. Retry after %v\n", result.RetryAfter)
//	}
//
// # Backends
//
// By default each limiter keeps its buckets in process memory, so each
// replica enforces its own quota. To share limits between replicas use
// Redis:
//
//	client := store.NewRedisClient(store.RedisConfig{Addr: "localhost:6379"})
//	manager, err := throttle.NewManager(
//	    throttle.WithBackendFactory(store.RedisFactory(client)),
//	)
//
// When the backend cannot be reached, checks are allowed (fail open), logged
// at warn level and counted as "fail_open" decisions. Only configuration
// errors are returned to callers.
//
// # HTTP Middleware
//
//	search := throttle.Middleware(manager, throttle.LimiterSearchStudents,
//	    throttle.Policies()[throttle.LimiterSearchStudents],
//	    throttle.ExtractHeader("X-User-ID"),
//	)
//	mux.Handle("/api/students/search", search(handler))
//
// The middleware sets X-RateLimit-Limit and X-RateLimit-Remaining on every
// response and Retry-After with X-RateLimit-Reset on 429 responses.
//
// # Key Extraction
//
//	throttle.ExtractIP()
//	throttle.ExtractIPWithProxy()
//	throttle.ExtractHeader("X-User-ID")
//	throttle.ExtractBearer()
//	throttle.ExtractCookie("session_id")
//	throttle.ExtractEmailField("email")
//	throttle.ExtractComposite(throttle.ExtractHeader("X-User-ID"), throttle.ExtractIP())
//
// Bearer tokens and cookies are hashed before they become keys. Keys are
// masked in logs.
package throttle
