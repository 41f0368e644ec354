package throttle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/classhub/throttle/validate"
)

// KeyExtractor derives the rate limit key of the caller from a request.
type KeyExtractor func(*http.Request) (string, error)

// ExtractIP keys by the connection's remote IP address.
func ExtractIP() KeyExtractor {
	return func(r *http.Request) (string, error) {
		ip := remoteIP(r.RemoteAddr)
		if ip == "" {
			return "", fmt.Errorf("%w: empty IP address", ErrKeyExtractionFailed)
		}
		return "ip:" + ip, nil
	}
}

// ExtractIPWithProxy prefers X-Forwarded-For, then X-Real-IP, then the remote
// address. Only use it behind a proxy that overwrites these headers.
func ExtractIPWithProxy() KeyExtractor {
	return func(r *http.Request) (string, error) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// First entry is the original client
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return "ip:" + ip, nil
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return "ip:" + xri, nil
		}
		return ExtractIP()(r)
	}
}

// ExtractHeader keys by the value of a request header, e.g. "X-User-ID".
func ExtractHeader(headerName string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		value := strings.TrimSpace(r.Header.Get(headerName))
		if value == "" {
			return "", fmt.Errorf("%w: header %s not found or empty", ErrKeyExtractionFailed, headerName)
		}
		return "header:" + headerName + ":" + value, nil
	}
}

// ExtractBearer keys by a digest of the bearer token so that credentials are
// never written to the store.
func ExtractBearer() KeyExtractor {
	return func(r *http.Request) (string, error) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return "", fmt.Errorf("%w: Authorization header not found", ErrKeyExtractionFailed)
		}

		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return "", fmt.Errorf("%w: invalid Authorization header format", ErrKeyExtractionFailed)
		}
		if token = strings.TrimSpace(token); token == "" {
			return "", fmt.Errorf("%w: empty bearer token", ErrKeyExtractionFailed)
		}
		return "bearer:" + digest(token), nil
	}
}

// ExtractCookie keys by a digest of the named cookie, e.g. a session id.
func ExtractCookie(cookieName string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err != nil {
			return "", fmt.Errorf("%w: cookie %s not found: %v", ErrKeyExtractionFailed, cookieName, err)
		}
		if cookie.Value == "" {
			return "", fmt.Errorf("%w: cookie %s has empty value", ErrKeyExtractionFailed, cookieName)
		}
		return "cookie:" + cookieName + ":" + digest(cookie.Value), nil
	}
}

// ExtractEmailField keys by the normalized email address in a form or query
// field, so that OTP and password reset limits follow the account rather
// than the network.
func ExtractEmailField(field string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		email, err := validate.Email(r.FormValue(field))
		if err != nil {
			return "", fmt.Errorf("%w: field %s: %v", ErrKeyExtractionFailed, field, err)
		}
		return "email:" + email, nil
	}
}

// ExtractStatic returns the same key for every request, for global limits.
func ExtractStatic(key string) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if key == "" {
			return "", fmt.Errorf("%w: static key is empty", ErrKeyExtractionFailed)
		}
		return key, nil
	}
}

// ExtractComposite returns the key of the first extractor that succeeds.
//
// Example:
//
//	extractor := ExtractComposite(
//	    ExtractHeader("X-User-ID"),
//	    ExtractIPWithProxy(),  // Fallback for anonymous callers
//	)
func ExtractComposite(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) (string, error) {
		if len(extractors) == 0 {
			return "", fmt.Errorf("%w: no extractors provided", ErrKeyExtractionFailed)
		}
		var lastErr error
		for _, extractor := range extractors {
			key, err := extractor(r)
			if err == nil && key != "" {
				return key, nil
			}
			lastErr = err
		}
		return "", fmt.Errorf("%w: all extractors failed: %v", ErrKeyExtractionFailed, lastErr)
	}
}

// ParseKeyExtractorConfig creates a KeyExtractor from a configuration string.
// Supported formats:
//   - "ip"
//   - "ip-proxy"
//   - "header:X-User-ID"
//   - "bearer"
//   - "cookie:session_id"
//   - "email:email"
//   - "static:global"
func ParseKeyExtractorConfig(config string) (KeyExtractor, error) {
	kind, arg, hasArg := strings.Cut(config, ":")

	needArg := func() error {
		if !hasArg || arg == "" {
			return fmt.Errorf("%w: %s extractor requires format '%s:value'", ErrInvalidConfig, kind, kind)
		}
		return nil
	}

	switch kind {
	case "ip":
		return ExtractIP(), nil
	case "ip-proxy":
		return ExtractIPWithProxy(), nil
	case "bearer":
		return ExtractBearer(), nil
	case "header":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractHeader(arg), nil
	case "cookie":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractCookie(arg), nil
	case "email":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractEmailField(arg), nil
	case "static":
		if err := needArg(); err != nil {
			return nil, err
		}
		return ExtractStatic(arg), nil
	default:
		return nil, fmt.Errorf("%w: unknown key extractor type: %s", ErrInvalidConfig, kind)
	}
}

func remoteIP(addr string) string {
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		// RemoteAddr might not have a port in some edge cases
		return addr
	}
	return ip
}

func digest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}
