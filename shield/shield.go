// Package shield holds the HTTP middleware of the docenrich API: security
// headers, body limits, request tracing and per-client rate limiting.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.Config{MaxBodyBytes: 100 << 20}) {
//		r.Use(mw)
//	}
package shield

import (
	"net/http"

	"golang.org/x/time/rate"
)

type contextKey string

// LoggerKey is the context key of the per-request logger.
const LoggerKey contextKey = "shield_logger"

// Config configures APIStack.
type Config struct {
	// MaxBodyBytes caps request bodies. 0 disables the limit.
	MaxBodyBytes int64
	// RequestsPerSecond and Burst rate limit mutating requests per client
	// IP. 0 disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

// APIStack returns the middleware chain in application order.
func APIStack(cfg Config) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceID,
	}
	if cfg.MaxBodyBytes > 0 {
		stack = append(stack, MaxBody(cfg.MaxBodyBytes))
	}
	if cfg.RequestsPerSecond > 0 {
		stack = append(stack, NewRateLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst, "/healthz", "/metrics").Middleware)
	}
	return stack
}

// HeadToGet serves HEAD requests with the GET handler; net/http drops the
// body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
