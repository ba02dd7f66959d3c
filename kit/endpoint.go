// Package kit carries the transport-neutral pieces shared by the HTTP API
// and the MCP tools: endpoints, middleware chaining and request context
// values.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Endpoint is one operation reachable from any transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs the duration and outcome of every call to the endpoint.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{"endpoint", name, "transport", GetTransport(ctx), "duration", time.Since(start)}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if id := GetDocID(ctx); id != "" {
				attrs = append(attrs, "doc_id", id)
			}
			if ns := GetNamespace(ctx); ns != "" {
				attrs = append(attrs, "namespace", ns)
			}
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("endpoint done", attrs...)
			}
			return resp, err
		}
	}
}

// Recover turns a panic in the endpoint into an error. PDF parsers panic on
// some malformed inputs and a tool call must not take the server down.
func Recover(name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = nil, fmt.Errorf("%s: panic: %v", name, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Wrap applies the standard middleware of a tool endpoint: panic recovery
// inside logging, so recovered panics are logged as failures.
func Wrap(logger *slog.Logger, name string, ep Endpoint) Endpoint {
	return Chain(Logging(logger, name), Recover(name))(ep)
}
