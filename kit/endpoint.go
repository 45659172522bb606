// Package kit is the transport-neutral service layer: an operation is an
// Endpoint, middleware wraps Endpoints, and adapters expose the same
// Endpoint over different transports (HTTP handlers, MCP tools). The
// portal API registers each POI and overlay operation once and serves it
// everywhere.
package kit

import "context"

// Endpoint is one service operation: typed request in, typed response
// out. Transports decode their wire format into req and encode resp back.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is outermost:
// Chain(a, b, c)(ep) runs a(b(c(ep))).
func Chain(mws ...Middleware) Middleware {
	return func(ep Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			ep = mws[i](ep)
		}
		return ep
	}
}
