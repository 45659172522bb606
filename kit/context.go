package kit

import "context"

type contextKey string

const (
	// SessionIDKey carries the watcher session a request concerns.
	SessionIDKey contextKey = "kit_session_id"
	// TransportKey names the transport the request arrived on
	// ("http", "mcp", "local").
	TransportKey contextKey = "kit_transport"
	// RequestIDKey carries the caller-supplied request identifier.
	RequestIDKey contextKey = "kit_request_id"
	// TraceIDKey carries the short trace ID set by the HTTP middleware.
	TraceIDKey contextKey = "kit_trace_id"
	// RemoteAddrKey carries the caller address for HTTP transports.
	RemoteAddrKey contextKey = "kit_remote_addr"
	// RoleKey carries the caller role ("admin" or "viewer").
	RoleKey contextKey = "kit_role"
)

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}
func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "local"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}
