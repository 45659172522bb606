package connectivity

import (
	"context"
	"log/slog"
)

// WithFallback returns a HandlerMiddleware that degrades to a local
// handler when the routed one fails. The daemon wires it around
// poi_source pulls: if the remote marker backend is down, the pull
// serves the local store instead and attached pages keep their
// overlays.
//
// A nil local handler disables the wrapper. Cancellation errors pass
// through without degradation; a context the caller already gave up on
// would fail locally too, just slower.
func WithFallback(local Handler, service string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if local == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "remote failed, serving local fallback",
					"service", service,
					"remote_error", err)
			}
			return local(ctx, payload)
		}
	}
}
