package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// WithRetry returns a HandlerMiddleware that re-attempts failed calls
// with exponential backoff: baseBackoff doubles each round, up to
// maxRetries extra attempts. Cancellation wins between attempts. An
// open circuit is never retried; waiting out a breaker inside a retry
// loop would only delay the fallback.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil {
					return nil, lastErr
				}
				if _, ok := err.(*ErrCircuitOpen); ok {
					return nil, err
				}
				if attempt == maxRetries {
					break
				}

				wait := baseBackoff << uint(attempt)
				if logger != nil {
					logger.WarnContext(ctx, "retrying call",
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				select {
				case <-ctx.Done():
					return nil, lastErr
				case <-time.After(wait):
				}
			}
			return nil, lastErr
		}
	}
}
