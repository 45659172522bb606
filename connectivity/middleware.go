package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// HandlerMiddleware wraps a Handler with cross-cutting behaviour
// (timeouts, recovery, breakers, fallbacks) without changing the
// signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares so the first argument is the outermost
// wrapper:
//
//	Chain(Recovery(l), Timeout(d))(h)
//
// recovers around the timeout around h.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Timeout returns a middleware enforcing a maximum call duration. The
// handler goroutine keeps running past the deadline; only the caller is
// released, with context.DeadlineExceeded.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery returns a middleware that converts handler panics into
// *ErrPanic errors. A panicking route handler must not take the
// daemon's sessions down with it.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					if logger != nil {
						logger.ErrorContext(ctx, "recovered handler panic",
							"panic", r,
							"stack", string(debug.Stack()))
					}
					err = &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return "connectivity: handler panicked"
}
