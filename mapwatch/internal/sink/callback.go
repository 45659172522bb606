package sink

import (
	"context"

	"github.com/arpentry/poiportal/mapwatch/signal"
)

// EventFunc is called for each event (in-process, zero serialisation).
type EventFunc func(ctx context.Context, ev signal.Event) error

// StatusFunc is called for each status report.
type StatusFunc func(ctx context.Context, st signal.Status) error

// Callback delivers events via Go function calls. This is the
// connectivity "local" path — when the portal API and the watcher live
// in the same binary, events are delivered as in-memory function calls
// with zero serialisation overhead.
type Callback struct {
	onEvent  EventFunc
	onStatus StatusFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onEvent EventFunc, onStatus StatusFunc) *Callback {
	return &Callback{onEvent: onEvent, onStatus: onStatus}
}

func (c *Callback) Send(ctx context.Context, ev signal.Event) error {
	if c.onEvent != nil {
		return c.onEvent(ctx, ev)
	}
	return nil
}

func (c *Callback) SendStatus(ctx context.Context, st signal.Status) error {
	if c.onStatus != nil {
		return c.onStatus(ctx, st)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
