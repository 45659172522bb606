// Package sink defines output backends for mapwatch events.
package sink

import (
	"context"

	"github.com/arpentry/poiportal/mapwatch/signal"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev signal.Event) error
	SendStatus(ctx context.Context, st signal.Status) error
	Close() error
}
