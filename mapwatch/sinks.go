package mapwatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/arpentry/poiportal/mapwatch/internal/sink"
	"github.com/arpentry/poiportal/mapwatch/signal"
)

// Sink is the output interface for mapwatch events.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates an SSRF-guarded webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) (Sink, error) {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink, the zero-copy
// path for embedding consumers like the control API's event hub.
func NewCallbackSink(
	onEvent func(ctx context.Context, ev signal.Event) error,
	onStatus func(ctx context.Context, st signal.Status) error,
) Sink {
	return sink.NewCallback(onEvent, onStatus)
}

// BuildSinks resolves configured sinks. Unknown types are skipped with a
// warning rather than failing the daemon.
func BuildSinks(cfg *Config, logger *slog.Logger) []Sink {
	var sinks []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(nil))
		case "webhook":
			s, err := NewWebhookSink(sc.URL, logger)
			if err != nil {
				logger.Warn("mapwatch: webhook sink rejected", "url", sc.URL, "error", err)
				continue
			}
			sinks = append(sinks, s)
		default:
			logger.Warn("mapwatch: unknown sink type", "type", sc.Type)
		}
	}
	return sinks
}
