// Package observer receives the in-page sensors' messages over the CDP
// Runtime binding and hands decoded frames to the session.
package observer

import (
	"context"
	"log/slog"

	"github.com/go-rod/rod/lib/proto"

	"github.com/arpentry/poiportal/mapwatch/internal/browser"
	"github.com/arpentry/poiportal/mapwatch/internal/inject"
	"github.com/arpentry/poiportal/mapwatch/signal"
)

// Handler consumes one decoded frame. Called from the binding listener
// goroutine; implementations hand off quickly or do their own queueing.
type Handler func(f *signal.Frame)

// Observer listens for binding calls on a single page.
type Observer struct {
	tab     *browser.Tab
	handler Handler
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// Config for creating an Observer.
type Config struct {
	Tab     *browser.Tab
	Handler Handler
	Logger  *slog.Logger
}

// New creates an Observer for the given tab.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		tab:     cfg.Tab,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetContext allows the parent session to pass its context.
func (o *Observer) SetContext(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
}

// Start registers the binding and begins listening. Must run before the
// injector installs its assets, or the earliest frames go nowhere.
func (o *Observer) Start() error {
	err := proto.RuntimeAddBinding{Name: inject.BindingName}.Call(o.tab.Page)
	if err != nil {
		// A previous session on this page may have left it behind.
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}

	go o.listenBinding()

	o.logger.Debug("observer: listening", "url", o.tab.PageURL)
	return nil
}

// Stop ends the listener.
func (o *Observer) Stop() {
	o.cancel()
}

// listenBinding receives sensor messages via Runtime.bindingCalled.
func (o *Observer) listenBinding() {
	page := o.tab.Page
	page.Context(o.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != inject.BindingName {
			return
		}
		o.dispatch([]byte(e.Payload))
	})()
}

// dispatch decodes one payload and forwards it. Unknown frame types are
// forwarded too: the session decides what it understands.
func (o *Observer) dispatch(payload []byte) {
	f, err := signal.DecodeFrame(payload)
	if err != nil {
		o.logger.Warn("observer: drop undecodable frame", "error", err)
		return
	}
	if o.handler != nil {
		o.handler(f)
	}
}
