package uibridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/arpentry/poiportal/mapwatch"
	"github.com/arpentry/poiportal/mapwatch/signal"
)

// Hub fans watcher events out to WebSocket listeners. Slow or dead
// connections are dropped rather than allowed to stall the broadcast.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

// wsEnvelope is the frame shape on the event stream.
type wsEnvelope struct {
	Type string `json:"type"` // "event" | "status"
	Data any    `json:"data"`
}

// Sink adapts the hub to the watcher's sink interface.
func (h *Hub) Sink() mapwatch.Sink {
	return mapwatch.NewCallbackSink(
		func(_ context.Context, ev signal.Event) error {
			h.broadcast(wsEnvelope{Type: "event", Data: ev})
			return nil
		},
		func(_ context.Context, st signal.Status) error {
			h.broadcast(wsEnvelope{Type: "status", Data: st})
			return nil
		},
	)
}

// ServeHTTP upgrades the request and keeps the connection registered
// until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		h.logger.Warn("hub: websocket accept failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("hub: client connected", "clients", n)

	// Drain client frames; the stream is one-way.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			h.remove(conn, websocket.StatusNormalClosure)
			return
		}
	}
}

// Len reports connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "shutdown")
	}
}

func (h *Hub) broadcast(env wsEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := writeWithTimeout(c, data); err != nil {
			h.remove(c, websocket.StatusPolicyViolation)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn, code websocket.StatusCode) {
	h.mu.Lock()
	_, present := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()
	if present {
		_ = conn.Close(code, "")
	}
}

func writeWithTimeout(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
