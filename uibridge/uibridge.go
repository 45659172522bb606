// Package uibridge is the control surface of the portal daemon: a chi
// HTTP API, a WebSocket event stream, and the same operations exposed
// as MCP tools. It owns no state; everything delegates to the watcher
// and the stores.
package uibridge

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/arpentry/poiportal/mapwatch"
	"github.com/arpentry/poiportal/poistore"
	"github.com/arpentry/poiportal/shield"
	"github.com/arpentry/poiportal/siteconfig"
)

// Bridge wires the daemon's components to its external interfaces.
type Bridge struct {
	watcher *mapwatch.Watcher
	pois    *poistore.Store
	sites   *siteconfig.Store
	hub     *Hub
	limiter *shield.RateLimiter

	// tokenHash is the bcrypt hash of the admin token. Empty disables
	// auth, for MCP-over-stdio deployments that never open a port.
	tokenHash []byte
	logger    *slog.Logger
}

// Config wires a Bridge.
type Config struct {
	Watcher *mapwatch.Watcher
	POIs    *poistore.Store
	Sites   *siteconfig.Store

	// Hub carries the event stream. Optional: pass one built ahead of
	// time when the watcher needs the hub sink before the Bridge exists.
	Hub *Hub

	// AdminTokenHash is a bcrypt hash; see cmd/poiportal -hash-token.
	AdminTokenHash string
	RateLimiter    *shield.RateLimiter
	Logger         *slog.Logger
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(cfg.Logger)
	}
	return &Bridge{
		watcher:   cfg.Watcher,
		pois:      cfg.POIs,
		sites:     cfg.Sites,
		hub:       cfg.Hub,
		limiter:   cfg.RateLimiter,
		tokenHash: []byte(cfg.AdminTokenHash),
		logger:    cfg.Logger,
	}
}

// Hub returns the event hub, for wiring as a watcher sink.
func (b *Bridge) Hub() *Hub { return b.hub }

// EventSink returns a sink that forwards watcher events to connected
// WebSocket clients.
func (b *Bridge) EventSink() mapwatch.Sink {
	return b.hub.Sink()
}

// authorize checks the bearer token against the configured hash.
func (b *Bridge) authorize(r *http.Request) bool {
	if len(b.tokenHash) == 0 {
		return true
	}
	token := bearerToken(r)
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(b.tokenHash, []byte(token)) == nil
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
