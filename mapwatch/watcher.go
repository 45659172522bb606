// Package mapwatch is the map observation daemon. It drives Chrome over
// the devtools protocol, injects the capture and overlay sensors into
// listing pages, arbitrates viewport signals, and renders POI markers
// on top of third-party maps.
//
// mapwatch owns the per-page Sessions; POI data and site profiles come
// from their stores, events leave through sinks. Consumers like the
// control API talk to the Watcher.
package mapwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/arpentry/poiportal/connectivity"
	"github.com/arpentry/poiportal/mapwatch/internal/browser"
	"github.com/arpentry/poiportal/mapwatch/internal/inject"
	"github.com/arpentry/poiportal/mapwatch/internal/sink"
	"github.com/arpentry/poiportal/mapwatch/signal"
	"github.com/arpentry/poiportal/observability"
	"github.com/arpentry/poiportal/poistore"
	"github.com/arpentry/poiportal/siteconfig"
	"github.com/arpentry/poiportal/watch"
)

// Watcher is the top-level orchestrator: browser lifecycle, one Session
// per attached page, store change propagation. Create one per daemon.
type Watcher struct {
	cfg      *Config
	mgr      *browser.Manager
	sinkR    *sink.Router
	sessions map[string]*Session // keyed by page ID
	mu       sync.Mutex

	sites   *siteconfig.Store
	pois    *poistore.Store
	metrics *observability.MetricsManager
	router  *connectivity.Router
	logger  *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSiteStore binds the per-domain site profiles.
func WithSiteStore(s *siteconfig.Store) WatcherOption {
	return func(w *Watcher) { w.sites = s }
}

// WithPOIStore binds the POI database. Store changes are watched and
// dispatched to every session.
func WithPOIStore(p *poistore.Store) WatcherOption {
	return func(w *Watcher) { w.pois = p }
}

// WithMetrics binds the metrics collector.
func WithMetrics(mm *observability.MetricsManager) WatcherOption {
	return func(w *Watcher) { w.metrics = mm }
}

// WithSinks adds event sinks.
func WithSinks(sinks ...Sink) WatcherOption {
	return func(w *Watcher) {
		w.sinkR = sink.NewRouter(w.logger, sinks...)
	}
}

// New creates a Watcher from configuration.
func New(cfg *Config, logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          browser.ParseStealthLevel(cfg.Browser.Stealth),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	w := &Watcher{
		cfg:      cfg,
		mgr:      mgr,
		sessions: make(map[string]*Session),
		logger:   logger,
	}
	for _, o := range opts {
		o(w)
	}
	if w.sinkR == nil {
		w.sinkR = sink.NewRouter(logger)
	}
	return w
}

// Start launches the browser, attaches every configured page and begins
// watching the POI store for changes.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("mapwatch: start browser: %w", err)
	}

	w.mgr.SetRecycleCallback(&browser.RecycleCallback{
		BeforeRecycle: w.stopAllSessions,
		AfterRecycle:  func(b *rod.Browser) { w.reattachSessions(ctx) },
	})

	for _, page := range w.cfg.Pages {
		if err := w.ObservePage(ctx, page); err != nil {
			w.logger.Error("mapwatch: failed to attach page",
				"url", page.URL, "error", err)
		}
	}

	if w.pois != nil {
		go w.watchPOIs(ctx)
	}
	if w.router != nil {
		go w.pollPOISource(ctx)
	}
	return nil
}

// ObservePage attaches one page: open the tab, build the session, start
// observing.
func (w *Watcher) ObservePage(ctx context.Context, pageCfg PageConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.observePageLocked(ctx, pageCfg)
}

func (w *Watcher) observePageLocked(ctx context.Context, pageCfg PageConfig) error {
	level := browser.ParseStealthLevel(pageCfg.Stealth)
	tab, err := browser.OpenTab(ctx, w.mgr, pageCfg.URL, pageCfg.ID, level)
	if err != nil {
		return fmt.Errorf("mapwatch: open tab: %w", err)
	}

	site := w.initialSite(ctx, pageCfg.URL)
	inj := inject.New(tab.Page, site, inject.WithLogger(w.logger))

	sess := NewSession(SessionConfig{
		ID:      pageCfg.ID,
		Tab:     tab,
		Driver:  inj,
		Sites:   w.sites,
		Sink:    w.sinkR,
		Tick:    w.cfg.Tick,
		Metrics: w.metrics,
		Logger:  w.logger,
	})
	if err := sess.Start(ctx); err != nil {
		tab.Close()
		return fmt.Errorf("mapwatch: start session: %w", err)
	}

	w.sessions[pageCfg.ID] = sess

	// Prime the new session with the current marker set.
	if w.pois != nil {
		if data, err := w.currentData(ctx); err == nil {
			sess.SetData(ctx, data)
		}
	}

	w.logger.Info("mapwatch: page attached",
		"url", pageCfg.URL, "id", pageCfg.ID, "stealth", level)
	return nil
}

// initialSite resolves a starting profile for the injector; the session
// re-resolves on its first ready tick, so failures here are soft.
func (w *Watcher) initialSite(ctx context.Context, pageURL string) siteconfig.Site {
	if w.sites == nil {
		return siteconfig.Site{}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return siteconfig.Site{}
	}
	site, err := w.sites.Lookup(ctx, siteconfig.Normalize(u.Host))
	if err != nil {
		return siteconfig.Site{}
	}
	return site
}

// Stop gracefully shuts down all sessions and the browser.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, sess := range w.sessions {
		sess.Stop()
		w.logger.Info("mapwatch: stopped session", "id", id)
	}
	w.sessions = make(map[string]*Session)

	w.sinkR.Close()
	w.mgr.Close()
}

// Session returns one session by page ID.
func (w *Watcher) Session(id string) (*Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	return s, ok
}

// Sessions snapshots the current session set.
func (w *Watcher) Sessions() []*Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s)
	}
	return out
}

// Status aggregates every session's report.
func (w *Watcher) Status() []signal.Status {
	sessions := w.Sessions()
	out := make([]signal.Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// DispatchPOIs reloads the active marker set from the store and pushes
// it to every session, tagged with the store revision.
func (w *Watcher) DispatchPOIs(ctx context.Context) error {
	if w.pois == nil {
		return nil
	}
	data, err := w.currentData(ctx)
	if err != nil {
		return err
	}
	w.dispatch(ctx, data)
	return nil
}

func (w *Watcher) currentData(ctx context.Context) (*signal.DataUpdate, error) {
	markers, err := w.pois.ActiveMarkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapwatch: load markers: %w", err)
	}
	rev, err := w.pois.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("mapwatch: load revision: %w", err)
	}
	return &signal.DataUpdate{
		POIs:     markersToSignal(markers),
		Revision: rev,
	}, nil
}

func (w *Watcher) dispatch(ctx context.Context, data *signal.DataUpdate) {
	for _, s := range w.Sessions() {
		s.SetData(ctx, data)
	}
	w.logger.Info("mapwatch: markers dispatched",
		"count", len(data.POIs), "revision", data.Revision)
}

// watchPOIs propagates store writes to the pages. PRAGMA data_version
// catches writers in other processes too, so a CLI import shows up
// without any signalling.
func (w *Watcher) watchPOIs(ctx context.Context) {
	pw := watch.New(w.pois.DB, watch.Options{
		Interval: time.Second,
		Debounce: 250 * time.Millisecond,
		Logger:   w.logger,
	})
	pw.OnChange(ctx, func() error {
		return w.DispatchPOIs(ctx)
	})
}

func (w *Watcher) stopAllSessions() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sess := range w.sessions {
		sess.Stop()
	}
}

func (w *Watcher) reattachSessions(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sessions = make(map[string]*Session)
	for _, page := range w.cfg.Pages {
		if err := w.observePageLocked(ctx, page); err != nil {
			w.logger.Error("mapwatch: reattach failed",
				"url", page.URL, "error", err)
		}
	}
}

// markersToSignal converts store markers to the wire shape the overlay
// renders.
func markersToSignal(markers []*poistore.Marker) []signal.Marker {
	out := make([]signal.Marker, 0, len(markers))
	for _, m := range markers {
		out = append(out, signal.Marker{
			ID:     m.ID,
			Lat:    m.Lat,
			Lng:    m.Lng,
			Label:  m.Label,
			Color:  m.Color,
			ZIndex: m.ZIndex,
			URL:    m.URL,
			Note:   m.Note,
			Group:  m.GroupName,
		})
	}
	return out
}

// RegisterConnectivity registers mapwatch services in the connectivity
// router and retains the router for routed marker pulls. Services:
// overlay_status, site_report. Call before Start so the poi_source
// poll comes up with the sessions.
func (w *Watcher) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("overlay_status", w.handleOverlayStatus)
	router.RegisterLocal("site_report", w.handleSiteReport)
	w.router = router
}

// handleOverlayStatus is the connectivity handler for session status.
// Payload: {"session_id": "..."} or empty for all sessions.
func (w *Watcher) handleOverlayStatus(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("overlay_status: unmarshal: %w", err)
		}
	}
	if req.SessionID != "" {
		sess, ok := w.Session(req.SessionID)
		if !ok {
			return nil, fmt.Errorf("overlay_status: unknown session %q", req.SessionID)
		}
		return json.Marshal(sess.Status())
	}
	return json.Marshal(w.Status())
}

// handleSiteReport is the connectivity handler for page diagnostics.
// Payload: {"session_id": "..."}
func (w *Watcher) handleSiteReport(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("site_report: unmarshal: %w", err)
	}
	rep, err := w.SiteReport(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rep)
}

// poiSourceInterval paces routed marker pulls. Local store writes take
// the fast watch path; this cadence only serves remote backends.
const poiSourceInterval = time.Minute

// pollPOISource pulls markers from the routed poi_source service on a
// slow cadence. Until an operator adds a poi_source route every pass is
// an inspect-and-skip, so the poll runs unconditionally.
func (w *Watcher) pollPOISource(ctx context.Context) {
	t := time.NewTicker(poiSourceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.pullRouted(ctx)
		}
	}
}

// pullRouted runs one poll pass against the retained router.
func (w *Watcher) pullRouted(ctx context.Context) {
	if _, ok := w.router.Inspect("poi_source"); !ok {
		return
	}
	if err := w.PullPOIs(ctx, w.router); err != nil {
		w.logger.Warn("mapwatch: poi_source pull failed", "error", err)
	}
}

// PullPOIs fetches a marker set from the routed poi_source service and
// dispatches it to every session. The route decides whether the source
// is in-process or a remote backend; when the backend fails, the call
// falls back to the local store so pages keep a marker set.
func (w *Watcher) PullPOIs(ctx context.Context, router *connectivity.Router) error {
	remote := func(ctx context.Context, payload []byte) ([]byte, error) {
		return router.Call(ctx, "poi_source", payload)
	}
	call := connectivity.WithFallback(w.localPOISource, "poi_source", w.logger)(remote)

	resp, err := call(ctx, []byte(`{}`))
	if err != nil {
		return fmt.Errorf("mapwatch: poi_source: %w", err)
	}
	var data signal.DataUpdate
	if err := json.Unmarshal(resp, &data); err != nil {
		return fmt.Errorf("mapwatch: poi_source decode: %w", err)
	}
	if data.Revision == 0 {
		data.Revision = time.Now().UnixMilli()
	}
	w.dispatch(ctx, &data)
	return nil
}

// localPOISource serves the local store's marker set in the poi_source
// wire shape. Wired as the fallback handler for routed pulls.
func (w *Watcher) localPOISource(ctx context.Context, _ []byte) ([]byte, error) {
	if w.pois == nil {
		return nil, fmt.Errorf("mapwatch: no local poi store")
	}
	data, err := w.currentData(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}
