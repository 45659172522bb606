package mapwatch

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/idgen"
	"github.com/arpentry/poiportal/mapwatch/internal/browser"
	"github.com/arpentry/poiportal/mapwatch/internal/netsniff"
	"github.com/arpentry/poiportal/mapwatch/internal/observer"
	"github.com/arpentry/poiportal/mapwatch/internal/scan"
	"github.com/arpentry/poiportal/mapwatch/internal/sink"
	"github.com/arpentry/poiportal/mapwatch/signal"
	"github.com/arpentry/poiportal/observability"
	"github.com/arpentry/poiportal/overlay"
	"github.com/arpentry/poiportal/siteconfig"
)

// driver is what the session needs from the in-page asset driver. The
// concrete implementation is inject.Injector; tests substitute a fake.
type driver interface {
	Install(ctx context.Context) error
	Apply(ctx context.Context) error
	Scan(ctx context.Context, opts scan.Options) (int, error)
	ReadBounds(ctx context.Context, instanceID string) (*bounds.Rect, error)
	Alive(ctx context.Context, instanceID string) (bool, error)
	PushData(ctx context.Context, data []byte) (bool, error)
	ApplyBounds(ctx context.Context, r *bounds.Rect) error
	TeardownInstance(ctx context.Context, instanceID string) error
	Teardown(ctx context.Context) error
	SetSite(site siteconfig.Site)
}

// sessionWarnLimit caps how often a session complains about the same
// per-tick condition before going quiet.
const sessionWarnLimit = 5

// cleanupInterval is the slow-path period for registry eviction and
// status reports.
const cleanupInterval = 5 * time.Minute

// SessionConfig wires one Session.
type SessionConfig struct {
	ID     string
	Tab    *browser.Tab
	Driver driver
	Sites  *siteconfig.Store
	Sink   sink.Sink
	Tick   time.Duration

	Metrics *observability.MetricsManager
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Session owns everything for one attached page: the viewport arbiter,
// the overlay registry, the discovery cadence and the orchestration
// tick. The observer feeds it decoded sensor frames; the watcher feeds
// it marker data.
type Session struct {
	ID      string
	PageURL string
	Domain  string

	tab     *browser.Tab
	drv     driver
	obs     *observer.Observer
	arbiter *bounds.Arbiter
	reg     *overlay.Registry
	cadence *scan.Cadence
	sinks   sink.Sink
	sites   *siteconfig.Store
	metrics *observability.MetricsManager

	mu            sync.Mutex
	site          siteconfig.Site
	siteBound     bool
	sniffing      bool
	data          *signal.DataUpdate
	pendingBounds *bounds.Rect
	hints         []string
	hintsBuilt    bool
	lastClean     time.Time
	warns         map[string]int

	seq    atomic.Uint64
	tick   time.Duration
	clock  func() time.Time
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a Session. Call Start to begin observing.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.ID == "" {
		cfg.ID = idgen.Prefixed("session_", idgen.Default)()
	}

	s := &Session{
		ID:      cfg.ID,
		tab:     cfg.Tab,
		drv:     cfg.Driver,
		sinks:   cfg.Sink,
		sites:   cfg.Sites,
		metrics: cfg.Metrics,
		cadence: scan.NewCadence(0),
		warns:   make(map[string]int),
		tick:    cfg.Tick,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if cfg.Tab != nil {
		s.PageURL = cfg.Tab.PageURL
		if u, err := url.Parse(cfg.Tab.PageURL); err == nil {
			s.Domain = siteconfig.Normalize(u.Host)
		}
	}
	s.lastClean = s.clock()

	s.arbiter = bounds.NewArbiter(
		bounds.WithArbiterClock(s.clock),
		bounds.WithArbiterLogger(s.logger),
	)
	s.arbiter.OnUpdate(s.onBounds)

	s.reg = overlay.NewRegistry(
		overlay.WithRegistryClock(s.clock),
		overlay.WithRegistryLogger(s.logger),
		overlay.WithLivenessProbe(s.probeAlive),
	)
	return s
}

// Arbiter exposes the session's viewport authority for status queries.
func (s *Session) Arbiter() *bounds.Arbiter { return s.arbiter }

// Registry exposes the session's overlay registry for status queries.
func (s *Session) Registry() *overlay.Registry { return s.reg }

// Start arms the page: binding listener first, then the injected
// assets, then the orchestration loop.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.tab != nil {
		s.obs = observer.New(observer.Config{
			Tab:     s.tab,
			Handler: s.HandleFrame,
			Logger:  s.logger,
		})
		s.obs.SetContext(s.ctx)
		if err := s.obs.Start(); err != nil {
			return err
		}
	}

	if s.drv != nil {
		if err := s.drv.Install(s.ctx); err != nil {
			return err
		}
	}

	go s.loop()

	s.logger.Info("session: started",
		"session", s.ID, "url", s.PageURL, "domain", s.Domain)
	return nil
}

// Stop tears down the in-page overlay and ends the loop.
func (s *Session) Stop() {
	if s.drv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.drv.Teardown(ctx); err != nil {
			s.logger.Debug("session: teardown failed", "session", s.ID, "error", err)
		}
		cancel()
	}
	if s.obs != nil {
		s.obs.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.tab != nil {
		s.tab.Close()
	}
}

func (s *Session) loop() {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick runs one orchestration pass. It never panics out; each step is
// guarded independently so one failing strategy cannot starve the rest.
func (s *Session) Tick(ctx context.Context) {
	if s.drv == nil {
		s.warnBounded("deps", "session: driver not ready", "session", s.ID)
		return
	}

	if !s.bindSite(ctx) {
		return
	}

	if err := s.drv.Apply(ctx); err != nil {
		s.warnBounded("apply", "session: apply failed", "session", s.ID, "error", err)
	}

	s.runScan(ctx)
	s.extractBounds(ctx)
	s.applyPending(ctx)
	s.redispatch(ctx)
	s.slowPath(ctx)
}

// bindSite lazily resolves the site profile on the first ready tick and
// reports whether the session should do any work at all.
func (s *Session) bindSite(ctx context.Context) bool {
	s.mu.Lock()
	bound, site := s.siteBound, s.site
	s.mu.Unlock()

	if !bound {
		if s.sites == nil {
			// No store: run with whatever profile the driver was built with.
			s.mu.Lock()
			s.site.Enabled = true
			s.siteBound = true
			s.mu.Unlock()
			return true
		}
		resolved, err := s.sites.Lookup(ctx, s.Domain)
		if err != nil {
			s.warnBounded("site", "session: site lookup failed",
				"session", s.ID, "domain", s.Domain, "error", err)
			return false
		}
		s.drv.SetSite(resolved)
		s.mu.Lock()
		s.site = resolved
		s.siteBound = true
		site = resolved
		s.mu.Unlock()
		s.logger.Info("session: site profile bound",
			"session", s.ID, "domain", s.Domain, "profile", resolved.Domain,
			"mapType", resolved.MapType, "enabled", resolved.Enabled)
	}

	if !site.Enabled {
		return false
	}

	s.startSniff(site)
	return true
}

// runScan paces discovery: full passes carry selector hints, cheap
// passes only refresh liveness in the page.
func (s *Session) runScan(ctx context.Context) {
	mode := s.cadence.Next(len(s.reg.ActiveEntries()))
	opts := scan.Options{Full: mode == scan.ModeFull}
	if opts.Full {
		opts.Selectors = s.scanHints(ctx)
	}

	start := s.clock()
	n, err := s.drv.Scan(ctx, opts)
	if err != nil {
		s.warnBounded("scan", "session: scan failed", "session", s.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSimple(observability.MetricScanDurationMs,
			float64(s.clock().Sub(start).Milliseconds()), "ms")
	}
	if n > 0 {
		s.logger.Debug("session: scan found instances",
			"session", s.ID, "new", n, "mode", mode.String())
	}
}

// scanHints merges curated site selectors with candidates from a
// one-time static pre-scan of the page HTML.
func (s *Session) scanHints(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hintsBuilt {
		return s.hints
	}
	var html []byte
	if s.tab != nil {
		if h, err := s.tab.HTML(ctx); err == nil {
			html = h
		}
	}
	s.hints = scan.Hints(s.site.Selectors, html, scan.DefaultHintLimit)
	s.hintsBuilt = true
	return s.hints
}

// extractBounds polls registered instances for their viewport and stops
// after the first readable one. More reads add nothing: instances on
// one page show the same map area, and the arbiter dedups anyway.
func (s *Session) extractBounds(ctx context.Context) {
	for _, e := range s.reg.ActiveEntries() {
		rect, err := s.drv.ReadBounds(ctx, e.Handle.InstanceID)
		if err != nil {
			s.warnBounded("read", "session: read bounds failed",
				"session", s.ID, "instance", e.Handle.InstanceID, "error", err)
			continue
		}
		if rect == nil {
			continue
		}
		s.acceptCandidate(*rect, bounds.ProvInstanceCapture, e.Handle.InstanceID)
		return
	}
}

// applyPending pushes the latest arbited rectangle into the page from
// the tick goroutine. Arbiter listeners fire on CDP event goroutines,
// where a synchronous Eval could stall event delivery.
func (s *Session) applyPending(ctx context.Context) {
	s.mu.Lock()
	rect := s.pendingBounds
	s.pendingBounds = nil
	s.mu.Unlock()
	if rect == nil {
		return
	}
	if err := s.drv.ApplyBounds(ctx, rect); err != nil {
		s.warnBounded("push", "session: apply bounds failed", "session", s.ID, "error", err)
	}
}

// redispatch re-sends the cached marker set every tick. The overlay
// drops revisions it already rendered, so a healthy renderer pays one
// revision compare; a restarted renderer gets its markers back without
// waiting for new data.
func (s *Session) redispatch(ctx context.Context) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return
	}
	payload, err := signal.MarshalDataUpdate(data)
	if err != nil {
		return
	}
	if _, err := s.drv.PushData(ctx, payload); err != nil {
		s.warnBounded("dispatch", "session: dispatch failed", "session", s.ID, "error", err)
	}
}

// slowPath runs registry eviction and a status report every few
// minutes.
func (s *Session) slowPath(ctx context.Context) {
	now := s.clock()
	s.mu.Lock()
	due := now.Sub(s.lastClean) >= cleanupInterval
	if due {
		s.lastClean = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	evicted := s.reg.Cleanup(ctx, overlay.DefaultMaxAge)
	if len(evicted) > 0 {
		s.logger.Info("session: evicted stale instances",
			"session", s.ID, "count", len(evicted))
	}
	if s.sinks != nil {
		if err := s.sinks.SendStatus(ctx, s.Status()); err != nil {
			s.logger.Debug("session: status send failed", "session", s.ID, "error", err)
		}
	}
}

// SetData replaces the cached marker set and dispatches immediately.
func (s *Session) SetData(ctx context.Context, data *signal.DataUpdate) {
	if data == nil {
		return
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordSimple(observability.MetricOverlayUpdateCount, 1, "count")
	}
	if s.drv != nil {
		s.redispatch(ctx)
	}
}

// Data returns the cached marker set, nil before the first dispatch.
func (s *Session) Data() *signal.DataUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Site returns the bound site profile.
func (s *Session) Site() (siteconfig.Site, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.site, s.siteBound
}

// Status reports the session's captured instances and last published
// viewport.
func (s *Session) Status() signal.Status {
	snap := s.arbiter.State()
	now := s.clock()

	st := signal.Status{
		SessionID: s.ID,
		PageURL:   s.PageURL,
		Domain:    s.Domain,
		Bounds:    snap.Bounds,
		Method:    snap.Method,
		Timestamp: now.UnixMilli(),
	}
	for _, e := range s.reg.Entries() {
		st.Instances = append(st.Instances, signal.InstanceStatus{
			InstanceID: e.Handle.InstanceID,
			Kind:       e.Handle.Kind,
			Domain:     e.Domain,
			Active:     e.Active,
			AgeMS:      now.Sub(e.LastUpdate).Milliseconds(),
		})
	}
	return st
}

// HandleFrame consumes one decoded sensor frame. Wired as the observer
// handler; runs on the binding listener goroutine.
func (s *Session) HandleFrame(f *signal.Frame) {
	switch f.Type {
	case signal.KindBridgeReady:
		s.logger.Debug("session: bridge ready", "session", s.ID, "url", f.URL)

	case signal.KindBoundsUpdate:
		if f.Bounds == nil {
			return
		}
		s.acceptCandidate(*f.Bounds, f.Method, f.InstanceID)

	case signal.KindInstance:
		s.registerInstance(f)

	case signal.KindMarkerClick, signal.KindMarkerHover, signal.KindMarkerLeave:
		s.emit(f.Type, func(ev *signal.Event) {
			ev.Marker = &signal.MarkerEvent{ID: f.ID, Lat: f.Lat, Lng: f.Lng}
		})

	case signal.KindNativeActive:
		s.logger.Info("session: native markers active", "session", s.ID)
		s.emit(signal.KindNativeActive, nil)

	case signal.KindDebug:
		s.logger.Debug("session: sensor",
			"session", s.ID, "where", f.Where, "message", f.Message)

	default:
		s.logger.Debug("session: unknown frame kind",
			"session", s.ID, "kind", string(f.Type))
	}
}

// acceptCandidate runs one viewport candidate through the arbiter and
// keeps the per-instance registry in step with accepted values.
func (s *Session) acceptCandidate(r bounds.Rect, prov bounds.Provenance, instanceID string) {
	out := s.arbiter.Update(r, prov, bounds.Source{URL: s.PageURL})
	switch out {
	case bounds.Accepted:
		if s.metrics != nil {
			s.metrics.RecordSimple(observability.MetricBoundsAccepted, 1, "count")
		}
		if instanceID != "" {
			s.reg.UpdateBounds(instanceID, r.Round())
		}
	case bounds.Unchanged:
		if instanceID != "" {
			s.reg.UpdateBounds(instanceID, r.Round())
		}
	default:
		if s.metrics != nil {
			s.metrics.RecordSimple(observability.MetricBoundsRejected, 1, "count")
		}
		s.logger.Debug("session: candidate dropped",
			"session", s.ID, "method", string(prov), "outcome", out.String())
	}
}

// onBounds is the arbiter listener: every accepted viewport goes to the
// sinks and is queued for injection into the page.
func (s *Session) onBounds(u bounds.Update) {
	rect := u.Bounds
	s.mu.Lock()
	s.pendingBounds = &rect
	s.mu.Unlock()

	s.emit(signal.KindBoundsUpdate, func(ev *signal.Event) {
		ev.Bounds = &u
	})
}

// registerInstance records a capture and primes its renderer with the
// cached marker set.
func (s *Session) registerInstance(f *signal.Frame) {
	if f.InstanceID == "" {
		return
	}
	domain := f.Domain
	if domain == "" {
		domain = s.Domain
	}
	h := overlay.Handle{
		InstanceID: f.InstanceID,
		Kind:       f.MapKind,
		FrameID:    f.URL,
	}
	ren := &pageRenderer{drv: s.drv, instanceID: f.InstanceID}
	_, fresh := s.reg.Register(h, domain, ren)
	if !fresh {
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSimple(observability.MetricCaptureCount, 1, "count")
	}
	s.logger.Info("session: instance captured",
		"session", s.ID, "instance", f.InstanceID, "kind", f.MapKind,
		"domain", domain, "iframe", f.IsIframe)

	s.emit(signal.KindInstance, func(ev *signal.Event) {
		ev.Instance = &signal.Instance{
			InstanceID: f.InstanceID,
			Kind:       f.MapKind,
			Domain:     domain,
			URL:        f.URL,
			Selector:   f.Selector,
		}
	})
}

// emit sends one event to the sinks with a session-scoped sequence
// number for gap detection downstream.
func (s *Session) emit(kind signal.Kind, fill func(*signal.Event)) {
	if s.sinks == nil {
		return
	}
	ev := signal.Event{
		ID:        idgen.New(),
		SessionID: s.ID,
		PageURL:   s.PageURL,
		Domain:    s.Domain,
		Seq:       s.seq.Add(1),
		Kind:      kind,
		Timestamp: s.clock().UnixMilli(),
	}
	if fill != nil {
		fill(&ev)
	}
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.sinks.Send(ctx, ev); err != nil {
		s.logger.Debug("session: sink send failed", "session", s.ID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSimple(observability.MetricEventsDispatched, 1, "count")
	}
}

// probeAlive is the registry's liveness probe.
func (s *Session) probeAlive(ctx context.Context, h overlay.Handle) bool {
	if s.drv == nil {
		return false
	}
	ok, err := s.drv.Alive(ctx, h.InstanceID)
	return err == nil && ok
}

// startSniff wires CDP network events into the arbiter when the site
// profile asks for it. Idempotent; runs once per session.
func (s *Session) startSniff(site siteconfig.Site) {
	if !site.Features.NetworkSniff && !site.Features.APISignals {
		return
	}
	s.mu.Lock()
	if s.sniffing || s.tab == nil || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.sniffing = true
	s.mu.Unlock()

	page := s.tab.Page.Context(s.ctx)
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		s.logger.Warn("session: network enable failed", "session", s.ID, "error", err)
		return
	}

	sniffURL := site.Features.NetworkSniff
	sniffBody := site.Features.APISignals

	pending := netsniff.NewInflight(256)

	go page.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if !sniffURL {
			return
		}
		if hit, ok := netsniff.FromURL(e.Request.URL); ok {
			s.acceptCandidate(hit.Rect, hit.Method, "")
		}
	}, func(e *proto.NetworkResponseReceived) {
		if !sniffBody || !netsniff.Interesting(e.Response.URL) {
			return
		}
		pending.Park(string(e.RequestID), e.Response.URL)
	}, func(e *proto.NetworkLoadingFinished) {
		rawURL, ok := pending.Take(string(e.RequestID))
		if !ok {
			return
		}
		body, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(page)
		if err != nil {
			return
		}
		if hit, ok := netsniff.FromBody(rawURL, []byte(body.Body)); ok {
			s.acceptCandidate(hit.Rect, hit.Method, "")
		}
	}, func(e *proto.NetworkLoadingFailed) {
		// Aborted and errored loads never reach LoadingFinished; drain
		// them so the tracker does not fill with dead entries.
		pending.Drop(string(e.RequestID))
	})()

	s.logger.Info("session: network sniff armed",
		"session", s.ID, "urls", sniffURL, "bodies", sniffBody)
}

// warnBounded logs a warning for a named condition at most
// sessionWarnLimit times, then counts silently. Per-tick noise from a
// page that never settles would otherwise flood the log.
func (s *Session) warnBounded(key, msg string, args ...any) {
	s.mu.Lock()
	s.warns[key]++
	n := s.warns[key]
	s.mu.Unlock()
	if n <= sessionWarnLimit {
		s.logger.Warn(msg, args...)
		if n == sessionWarnLimit {
			s.logger.Warn("session: suppressing further warnings", "session", s.ID, "key", key)
		}
	}
}
