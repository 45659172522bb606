// Package inject owns the in-page assets and their Go-side driver. The
// three embedded scripts form one pipeline: hijack.js installs the
// signal bridge and constructor interception, probe.js adds passive
// discovery, overlay.js renders markers over captured containers.
package inject

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/mapwatch/internal/scan"
	"github.com/arpentry/poiportal/siteconfig"
)

//go:embed hijack.js
var hijackJS string

//go:embed probe.js
var probeJS string

//go:embed overlay.js
var overlayJS string

// BindingName is the Runtime binding the bridge emits through. The
// observer owns the binding registration and listens for calls on it;
// the injector only ships code that talks to it.
const BindingName = "__poiportal_emit"

// InstanceInfo is one entry from the in-page instance registry.
type InstanceInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Domain string `json:"domain"`
	Alive  bool   `json:"alive"`
}

// OverlayStatus reports the renderer's in-page state.
type OverlayStatus struct {
	Revision int64 `json:"revision"`
	Markers  int   `json:"markers"`
	Native   bool  `json:"native"`
	Layers   int   `json:"layers"`
}

// Injector drives the embedded assets on one page.
type Injector struct {
	page   *rod.Page
	site   siteconfig.Site
	logger *slog.Logger
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Injector) { i.logger = l }
}

// New creates an Injector for the page. The site profile is serialised
// into the page before the assets run; the assets read selectors,
// styling and feature flags from it.
func New(page *rod.Page, site siteconfig.Site, opts ...Option) *Injector {
	i := &Injector{
		page:   page,
		site:   site,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// SetSite replaces the site profile used for subsequent Apply calls.
// Already-installed documents keep the profile they were injected with.
func (i *Injector) SetSite(site siteconfig.Site) {
	i.site = site
}

// bundle is the full injected payload: site profile assignment followed
// by the three assets, each individually idempotent.
func (i *Injector) bundle() (string, error) {
	siteJSON, err := json.Marshal(i.site)
	if err != nil {
		return "", fmt.Errorf("inject: marshal site profile: %w", err)
	}
	return fmt.Sprintf("window.__poiportal_site = %s;\n%s\n%s\n%s",
		siteJSON, hijackJS, probeJS, overlayJS), nil
}

// Install arms the page: the bundle as a new-document script so
// interception beats library load on every navigation, plus one
// immediate Apply for the already-loaded document. The binding must be
// registered first (observer.Start) or early frames are lost.
func (i *Injector) Install(ctx context.Context) error {
	page := i.page.Context(ctx)

	src, err := i.bundle()
	if err != nil {
		return err
	}
	if _, err := (proto.PageAddScriptToEvaluateOnNewDocument{Source: src}).Call(page); err != nil {
		return fmt.Errorf("inject: addScriptToEvaluateOnNewDocument: %w", err)
	}

	if err := i.Apply(ctx); err != nil {
		return err
	}

	i.logger.Debug("inject: assets installed", "domain", i.site.Domain)
	return nil
}

// Apply evaluates the bundle in the current document. Safe to call every
// tick: each asset begins with a window-guard and returns immediately
// when already installed, which is what keeps SPA soft navigations and
// re-applies cheap.
func (i *Injector) Apply(ctx context.Context) error {
	src, err := i.bundle()
	if err != nil {
		return err
	}
	if _, err := i.page.Context(ctx).Eval(src); err != nil {
		return fmt.Errorf("inject: apply bundle: %w", err)
	}
	return nil
}

// Scan runs one discovery pass and returns how many new instances the
// probe registered.
func (i *Injector) Scan(ctx context.Context, opts scan.Options) (int, error) {
	res, err := i.page.Context(ctx).Eval(`(opts) => {
		var p = window.__poiportal;
		if (!p || !p.probeInstalled) { return -1; }
		return p.scan(opts);
	}`, opts)
	if err != nil {
		return 0, fmt.Errorf("inject: scan: %w", err)
	}
	n := res.Value.Int()
	if n < 0 {
		return 0, fmt.Errorf("inject: probe not installed")
	}
	return n, nil
}

// Instances snapshots the in-page instance registry.
func (i *Injector) Instances(ctx context.Context) ([]InstanceInfo, error) {
	res, err := i.page.Context(ctx).Eval(`() => {
		var p = window.__poiportal;
		return p ? p.instances() : [];
	}`)
	if err != nil {
		return nil, fmt.Errorf("inject: instances: %w", err)
	}
	var out []InstanceInfo
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &out); err != nil {
		return nil, fmt.Errorf("inject: decode instances: %w", err)
	}
	return out, nil
}

// ReadBounds polls one instance for its current viewport. A nil rect
// with nil error means the instance cannot report right now.
func (i *Injector) ReadBounds(ctx context.Context, instanceID string) (*bounds.Rect, error) {
	res, err := i.page.Context(ctx).Eval(`(id) => {
		var p = window.__poiportal;
		return p ? p.readBounds(id) : null;
	}`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("inject: read bounds: %w", err)
	}
	if res.Value.Nil() {
		return nil, nil
	}
	var r bounds.Rect
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &r); err != nil {
		return nil, fmt.Errorf("inject: decode bounds: %w", err)
	}
	return &r, nil
}

// Alive probes one instance for liveness: object still reachable and
// container still attached to its document.
func (i *Injector) Alive(ctx context.Context, instanceID string) (bool, error) {
	res, err := i.page.Context(ctx).Eval(`(id) => {
		var p = window.__poiportal;
		return p ? p.alive(id) : false;
	}`, instanceID)
	if err != nil {
		return false, fmt.Errorf("inject: alive: %w", err)
	}
	return res.Value.Bool(), nil
}

// PushData ships a marker set into the page. Returns false when the
// overlay dropped the update as a stale revision.
func (i *Injector) PushData(ctx context.Context, data []byte) (bool, error) {
	res, err := i.page.Context(ctx).Eval(`(update) => {
		var p = window.__poiportal;
		if (!p || !p.overlayInstalled) { return false; }
		return p.setData(update);
	}`, json.RawMessage(data))
	if err != nil {
		return false, fmt.Errorf("inject: push data: %w", err)
	}
	return res.Value.Bool(), nil
}

// ApplyBounds pushes the winning rectangle into the page: the overlay
// mirrors it onto the DOM attributes and repositions markers.
func (i *Injector) ApplyBounds(ctx context.Context, r *bounds.Rect) error {
	if r == nil {
		return nil
	}
	_, err := i.page.Context(ctx).Eval(`(rect) => {
		var p = window.__poiportal;
		if (p && p.overlayInstalled) { p.applyBounds(rect); }
	}`, r)
	if err != nil {
		return fmt.Errorf("inject: apply bounds: %w", err)
	}
	return nil
}

// OverlayStatus reads the renderer state.
func (i *Injector) OverlayStatus(ctx context.Context) (*OverlayStatus, error) {
	res, err := i.page.Context(ctx).Eval(`() => {
		var p = window.__poiportal;
		if (!p || !p.overlayInstalled) { return null; }
		return p.overlayStatus();
	}`)
	if err != nil {
		return nil, fmt.Errorf("inject: overlay status: %w", err)
	}
	if res.Value.Nil() {
		return nil, nil
	}
	var st OverlayStatus
	if err := json.Unmarshal([]byte(res.Value.JSON("", "")), &st); err != nil {
		return nil, fmt.Errorf("inject: decode overlay status: %w", err)
	}
	return &st, nil
}

// TeardownInstance removes one instance's marker layer.
func (i *Injector) TeardownInstance(ctx context.Context, instanceID string) error {
	_, err := i.page.Context(ctx).Eval(`(id) => {
		var p = window.__poiportal;
		if (p && p.overlayInstalled) { p.teardownInstance(id); }
	}`, instanceID)
	if err != nil {
		return fmt.Errorf("inject: teardown instance: %w", err)
	}
	return nil
}

// Teardown removes every marker layer and clears the DOM mirror.
func (i *Injector) Teardown(ctx context.Context) error {
	_, err := i.page.Context(ctx).Eval(`() => {
		var p = window.__poiportal;
		if (p && p.overlayInstalled) { p.teardownOverlay(); }
	}`)
	if err != nil {
		return fmt.Errorf("inject: teardown: %w", err)
	}
	return nil
}
