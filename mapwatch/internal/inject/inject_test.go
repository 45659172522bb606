package inject

import (
	"encoding/json"
	"testing"

	"github.com/dop251/goja"
)

// bootstrapJS builds the minimal page environment the assets need: a
// window alias for the global object, a document with a tiny element
// model, and the emit binding routed into the test recorder.
const bootstrapJS = `
var window = (function () { return this; })();
window.top = window;
window.parent = window;
window.location = { href: 'https://www.redfin.com/city/1/WA/Seattle', hostname: 'www.redfin.com' };
window.addEventListener = function () {};
window.getComputedStyle = function () { return { position: 'relative' }; };

var document = {
	location: { hostname: 'www.redfin.com' },
	getElementById: function () { return null; },
	querySelectorAll: function () { return []; },
	contains: function () { return true; }
};
window.document = document;

function makeEl(tag) {
	return {
		nodeType: 1,
		tagName: String(tag).toUpperCase(),
		children: [],
		childNodes: [],
		attrs: {},
		className: '',
		id: '',
		isConnected: true,
		clientWidth: 800,
		clientHeight: 600,
		style: { transform: '' },
		ownerDocument: document,
		parentNode: null,
		firstChild: null,
		setAttribute: function (k, v) { this.attrs[k] = String(v); },
		getAttribute: function (k) { return this.attrs[k]; },
		removeAttribute: function (k) { delete this.attrs[k]; },
		addEventListener: function () {},
		appendChild: function (c) {
			this.children.push(c);
			this.childNodes.push(c);
			this.firstChild = this.childNodes[0];
			c.parentNode = this;
			return c;
		},
		removeChild: function (c) {
			var i = this.childNodes.indexOf(c);
			if (i >= 0) { this.childNodes.splice(i, 1); }
			i = this.children.indexOf(c);
			if (i >= 0) { this.children.splice(i, 1); }
			this.firstChild = this.childNodes[0] || null;
			c.parentNode = null;
		}
	};
}
document.createElement = function (tag) { return makeEl(tag); };
document.documentElement = makeEl('html');

window.__poiportal_emit = function (s) { __record(s); };
`

// newPortalVM boots a goja runtime with the page shim, the given site
// profile, and the hijack + probe assets installed. Emitted frames are
// collected into the returned slice.
func newPortalVM(t *testing.T, siteJSON string) (*goja.Runtime, *[]map[string]any) {
	t.Helper()
	vm := goja.New()
	frames := &[]map[string]any{}
	if err := vm.Set("__record", func(s string) {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			*frames = append(*frames, m)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := vm.RunString(bootstrapJS); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if siteJSON == "" {
		siteJSON = `{"mapType":"auto","features":{}}`
	}
	if _, err := vm.RunString("window.__poiportal_site = " + siteJSON + ";"); err != nil {
		t.Fatalf("site profile: %v", err)
	}
	if _, err := vm.RunString(hijackJS); err != nil {
		t.Fatalf("hijack.js: %v", err)
	}
	if _, err := vm.RunString(probeJS); err != nil {
		t.Fatalf("probe.js: %v", err)
	}
	return vm, frames
}

func frameKinds(frames *[]map[string]any) []string {
	out := make([]string, 0, len(*frames))
	for _, f := range *frames {
		if t, ok := f["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}

func hasKind(frames *[]map[string]any, kind string) bool {
	for _, k := range frameKinds(frames) {
		if k == kind {
			return true
		}
	}
	return false
}

func TestBridgeInstall_EmitsReadyAndMirrorsStatus(t *testing.T) {
	vm, frames := newPortalVM(t, "")

	if !hasKind(frames, "POI_BRIDGE_READY") {
		t.Fatalf("no POI_BRIDGE_READY among %v", frameKinds(frames))
	}

	v, err := vm.RunString(`document.documentElement.getAttribute('data-poi-bridge-status')`)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "ONLINE" {
		t.Fatalf("bridge status attr = %q", v.String())
	}

	// Re-running the assets must be a no-op (window guard).
	before := len(*frames)
	if _, err := vm.RunString(hijackJS); err != nil {
		t.Fatal(err)
	}
	if len(*frames) != before {
		t.Fatal("second install emitted frames")
	}
}

// A mapbox-shaped constructor assigned after install is wrapped by the
// namespace trap, and an instance constructed from it is captured at
// construction time — no discovery pass involved.
func TestConstructorCapture_WithoutScan(t *testing.T) {
	vm, frames := newPortalVM(t, "")

	_, err := vm.RunString(`
		function FakeMap(opts) { this._container = opts.container; }
		FakeMap.prototype.on = function () {};
		FakeMap.prototype.getContainer = function () { return this._container; };
		FakeMap.prototype.getBounds = function () {
			return { north: 47.734145, south: 47.495488, east: -122.224433, west: -122.459696 };
		};
		window.mapboxgl = { Map: FakeMap };

		var el = document.createElement('div');
		document.documentElement.appendChild(el);
		var inst = new window.mapboxgl.Map({ container: el });
		window.__test_inst = inst;
	`)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	v, err := vm.RunString(`window.__poiportal.instances()`)
	if err != nil {
		t.Fatal(err)
	}
	var instances []struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Domain string `json:"domain"`
		Alive  bool   `json:"alive"`
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(raw, &instances); err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("instances = %d, want 1", len(instances))
	}
	if instances[0].Kind != "mapbox" {
		t.Fatalf("kind = %q", instances[0].Kind)
	}
	if instances[0].Domain != "www.redfin.com" {
		t.Fatalf("domain = %q", instances[0].Domain)
	}
	if !instances[0].Alive {
		t.Fatal("instance not alive")
	}

	if !hasKind(frames, "POI_INSTANCE") {
		t.Fatalf("no POI_INSTANCE among %v", frameKinds(frames))
	}
	if !hasKind(frames, "POI_BOUNDS_UPDATE") {
		t.Fatalf("no POI_BOUNDS_UPDATE among %v", frameKinds(frames))
	}

	// Wrapping must be transparent: instanceof still holds.
	v, err = vm.RunString(`window.__test_inst instanceof window.mapboxgl.Map`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("instanceof broken by the wrapper")
	}
}

func TestConstructorCapture_BoundsCarryProvenance(t *testing.T) {
	vm, frames := newPortalVM(t, "")

	_, err := vm.RunString(`
		function FakeMap(opts) { this._container = opts.container; }
		FakeMap.prototype.on = function () {};
		FakeMap.prototype.getContainer = function () { return this._container; };
		FakeMap.prototype.getBounds = function () {
			return { north: 40.1, south: 40.0, east: -73.9, west: -74.0 };
		};
		window.mapboxgl = { Map: FakeMap };
		new window.mapboxgl.Map({ container: document.createElement('div') });
	`)
	if err != nil {
		t.Fatal(err)
	}
	_ = vm

	for _, f := range *frames {
		if f["type"] == "POI_BOUNDS_UPDATE" {
			if f["method"] != "instance-event" {
				t.Fatalf("method = %v, want instance-event", f["method"])
			}
			b, ok := f["bounds"].(map[string]any)
			if !ok {
				t.Fatalf("bounds missing: %v", f)
			}
			if b["north"] != 40.1 {
				t.Fatalf("north = %v", b["north"])
			}
			return
		}
	}
	t.Fatal("no bounds frame emitted")
}

// A map-shaped object reachable only through a DOM element property is
// found and registered within a single discovery pass.
func TestScan_FindsDuckTypedDOMProperty(t *testing.T) {
	vm, _ := newPortalVM(t, "")

	_, err := vm.RunString(`
		var widget = document.createElement('map-widget');
		widget.map = {
			on: function () {},
			getContainer: function () { return widget; },
			getBounds: function () {
				return { north: 33.9, south: 33.7, east: -118.1, west: -118.4 };
			}
		};
		document.documentElement.appendChild(widget);
	`)
	if err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`window.__poiportal.scan({ full: true })`)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if v.ToInteger() != 1 {
		t.Fatalf("scan found %d instances, want 1", v.ToInteger())
	}

	// Same pass again: the registration path dedups.
	v, err = vm.RunString(`window.__poiportal.scan({ full: true })`)
	if err != nil {
		t.Fatal(err)
	}
	if v.ToInteger() != 0 {
		t.Fatalf("second scan found %d, want 0", v.ToInteger())
	}
}

func TestScan_NonFullPassDoesNothing(t *testing.T) {
	vm, _ := newPortalVM(t, "")

	_, err := vm.RunString(`
		var w = document.createElement('map-widget');
		w.map = {
			on: function () {},
			getContainer: function () { return w; },
			getBounds: function () { return { north: 1, south: 0, east: 1, west: 0 }; }
		};
		document.documentElement.appendChild(w);
	`)
	if err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`window.__poiportal.scan({ full: false })`)
	if err != nil {
		t.Fatal(err)
	}
	if v.ToInteger() != 0 {
		t.Fatalf("cheap pass registered %d instances", v.ToInteger())
	}
}

func TestScan_SkipsIconLikeCustomElements(t *testing.T) {
	vm, _ := newPortalVM(t, "")

	_, err := vm.RunString(`
		var icon = document.createElement('fancy-icon');
		icon.map = {
			on: function () {},
			getContainer: function () { return icon; },
			getBounds: function () { return { north: 1, south: 0, east: 1, west: 0 }; }
		};
		document.documentElement.appendChild(icon);
	`)
	if err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`window.__poiportal.scan({ full: true })`)
	if err != nil {
		t.Fatal(err)
	}
	if v.ToInteger() != 0 {
		t.Fatalf("icon-like element should be skipped, found %d", v.ToInteger())
	}
}

func TestOverlay_RevisionDedup(t *testing.T) {
	vm, _ := newPortalVM(t, "")
	if _, err := vm.RunString(overlayJS); err != nil {
		t.Fatalf("overlay.js: %v", err)
	}

	run := func(js string) bool {
		t.Helper()
		v, err := vm.RunString(js)
		if err != nil {
			t.Fatal(err)
		}
		return v.ToBoolean()
	}

	if !run(`window.__poiportal.setData({ pois: [{ id: 'p1', lat: 1, lng: 1, label: 'Cafe' }], revision: 1 })`) {
		t.Fatal("first revision rejected")
	}
	if run(`window.__poiportal.setData({ pois: [], revision: 1 })`) {
		t.Fatal("replayed revision accepted")
	}
	if !run(`window.__poiportal.setData({ pois: [], revision: 2 })`) {
		t.Fatal("newer revision rejected")
	}
}

func TestOverlay_NativeActivePath(t *testing.T) {
	vm, frames := newPortalVM(t, `{"mapType":"auto","features":{"nativeMarkers":true}}`)
	if _, err := vm.RunString(overlayJS); err != nil {
		t.Fatal(err)
	}

	if _, err := vm.RunString(`window.__poiportal.setData({ pois: [{ id: 'p1', lat: 1, lng: 1 }], revision: 1 })`); err != nil {
		t.Fatal(err)
	}

	if !hasKind(frames, "POI_NATIVE_ACTIVE") {
		t.Fatalf("no POI_NATIVE_ACTIVE among %v", frameKinds(frames))
	}

	v, err := vm.RunString(`window.__poiportal.overlayStatus().native`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("overlay status should report native mode")
	}
}

func TestOverlay_ApplyBoundsMirrorsAttributes(t *testing.T) {
	vm, _ := newPortalVM(t, "")
	if _, err := vm.RunString(overlayJS); err != nil {
		t.Fatal(err)
	}

	_, err := vm.RunString(`window.__poiportal.applyBounds({ north: 47.7, south: 47.5, east: -122.2, west: -122.4 })`)
	if err != nil {
		t.Fatal(err)
	}

	v, err := vm.RunString(`document.documentElement.getAttribute('data-poi-bounds')`)
	if err != nil {
		t.Fatal(err)
	}
	var r struct {
		North float64 `json:"north"`
	}
	if err := json.Unmarshal([]byte(v.String()), &r); err != nil {
		t.Fatalf("data-poi-bounds not JSON: %v", err)
	}
	if r.North != 47.7 {
		t.Fatalf("mirrored north = %v", r.North)
	}

	if _, err := vm.RunString(`window.__poiportal.teardownOverlay()`); err != nil {
		t.Fatal(err)
	}
	v, err = vm.RunString(`document.documentElement.getAttribute('data-poi-bounds') === undefined`)
	if err != nil {
		t.Fatal(err)
	}
	if !v.ToBoolean() {
		t.Fatal("teardown should clear the bounds mirror")
	}
}

func TestRedux_StoreSubscriptionSignals(t *testing.T) {
	vm, frames := newPortalVM(t, `{"mapType":"auto","features":{"reduxSignals":true}}`)

	_, err := vm.RunString(`
		var listeners = [];
		window.__REDUX_STORE__ = {
			getState: function () {
				return { map: { bounds: { north: 47.7, south: 47.5, east: -122.2, west: -122.4 } } };
			},
			subscribe: function (fn) { listeners.push(fn); }
		};
		window.__poiportal.pollAdapters();
	`)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, f := range *frames {
		if f["type"] == "POI_BOUNDS_UPDATE" && f["method"] == "redfin-redux" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no redfin-redux bounds frame among %v", frameKinds(frames))
	}

	// The subscription fires with the push provenance.
	_, err = vm.RunString(`for (var i = 0; i < listeners.length; i++) { listeners[i](); }`)
	if err != nil {
		t.Fatal(err)
	}
	foundSub := false
	for _, f := range *frames {
		if f["type"] == "POI_BOUNDS_UPDATE" && f["method"] == "redfin-redux-sub" {
			foundSub = true
		}
	}
	if !foundSub {
		t.Fatalf("no redfin-redux-sub frame among %v", frameKinds(frames))
	}
}
