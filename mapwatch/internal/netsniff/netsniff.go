// Package netsniff extracts viewport rectangles from page traffic.
// Real-estate sites ship their visible map window in search requests
// and API responses; parsing those gives a low-trust bounds source that
// works even when no map instance was captured. URL hits are tagged
// network-url, body hits network-body, except Redfin search API bodies
// which carry the stronger redfin-api tag.
package netsniff

import (
	"bytes"
	"encoding/json"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/arpentry/poiportal/bounds"
	"github.com/arpentry/poiportal/netguard"
)

// Inflight tracks requests whose response bodies are still loading.
// Bodies are only retrievable once loading finishes, so the sniffer
// parks the interesting URL here in between. The set is bounded; when
// full, Park drops new requests until finished or failed loads free
// slots, so a page that never settles cannot grow it without limit.
type Inflight struct {
	mu    sync.Mutex
	limit int
	urls  map[string]string
}

// NewInflight creates a tracker holding at most limit requests.
func NewInflight(limit int) *Inflight {
	return &Inflight{limit: limit, urls: make(map[string]string)}
}

// Park records a request's URL until its body becomes readable.
// Returns false when the set is full and the request was dropped.
func (f *Inflight) Park(id, rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) >= f.limit {
		return false
	}
	f.urls[id] = rawURL
	return true
}

// Take removes and returns the parked URL for a finished request.
func (f *Inflight) Take(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rawURL, ok := f.urls[id]
	delete(f.urls, id)
	return rawURL, ok
}

// Drop discards a request that will never finish (aborted, network
// error), freeing its slot.
func (f *Inflight) Drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.urls, id)
}

// Len returns the number of parked requests.
func (f *Inflight) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

// Hit is one extracted viewport candidate.
type Hit struct {
	Rect   bounds.Rect
	Method bounds.Provenance
}

// FromURL parses a request URL for a viewport rectangle. Recognised
// forms, tried in order:
//
//	searchQueryState={"mapBounds":{...}}   (Zillow)
//	north/south/east/west
//	neLat/neLng/swLat/swLng
//	maxLat/minLat/maxLng/minLng
//	bbox=west,south,east,north
func FromURL(raw string) (Hit, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Hit{}, false
	}
	q := u.Query()
	params := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			params[strings.ToLower(k)] = vs[0]
		}
	}

	if state, ok := params["searchquerystate"]; ok {
		var sqs struct {
			MapBounds *bounds.Rect `json:"mapBounds"`
		}
		if err := json.Unmarshal([]byte(state), &sqs); err == nil && sqs.MapBounds != nil {
			if r := *sqs.MapBounds; plausible(r) {
				return Hit{Rect: r, Method: bounds.ProvNetworkURL}, true
			}
		}
	}

	groups := [][4]string{
		{"north", "south", "east", "west"},
		{"nelat", "swlat", "nelng", "swlng"},
		{"maxlat", "minlat", "maxlng", "minlng"},
	}
	for _, g := range groups {
		r, ok := rectFromParams(params, g)
		if !ok {
			continue
		}
		if plausible(r) {
			return Hit{Rect: r, Method: bounds.ProvNetworkURL}, true
		}
	}

	if bbox, ok := params["bbox"]; ok {
		parts := strings.Split(bbox, ",")
		if len(parts) == 4 {
			w, e1 := parseFloat(parts[0])
			s, e2 := parseFloat(parts[1])
			e, e3 := parseFloat(parts[2])
			n, e4 := parseFloat(parts[3])
			if e1 && e2 && e3 && e4 {
				r := bounds.Rect{North: n, South: s, East: e, West: w}
				if plausible(r) {
					return Hit{Rect: r, Method: bounds.ProvNetworkURL}, true
				}
			}
		}
	}

	return Hit{}, false
}

// rectFromParams reads one edge group: g holds the parameter names for
// north, south, east, west in that order.
func rectFromParams(params map[string]string, g [4]string) (bounds.Rect, bool) {
	var vals [4]float64
	for i, name := range g {
		raw, ok := params[name]
		if !ok {
			return bounds.Rect{}, false
		}
		v, ok := parseFloat(raw)
		if !ok {
			return bounds.Rect{}, false
		}
		vals[i] = v
	}
	return bounds.Rect{North: vals[0], South: vals[1], East: vals[2], West: vals[3]}, true
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// xssiPrefixes are stripped before JSON parsing. Redfin fronts its API
// bodies with {}&&.
var xssiPrefixes = []string{"{}&&", ")]}',", ")]}'"}

// maxWalkDepth bounds the body walk; viewports live near the top of
// response envelopes, not inside listing arrays.
const maxWalkDepth = 5

// preferredKeys are descended into first so a body carrying several
// rectangles resolves deterministically to the viewport-ish one.
var preferredKeys = []string{"mapbounds", "viewport", "bounds", "boundingbox", "region"}

// FromBody parses a response body for a viewport rectangle. Bodies
// larger than netguard.MaxResponseBody are skipped outright.
func FromBody(rawURL string, body []byte) (Hit, bool) {
	if int64(len(body)) > netguard.MaxResponseBody {
		return Hit{}, false
	}
	body = bytes.TrimSpace(body)
	for _, p := range xssiPrefixes {
		if bytes.HasPrefix(body, []byte(p)) {
			body = bytes.TrimSpace(body[len(p):])
			break
		}
	}
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return Hit{}, false
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Hit{}, false
	}
	r, ok := findRect(doc, 0)
	if !ok {
		return Hit{}, false
	}

	method := bounds.ProvNetworkBody
	if isRedfinAPI(rawURL) {
		method = bounds.ProvSiteAPI
	}
	return Hit{Rect: r, Method: method}, true
}

// findRect walks the decoded document depth-first. Maps are checked for
// the four edges directly, then descended preferred keys first and the
// rest in sorted order, so repeated parses of one body agree.
func findRect(v any, depth int) (bounds.Rect, bool) {
	if depth > maxWalkDepth {
		return bounds.Rect{}, false
	}
	switch node := v.(type) {
	case map[string]any:
		if r, ok := rectFromMap(node); ok {
			return r, true
		}
		lower := make(map[string]any, len(node))
		for k, val := range node {
			lower[strings.ToLower(k)] = val
		}
		for _, k := range preferredKeys {
			if val, ok := lower[k]; ok {
				if r, ok := findRect(val, depth+1); ok {
					return r, true
				}
			}
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if r, ok := findRect(node[k], depth+1); ok {
				return r, true
			}
		}
	case []any:
		// Arrays are mostly listings; peek at the head only.
		for i, el := range node {
			if i >= 2 {
				break
			}
			if r, ok := findRect(el, depth+1); ok {
				return r, true
			}
		}
	}
	return bounds.Rect{}, false
}

func rectFromMap(m map[string]any) (bounds.Rect, bool) {
	var r bounds.Rect
	var have int
	for k, v := range m {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		switch strings.ToLower(k) {
		case "north":
			r.North, have = f, have|1
		case "south":
			r.South, have = f, have|2
		case "east":
			r.East, have = f, have|4
		case "west":
			r.West, have = f, have|8
		}
	}
	if have != 15 {
		return bounds.Rect{}, false
	}
	if !plausible(r) {
		return bounds.Rect{}, false
	}
	return r, true
}

// Interesting reports whether a response body is worth pulling over the
// wire at all. Body fetches through the devtools protocol are not free,
// so only known search-API shapes qualify.
func Interesting(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if isRedfinAPI(rawURL) {
		return true
	}
	for _, frag := range []string{"getsearchpagestate", "search-page-state", "map-search", "geosearch"} {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

func isRedfinAPI(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host != "redfin.com" && !strings.HasSuffix(host, ".redfin.com") {
		return false
	}
	return strings.Contains(strings.ToLower(u.Path), "/stingray/")
}

// plausible rejects rectangles that cannot be a real viewport: missing
// or reversed latitude edges, out-of-range values, or a degenerate
// zero-area window. Antimeridian crossings (east < west) are fine.
func plausible(r bounds.Rect) bool {
	for _, v := range [4]float64{r.North, r.South, r.East, r.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if r.North > 90 || r.North < -90 || r.South > 90 || r.South < -90 {
		return false
	}
	if r.East > 180 || r.East < -180 || r.West > 180 || r.West < -180 {
		return false
	}
	if r.North <= r.South {
		return false
	}
	if r.East == r.West {
		return false
	}
	return true
}
