// Package siteconfig holds the declarative per-site profiles that drive
// map discovery: which map library a site uses, which CSS selectors find
// its map containers, how markers should look there, and which
// site-specific signal adapters to enable. Profiles live in SQLite,
// seeded from built-ins and optionally from a YAML file that hot-reloads.
package siteconfig

import (
	"strings"
)

// MapType names the map library a site is known to use. Auto means the
// interceptor watches for both shapes.
type MapType string

const (
	MapGoogle MapType = "google"
	MapMapbox MapType = "mapbox"
	MapAuto   MapType = "auto"
)

// DefaultDomain keys the fallback profile used for sites with no entry
// of their own.
const DefaultDomain = "default"

// Style is the marker styling forwarded to the renderer. The visual
// layer interprets it; the agent only stores and ships it.
type Style struct {
	MarkerColor string  `json:"markerColor,omitempty" yaml:"marker_color,omitempty"`
	MarkerScale float64 `json:"markerScale,omitempty" yaml:"marker_scale,omitempty"`
	ZIndex      int     `json:"zIndex,omitempty" yaml:"z_index,omitempty"`
}

// Features toggles the optional signal adapters per site.
type Features struct {
	// ReduxSignals enables the store subscription and one-shot store
	// reads (redfin-redux-sub / redfin-redux provenances).
	ReduxSignals bool `json:"reduxSignals,omitempty" yaml:"redux_signals,omitempty"`
	// APISignals enables viewport extraction from site API response
	// bodies (redfin-api provenance).
	APISignals bool `json:"apiSignals,omitempty" yaml:"api_signals,omitempty"`
	// GlobalSignals enables reads of known page globals (redfin-global
	// provenance).
	GlobalSignals bool `json:"globalSignals,omitempty" yaml:"global_signals,omitempty"`
	// NetworkSniff enables bounds parsing from request URLs and
	// response bodies (network-url / network-body provenances).
	NetworkSniff bool `json:"networkSniff,omitempty" yaml:"network_sniff,omitempty"`
	// NativeMarkers lets the renderer try library-native markers before
	// falling back to the DOM overlay.
	NativeMarkers bool `json:"nativeMarkers,omitempty" yaml:"native_markers,omitempty"`
}

// Site is one per-domain profile. Domain is stored normalized (lowercase,
// no www prefix); lookups match exact first, then by suffix, then fall
// back to the DefaultDomain entry.
type Site struct {
	Domain    string   `json:"domain" yaml:"domain"`
	MapType   MapType  `json:"mapType" yaml:"map_type"`
	Selectors []string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	Style     Style    `json:"style,omitempty" yaml:"style,omitempty"`
	Features  Features `json:"features,omitempty" yaml:"features,omitempty"`
	Enabled   bool     `json:"enabled" yaml:"enabled"`
}

// IsDefault reports whether this is the fallback profile.
func (s Site) IsDefault() bool { return s.Domain == DefaultDomain }

// Normalize canonicalises a hostname for profile keys and lookups:
// lowercase, trimmed, port stripped, leading "www." removed.
func Normalize(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(h, ":"); i > 0 && !strings.Contains(h, "]") {
		h = h[:i]
	}
	h = strings.TrimSuffix(h, ".")
	h = strings.TrimPrefix(h, "www.")
	return h
}

// Matches reports whether host falls under the profile's domain: equal
// after normalization, or a subdomain of it. The default profile
// matches nothing; it is applied only as an explicit fallback.
func (s Site) Matches(host string) bool {
	if s.IsDefault() {
		return false
	}
	h := Normalize(host)
	return h == s.Domain || strings.HasSuffix(h, "."+s.Domain)
}
