// Package signal defines the structured messages exchanged with the
// in-page sensors and the events mapwatch emits to sinks. These are the
// public API contract: any consumer (the portal API, custom pipelines)
// imports this package to receive and process map observations.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/arpentry/poiportal/bounds"
)

// Kind discriminates messages on the wire. The POI_* values are
// protocol constants shared with the in-page sensors and the
// cross-frame postMessage bridge; renaming one breaks deployed pages.
type Kind string

const (
	KindBoundsUpdate Kind = "POI_BOUNDS_UPDATE" // viewport candidate from any source
	KindDataUpdate   Kind = "POI_DATA_UPDATE"   // marker payload pushed into the page
	KindBridgeReady  Kind = "POI_BRIDGE_READY"  // in-page bridge finished installing
	KindMarkerClick  Kind = "POI_MARKER_CLICK"  // user clicked an overlay marker
	KindMarkerHover  Kind = "POI_MARKER_HOVER"  // pointer entered an overlay marker
	KindMarkerLeave  Kind = "POI_MARKER_LEAVE"  // pointer left an overlay marker
	KindNativeActive Kind = "POI_NATIVE_ACTIVE" // overlay switched to native map markers
	KindInstance     Kind = "POI_INSTANCE"      // a map instance was captured
	KindDebug        Kind = "POI_DEBUG"         // sensor diagnostics
)

// Frame is the raw message the in-page sensors post through the CDP
// binding. Payload fields sit flat beside the type discriminator;
// which of them carry meaning depends on Type.
type Frame struct {
	Type Kind `json:"type"`

	// Viewport fields (POI_BOUNDS_UPDATE).
	Bounds    *bounds.Rect      `json:"bounds,omitempty"`
	Method    bounds.Provenance `json:"method,omitempty"`
	IsIframe  bool              `json:"isIframe,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"` // epoch millis at the sensor

	// Instance fields (POI_INSTANCE, POI_NATIVE_ACTIVE).
	InstanceID string `json:"instanceId,omitempty"`
	MapKind    string `json:"kind,omitempty"` // "google" or "mapbox"
	Domain     string `json:"domain,omitempty"`
	Selector   string `json:"selector,omitempty"`

	// URL is shared: the page URL for viewport candidates, the frame
	// URL for instance reports.
	URL string `json:"url,omitempty"`

	// Marker fields (POI_MARKER_CLICK / HOVER / LEAVE).
	ID  string  `json:"id,omitempty"`
	Lat float64 `json:"lat,omitempty"`
	Lng float64 `json:"lng,omitempty"`

	// Diagnostic fields (POI_DEBUG).
	Where   string `json:"where,omitempty"`
	Message string `json:"message,omitempty"`
}

// DecodeFrame parses one binding payload. Unknown Type values are not
// an error here: callers decide whether to drop or log them, so a
// sensor can ship a new message before the watcher learns about it.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("signal: decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("signal: frame without type")
	}
	return &f, nil
}

// Marker is one renderable point in a data-update payload. The JSON
// shape is what the overlay positions and labels, so field names are
// wire constants too.
type Marker struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Label  string  `json:"label"`
	Color  string  `json:"color,omitempty"`
	ZIndex int     `json:"zIndex,omitempty"`
	URL    string  `json:"url,omitempty"`
	Note   string  `json:"note,omitempty"`
	Group  string  `json:"group,omitempty"`
}

// DataUpdate is the marker set pushed into a page. Revision lets the
// overlay drop re-deliveries of a set it already rendered.
type DataUpdate struct {
	POIs     []Marker `json:"pois"`
	Revision int64    `json:"revision"`
}

// MarshalDataUpdate serialises a DataUpdate for injection into a page.
func MarshalDataUpdate(d *DataUpdate) ([]byte, error) {
	return json.Marshal(d)
}
