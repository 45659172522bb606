package signal

import "github.com/arpentry/poiportal/bounds"

// Event is the atomic unit emitted to sinks. One event = one arbiter
// acceptance, one marker interaction, or one instance lifecycle change.
type Event struct {
	ID        string `json:"id"`         // UUIDv7
	SessionID string `json:"session_id"` // stable identifier provided by caller
	PageURL   string `json:"page_url"`
	Domain    string `json:"domain"`
	Seq       uint64 `json:"seq"` // monotonically increasing per session (gap detection)
	Kind      Kind   `json:"kind"`

	// Exactly one of these is set, matching Kind.
	Bounds   *bounds.Update `json:"bounds,omitempty"`
	Marker   *MarkerEvent   `json:"marker,omitempty"`
	Instance *Instance      `json:"instance,omitempty"`

	Timestamp int64 `json:"timestamp"` // epoch millis at emit
}

// MarkerEvent is a user interaction with an overlay marker.
type MarkerEvent struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Instance describes a captured map.
type Instance struct {
	InstanceID string `json:"instanceId"`
	Kind       string `json:"kind"` // "google" or "mapbox"
	Domain     string `json:"domain"`
	URL        string `json:"url,omitempty"`
	Selector   string `json:"selector,omitempty"`
}

// Status is the periodic session report: everything captured and the
// last published viewport. The sink analogue of a snapshot.
type Status struct {
	SessionID string            `json:"session_id"`
	PageURL   string            `json:"page_url"`
	Domain    string            `json:"domain"`
	Bounds    *bounds.Rect      `json:"bounds,omitempty"`
	Method    bounds.Provenance `json:"method,omitempty"`
	Instances []InstanceStatus  `json:"instances"`
	Timestamp int64             `json:"timestamp"`
}

// InstanceStatus is one captured map in a Status report.
type InstanceStatus struct {
	InstanceID string `json:"instanceId"`
	Kind       string `json:"kind"`
	Domain     string `json:"domain"`
	Active     bool   `json:"active"`
	AgeMS      int64  `json:"age_ms"`
}
