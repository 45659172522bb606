package bounds

// Provenance tags where a viewport candidate came from. Tags are wire
// values: they travel unchanged in bounds-update messages, sink
// envelopes and the data-poi-* attribute mirror, so renaming one is a
// protocol change.
type Provenance string

const (
	// ProvInstanceEvent is a bounds-changed event fired by a captured
	// map instance (idle/bounds_changed on Google, moveend/zoomend on
	// Mapbox).
	ProvInstanceEvent Provenance = "instance-event"

	// ProvInstanceCapture is a polled getBounds read off a captured
	// instance, taken once per orchestration tick.
	ProvInstanceCapture Provenance = "instance-capture"

	// Redfin ships its viewport through a Redux store. Subscription
	// pushes are near-authoritative; one-shot state reads and the
	// legacy page global are much weaker.
	ProvReduxSub   Provenance = "redfin-redux-sub"
	ProvReduxRead  Provenance = "redfin-redux"
	ProvSiteGlobal Provenance = "redfin-global"

	// ProvSiteAPI is a viewport lifted from a Redfin search API
	// response body.
	ProvSiteAPI Provenance = "redfin-api"

	// Network sniffing: bounds parsed out of request URL parameters or
	// out of response bodies of map/search traffic. Cheap, noisy, and
	// often a tile-fetch rectangle rather than the visible viewport.
	ProvNetworkURL  Provenance = "network-url"
	ProvNetworkBody Provenance = "network-body"
)

// DefaultPriority is assumed for tags with no table entry, so a new
// adapter can ship before the table learns about it.
const DefaultPriority = 30

var priorities = map[Provenance]int{
	ProvInstanceEvent:   100,
	ProvReduxSub:        90,
	ProvSiteAPI:         85,
	ProvInstanceCapture: 80,
	ProvReduxRead:       50,
	ProvSiteGlobal:      40,
	ProvNetworkURL:      20,
	ProvNetworkBody:     20,
}

// Priority returns the trust rank for the tag. Unknown tags rank
// DefaultPriority.
func (p Provenance) Priority() int {
	if v, ok := priorities[p]; ok {
		return v
	}
	return DefaultPriority
}
