// Package bounds tracks the current viewport rectangle of a third-party
// map widget. Rectangles arrive from many signal sources of very unequal
// reliability (instance events, polled reads, site store subscriptions,
// sniffed network traffic); the Arbiter decides which candidate becomes
// the published viewport using a priority, lock and thrash-guard state
// machine.
package bounds

import (
	"fmt"
	"math"
)

// Rect is a geographic viewport in degrees. North and South are
// latitudes, East and West longitudes. Signal sources report the same
// viewport with float jitter far below marker resolution, so rectangles
// are rounded to six decimal places (about 11 cm) before comparison and
// storage.
type Rect struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Valid reports whether the rectangle is acceptable at all. The north
// edge is the canonical gate: adapters that lose their map reference
// surface NaN or Inf there first.
func (r Rect) Valid() bool {
	return !math.IsNaN(r.North) && !math.IsInf(r.North, 0)
}

// Round returns the rectangle with every edge rounded to six decimals.
func (r Rect) Round() Rect {
	return Rect{
		North: round6(r.North),
		South: round6(r.South),
		East:  round6(r.East),
		West:  round6(r.West),
	}
}

// Key is the serialized dedup form: fixed field order, six-decimal text.
// Two rectangles with equal keys are the same viewport.
func (r Rect) Key() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", r.North, r.South, r.East, r.West)
}

// Contains reports whether the point lies inside the rectangle.
// Rectangles crossing the antimeridian (east < west) are handled.
func (r Rect) Contains(lat, lng float64) bool {
	if lat > r.North || lat < r.South {
		return false
	}
	if r.East < r.West {
		return lng >= r.West || lng <= r.East
	}
	return lng >= r.West && lng <= r.East
}

// Center returns the midpoint of the rectangle. For antimeridian
// rectangles the longitude midpoint is taken across the seam.
func (r Rect) Center() (lat, lng float64) {
	lat = (r.North + r.South) / 2
	if r.East < r.West {
		lng = r.West + (360+r.East-r.West)/2
		if lng > 180 {
			lng -= 360
		}
		return lat, lng
	}
	return lat, (r.East + r.West) / 2
}

func round6(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*1e6) / 1e6
}
