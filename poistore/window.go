package poistore

import (
	"context"
	"strings"

	"github.com/arpentry/poiportal/bounds"
)

// Marker is a POI joined with its group's render attributes. This is
// the shape the dispatch layer sends to page renderers.
type Marker struct {
	POI
	GroupName string `json:"group_name"`
	Color     string `json:"color,omitempty"`
	ZIndex    int    `json:"z_index,omitempty"`
}

// WindowOptions controls the window query.
type WindowOptions struct {
	Bounds *bounds.Rect // nil: no spatial filter
	Limit  int          // max results (default: 500)
}

// InWindow returns markers from active groups that fall inside the
// viewport rectangle. A window that crosses the antimeridian (east <
// west) matches longitudes on either side of the seam.
func (s *Store) InWindow(ctx context.Context, opts WindowOptions) ([]*Marker, error) {
	if opts.Limit <= 0 {
		opts.Limit = 500
	}

	var where []string
	var args []any

	where = append(where, "g.active = 1")

	if r := opts.Bounds; r != nil {
		where = append(where, "p.lat >= ? AND p.lat <= ?")
		args = append(args, r.South, r.North)
		if r.East < r.West {
			where = append(where, "(p.lng >= ? OR p.lng <= ?)")
		} else {
			where = append(where, "(p.lng >= ? AND p.lng <= ?)")
		}
		args = append(args, r.West, r.East)
	}

	query := `
		SELECT p.id, p.group_id, p.label, p.lat, p.lng, p.address, p.url, p.note,
		       p.created_at, p.updated_at,
		       g.name, g.color, g.z_index
		FROM pois p
		JOIN poi_groups g ON g.id = p.group_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY g.z_index, p.created_at, p.id
		LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []*Marker
	for rows.Next() {
		m := &Marker{}
		if err := rows.Scan(
			&m.ID, &m.GroupID, &m.Label, &m.Lat, &m.Lng, &m.Address, &m.URL, &m.Note,
			&m.CreatedAt, &m.UpdatedAt,
			&m.GroupName, &m.Color, &m.ZIndex,
		); err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

// ActiveMarkers returns every marker from active groups. Dispatch uses
// this when no viewport is known yet.
func (s *Store) ActiveMarkers(ctx context.Context) ([]*Marker, error) {
	return s.InWindow(ctx, WindowOptions{})
}
