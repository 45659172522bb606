package poistore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/arpentry/poiportal/idgen"
)

// POI is a single marker: a coordinate plus what the renderer shows for
// it. Labels and notes end up inside host-page DOM, so they are
// sanitized to plain text on every write.
type POI struct {
	ID        string  `json:"id"`
	GroupID   string  `json:"group_id"`
	Label     string  `json:"label"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
	Note      string  `json:"note,omitempty"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// strict strips all markup. POI text renders inside pages we do not
// own; a label must never carry script into them.
var strict = bluemonday.StrictPolicy()

func sanitize(p *POI) {
	p.Label = strings.TrimSpace(strict.Sanitize(p.Label))
	p.Address = strings.TrimSpace(strict.Sanitize(p.Address))
	p.Note = strings.TrimSpace(strict.Sanitize(p.Note))
}

func validate(p *POI) error {
	if p.Label == "" {
		return fmt.Errorf("%w: label required", ErrInvalid)
	}
	if p.GroupID == "" {
		return fmt.Errorf("%w: group_id required", ErrInvalid)
	}
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat out of range: %v", ErrInvalid, p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lng out of range: %v", ErrInvalid, p.Lng)
	}
	return nil
}

// InsertPOI creates a new marker. A missing ID is generated.
func (s *Store) InsertPOI(ctx context.Context, p *POI) error {
	sanitize(p)
	if err := validate(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = idgen.POI()
	}
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO pois (id, group_id, label, lat, lng, address, url, note, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.GroupID, p.Label, p.Lat, p.Lng, p.Address, p.URL, p.Note, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return s.bump(ctx)
}

// GetPOI retrieves a marker by ID, or nil when absent.
func (s *Store) GetPOI(ctx context.Context, id string) (*POI, error) {
	p := &POI{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, group_id, label, lat, lng, address, url, note, created_at, updated_at
		FROM pois WHERE id = ?`, id).Scan(
		&p.ID, &p.GroupID, &p.Label, &p.Lat, &p.Lng, &p.Address, &p.URL, &p.Note,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPOIs returns markers, optionally restricted to one group.
func (s *Store) ListPOIs(ctx context.Context, groupID string) ([]*POI, error) {
	query := `
		SELECT id, group_id, label, lat, lng, address, url, note, created_at, updated_at
		FROM pois`
	var args []any
	if groupID != "" {
		query += ` WHERE group_id = ?`
		args = append(args, groupID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pois []*POI
	for rows.Next() {
		p := &POI{}
		if err := rows.Scan(
			&p.ID, &p.GroupID, &p.Label, &p.Lat, &p.Lng, &p.Address, &p.URL, &p.Note,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pois = append(pois, p)
	}
	return pois, rows.Err()
}

// UpdatePOI updates a marker in place.
func (s *Store) UpdatePOI(ctx context.Context, p *POI) error {
	sanitize(p)
	if err := validate(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE pois SET group_id=?, label=?, lat=?, lng=?, address=?, url=?, note=?, updated_at=?
		WHERE id=?`,
		p.GroupID, p.Label, p.Lat, p.Lng, p.Address, p.URL, p.Note, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("poistore: poi %q not found", p.ID)
	}
	return s.bump(ctx)
}

// DeletePOI removes a marker by ID.
func (s *Store) DeletePOI(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM pois WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return s.bump(ctx)
}

// CountPOIs returns the total number of markers.
func (s *Store) CountPOIs(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM pois`).Scan(&n)
	return n, err
}
