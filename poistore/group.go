package poistore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arpentry/poiportal/idgen"
)

// Group is a named collection of markers that renders together. Only
// active groups feed the window query; inactive groups keep their POIs
// but disappear from every map.
type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color,omitempty"`
	ZIndex    int    `json:"z_index,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// InsertGroup creates a new group. A missing ID is generated.
func (s *Store) InsertGroup(ctx context.Context, g *Group) error {
	if g.Name == "" {
		return fmt.Errorf("%w: group name required", ErrInvalid)
	}
	if g.ID == "" {
		g.ID = idgen.Group()
	}
	now := time.Now().UnixMilli()
	if g.CreatedAt == 0 {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO poi_groups (id, name, color, z_index, active, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.Name, g.Color, g.ZIndex, boolToInt(g.Active), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return s.bump(ctx)
}

// GetGroup retrieves a group by ID, or nil when absent.
func (s *Store) GetGroup(ctx context.Context, id string) (*Group, error) {
	g := &Group{}
	var active int
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, name, color, z_index, active, created_at, updated_at
		FROM poi_groups WHERE id = ?`, id).Scan(
		&g.ID, &g.Name, &g.Color, &g.ZIndex, &active, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Active = active != 0
	return g, nil
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, color, z_index, active, created_at, updated_at
		FROM poi_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g := &Group{}
		var active int
		if err := rows.Scan(&g.ID, &g.Name, &g.Color, &g.ZIndex, &active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Active = active != 0
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateGroup updates a group's name, color, z-index, and active flag.
func (s *Store) UpdateGroup(ctx context.Context, g *Group) error {
	if g.Name == "" {
		return fmt.Errorf("%w: group name required", ErrInvalid)
	}
	g.UpdatedAt = time.Now().UnixMilli()
	res, err := s.DB.ExecContext(ctx, `
		UPDATE poi_groups SET name=?, color=?, z_index=?, active=?, updated_at=?
		WHERE id=?`,
		g.Name, g.Color, g.ZIndex, boolToInt(g.Active), g.UpdatedAt, g.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("poistore: group %q not found", g.ID)
	}
	return s.bump(ctx)
}

// SetGroupActive flips a group's active flag without touching the rest.
func (s *Store) SetGroupActive(ctx context.Context, id string, active bool) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE poi_groups SET active=?, updated_at=? WHERE id=?`,
		boolToInt(active), time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("poistore: group %q not found", id)
	}
	return s.bump(ctx)
}

// DeleteGroup removes a group and, via CASCADE, its POIs.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM poi_groups WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return s.bump(ctx)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
