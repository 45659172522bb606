package poistore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/arpentry/poiportal/dbopen"
	"github.com/arpentry/poiportal/idgen"
)

// Snapshot is the JSON import/export document.
type Snapshot struct {
	ExportedAt int64    `json:"exported_at,omitempty"`
	Groups     []*Group `json:"groups"`
	POIs       []*POI   `json:"pois"`
}

// ImportResult counts what an import touched.
type ImportResult struct {
	Groups int `json:"groups"`
	POIs   int `json:"pois"`
}

// Export writes the full store as indented JSON.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	groups, err := s.ListGroups(ctx)
	if err != nil {
		return err
	}
	pois, err := s.ListPOIs(ctx, "")
	if err != nil {
		return err
	}
	snap := Snapshot{
		ExportedAt: time.Now().UnixMilli(),
		Groups:     groups,
		POIs:       pois,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// Import reads a Snapshot document and upserts its contents in one
// transaction. With replace set, existing groups and POIs are cleared
// first. Groups are applied before POIs so forward references within
// the document resolve.
func (s *Store) Import(ctx context.Context, r io.Reader, replace bool) (ImportResult, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return ImportResult{}, fmt.Errorf("poistore: decode import: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, g := range snap.Groups {
		if g.Name == "" {
			return ImportResult{}, fmt.Errorf("%w: group name required", ErrInvalid)
		}
		if g.ID == "" {
			g.ID = idgen.Group()
		}
		if g.CreatedAt == 0 {
			g.CreatedAt = now
		}
		g.UpdatedAt = now
	}
	for _, p := range snap.POIs {
		sanitize(p)
		if err := validate(p); err != nil {
			return ImportResult{}, err
		}
		if p.ID == "" {
			p.ID = idgen.POI()
		}
		if p.CreatedAt == 0 {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
	}

	res := ImportResult{}
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pois`); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM poi_groups`); err != nil {
				return err
			}
		}
		for _, g := range snap.Groups {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO poi_groups (id, name, color, z_index, active, created_at, updated_at)
				VALUES (?,?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET
					name=excluded.name, color=excluded.color, z_index=excluded.z_index,
					active=excluded.active, updated_at=excluded.updated_at`,
				g.ID, g.Name, g.Color, g.ZIndex, boolToInt(g.Active), g.CreatedAt, g.UpdatedAt,
			)
			if err != nil {
				return err
			}
			res.Groups++
		}
		for _, p := range snap.POIs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO pois (id, group_id, label, lat, lng, address, url, note, created_at, updated_at)
				VALUES (?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT(id) DO UPDATE SET
					group_id=excluded.group_id, label=excluded.label,
					lat=excluded.lat, lng=excluded.lng, address=excluded.address,
					url=excluded.url, note=excluded.note, updated_at=excluded.updated_at`,
				p.ID, p.GroupID, p.Label, p.Lat, p.Lng, p.Address, p.URL, p.Note,
				p.CreatedAt, p.UpdatedAt,
			)
			if err != nil {
				return err
			}
			res.POIs++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, s.bump(ctx)
}
