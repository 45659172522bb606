package siteconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/arpentry/poiportal/dbopen"
)

// Store is the site profile database handle.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets a custom logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) the profile database at path, applies the
// agent pragmas and schema, and seeds the built-in profiles for any
// domain not already present.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("siteconfig: %w", err)
	}
	s := &Store{DB: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if err := s.seed(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already-open database (tests, shared handles). The
// schema must have been applied and built-ins are not seeded.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{DB: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) seed(ctx context.Context) error {
	for _, site := range Builtin() {
		sel, sty, feat, err := marshalSite(site)
		if err != nil {
			return err
		}
		_, err = s.DB.ExecContext(ctx, `
			INSERT INTO site_profiles (domain, map_type, selectors, style, features, enabled)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(domain) DO NOTHING`,
			site.Domain, string(site.MapType), sel, sty, feat, boolToInt(site.Enabled))
		if err != nil {
			return fmt.Errorf("siteconfig: seed %s: %w", site.Domain, err)
		}
	}
	return nil
}

// Lookup resolves the profile for a hostname: exact match on the
// normalized domain first, then the longest suffix match, then the
// default profile. An error is returned only when even the default row
// is missing.
func (s *Store) Lookup(ctx context.Context, host string) (Site, error) {
	h := Normalize(host)

	row := s.DB.QueryRowContext(ctx, `
		SELECT domain, map_type, selectors, style, features, enabled
		FROM site_profiles
		WHERE domain != ? AND (domain = ? OR ? LIKE '%.' || domain)
		ORDER BY length(domain) DESC
		LIMIT 1`, DefaultDomain, h, h)
	site, err := scanSite(row)
	if err == nil {
		return site, nil
	}
	if err != sql.ErrNoRows {
		return Site{}, fmt.Errorf("siteconfig: lookup %s: %w", h, err)
	}

	row = s.DB.QueryRowContext(ctx, `
		SELECT domain, map_type, selectors, style, features, enabled
		FROM site_profiles WHERE domain = ?`, DefaultDomain)
	site, err = scanSite(row)
	if err != nil {
		return Site{}, fmt.Errorf("siteconfig: no profile for %s and no default: %w", h, err)
	}
	return site, nil
}

// Get returns the profile stored under exactly this domain key.
func (s *Store) Get(ctx context.Context, domain string) (Site, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT domain, map_type, selectors, style, features, enabled
		FROM site_profiles WHERE domain = ?`, Normalize(domain))
	site, err := scanSite(row)
	if err != nil {
		return Site{}, fmt.Errorf("siteconfig: get %s: %w", domain, err)
	}
	return site, nil
}

// List returns all profiles, default last, others alphabetical.
func (s *Store) List(ctx context.Context) ([]Site, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT domain, map_type, selectors, style, features, enabled
		FROM site_profiles
		ORDER BY domain = ?, domain`, DefaultDomain)
	if err != nil {
		return nil, fmt.Errorf("siteconfig: list: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("siteconfig: list scan: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// Upsert stores a profile under its normalized domain and bumps the
// store revision.
func (s *Store) Upsert(ctx context.Context, site Site) error {
	site.Domain = Normalize(site.Domain)
	if site.Domain == "" {
		return fmt.Errorf("siteconfig: empty domain")
	}
	if site.MapType == "" {
		site.MapType = MapAuto
	}
	sel, sty, feat, err := marshalSite(site)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO site_profiles (domain, map_type, selectors, style, features, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			map_type = excluded.map_type,
			selectors = excluded.selectors,
			style = excluded.style,
			features = excluded.features,
			enabled = excluded.enabled`,
		site.Domain, string(site.MapType), sel, sty, feat, boolToInt(site.Enabled))
	if err != nil {
		return fmt.Errorf("siteconfig: upsert %s: %w", site.Domain, err)
	}
	return s.bump(ctx)
}

// SetEnabled toggles a profile without touching the rest of it.
func (s *Store) SetEnabled(ctx context.Context, domain string, enabled bool) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE site_profiles SET enabled = ? WHERE domain = ?`,
		boolToInt(enabled), Normalize(domain))
	if err != nil {
		return fmt.Errorf("siteconfig: set enabled %s: %w", domain, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("siteconfig: no profile for %s", domain)
	}
	return s.bump(ctx)
}

// Delete removes a profile. The default profile cannot be deleted.
func (s *Store) Delete(ctx context.Context, domain string) error {
	d := Normalize(domain)
	if d == DefaultDomain {
		return fmt.Errorf("siteconfig: default profile cannot be deleted")
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM site_profiles WHERE domain = ?`, d); err != nil {
		return fmt.Errorf("siteconfig: delete %s: %w", domain, err)
	}
	return s.bump(ctx)
}

// Revision returns the store's change counter (PRAGMA user_version).
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var v int64
	err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// bump advances user_version so same-connection watchers see the edit.
func (s *Store) bump(ctx context.Context) error {
	var v int64
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return fmt.Errorf("siteconfig: read user_version: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return fmt.Errorf("siteconfig: bump user_version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (Site, error) {
	var (
		site           Site
		mapType        string
		sel, sty, feat string
		enabled        int
	)
	if err := row.Scan(&site.Domain, &mapType, &sel, &sty, &feat, &enabled); err != nil {
		return Site{}, err
	}
	site.MapType = MapType(mapType)
	site.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(sel), &site.Selectors); err != nil {
		return Site{}, fmt.Errorf("selectors column: %w", err)
	}
	if err := json.Unmarshal([]byte(sty), &site.Style); err != nil {
		return Site{}, fmt.Errorf("style column: %w", err)
	}
	if err := json.Unmarshal([]byte(feat), &site.Features); err != nil {
		return Site{}, fmt.Errorf("features column: %w", err)
	}
	return site, nil
}

func marshalSite(site Site) (selectors, style, features string, err error) {
	selB, err := json.Marshal(site.Selectors)
	if err != nil {
		return "", "", "", fmt.Errorf("siteconfig: marshal selectors: %w", err)
	}
	if site.Selectors == nil {
		selB = []byte("[]")
	}
	styB, err := json.Marshal(site.Style)
	if err != nil {
		return "", "", "", fmt.Errorf("siteconfig: marshal style: %w", err)
	}
	featB, err := json.Marshal(site.Features)
	if err != nil {
		return "", "", "", fmt.Errorf("siteconfig: marshal features: %w", err)
	}
	return string(selB), string(styB), string(featB), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
