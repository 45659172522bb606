// Package poistore provides the SQLite persistence layer for POI groups
// and markers. It is the data source behind marker dispatch: the
// orchestration layer queries the active window and pushes the result to
// each page session.
//
// Every mutation bumps PRAGMA user_version so a watch.Watcher polling
// watch.PragmaUserVersion sees edits made on the same connection and can
// re-dispatch markers without restarting sessions.
package poistore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/arpentry/poiportal/dbopen"
)

// ErrInvalid reports a POI or group that failed validation.
var ErrInvalid = errors.New("poistore: invalid record")

// Store is the POI database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the POI SQLite database at path and applies
// the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewStore wraps an already-opened database handle. The schema must have
// been applied by the caller (tests use dbopen.OpenMemory with
// WithSchema).
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Revision returns the store's change counter. It moves on every
// mutation, so pollers can cheaply detect edits.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var v int64
	err := s.DB.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v)
	return v, err
}

// bump advances user_version. PRAGMA arguments cannot be bound, hence
// the Sprintf.
func (s *Store) bump(ctx context.Context) error {
	var v int64
	if err := s.DB.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1))
	return err
}
