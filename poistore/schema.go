package poistore

// Schema contains the complete DDL for the POI tables.
const Schema = `
-- Groups: named collections of markers that render together
CREATE TABLE IF NOT EXISTS poi_groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT '',
    z_index    INTEGER NOT NULL DEFAULT 0,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_groups_active ON poi_groups(active);

-- POIs: the markers themselves
CREATE TABLE IF NOT EXISTS pois (
    id         TEXT PRIMARY KEY,
    group_id   TEXT NOT NULL,
    label      TEXT NOT NULL,
    lat        REAL NOT NULL CHECK (lat >= -90.0 AND lat <= 90.0),
    lng        REAL NOT NULL CHECK (lng >= -180.0 AND lng <= 180.0),
    address    TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    note       TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (group_id) REFERENCES poi_groups(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_pois_group ON pois(group_id);
CREATE INDEX IF NOT EXISTS idx_pois_lat_lng ON pois(lat, lng);
`
