package siteconfig

// Schema defines the site_profiles table. One row per normalized domain
// plus the 'default' fallback row. The selectors, style and features
// columns hold JSON; the store marshals them through the Site type.
//
// Writers bump PRAGMA user_version after every mutation so that a watch
// loop on the same connection observes edits (PRAGMA data_version only
// moves for other connections' writes).
const Schema = `
CREATE TABLE IF NOT EXISTS site_profiles (
    domain     TEXT PRIMARY KEY,
    map_type   TEXT NOT NULL DEFAULT 'auto' CHECK(map_type IN ('google', 'mapbox', 'auto')),
    selectors  TEXT NOT NULL DEFAULT '[]',
    style      TEXT NOT NULL DEFAULT '{}',
    features   TEXT NOT NULL DEFAULT '{}',
    enabled    INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_site_profiles_enabled ON site_profiles(enabled);

CREATE TRIGGER IF NOT EXISTS trg_site_profiles_updated_at
AFTER UPDATE ON site_profiles
FOR EACH ROW
BEGIN
    UPDATE site_profiles SET updated_at = strftime('%s', 'now') WHERE domain = NEW.domain;
END;
`
