package shield

import "database/sql"

// Schema defines the SQLite table behind the RateLimiter. Rules are
// keyed by "METHOD /path"; an endpoint without a row is unlimited.
// All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds) VALUES
    ('POST /api/v1/pois', 120, 60),
    ('POST /api/v1/pois/import', 6, 60),
    ('POST /api/v1/sessions', 12, 60);
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
