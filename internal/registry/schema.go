package registry

import "database/sql"

// Schema is the complete registry schema. Timestamps are RFC3339 TEXT;
// booleans are INTEGER 0/1.
const Schema = `
-- Tracked candidate domains
CREATE TABLE IF NOT EXISTS domains (
    id              TEXT PRIMARY KEY,
    domain          TEXT NOT NULL UNIQUE,
    category        TEXT NOT NULL DEFAULT '',
    tags            TEXT NOT NULL DEFAULT '',
    first_seen      TEXT NOT NULL DEFAULT '',
    last_checked    TEXT NOT NULL DEFAULT '',
    is_active       INTEGER NOT NULL DEFAULT 0,
    content_hash    TEXT NOT NULL DEFAULT '',
    content_changed INTEGER NOT NULL DEFAULT 0,
    has_profile     INTEGER NOT NULL DEFAULT 0,
    notes           TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_domains_category ON domains(category);
CREATE INDEX IF NOT EXISTS idx_domains_active ON domains(is_active, last_checked);
CREATE INDEX IF NOT EXISTS idx_domains_first_seen ON domains(first_seen);

-- Scan history, append-only
CREATE TABLE IF NOT EXISTS domain_history (
    id               TEXT PRIMARY KEY,
    domain_id        TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
    checked_at       TEXT NOT NULL,
    is_active        INTEGER NOT NULL DEFAULT 0,
    content_hash     TEXT NOT NULL DEFAULT '',
    content_changed  INTEGER NOT NULL DEFAULT 0,
    screenshot_taken INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_domain ON domain_history(domain_id, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_checked ON domain_history(checked_at DESC);

-- Pipeline stage run log
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id          TEXT PRIMARY KEY,
    stage       TEXT NOT NULL,
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL DEFAULT '',
    result      TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at DESC);
`

// MigrationRiskLevel adds the analyst-assigned risk overlay.
// Safe on existing databases (guarded by applyColumnMigration).
const MigrationRiskLevel = `
ALTER TABLE domains ADD COLUMN risk_level TEXT NOT NULL DEFAULT '';
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return err
	}
	applyColumnMigration(db, "domains", "risk_level", MigrationRiskLevel)
	return nil
}

// applyColumnMigration adds a column if it doesn't exist (idempotent).
func applyColumnMigration(db *sql.DB, table, column, ddl string) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	db.Exec(ddl)
}
