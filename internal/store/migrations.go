package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "entries: remembered facts gated by the surprise scorer",
		SQL: `
CREATE TABLE entries (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL CHECK (kind IN ('correction', 'insight', 'outcome')),
    text         TEXT NOT NULL,
    prior_belief TEXT,
    corrected_to TEXT,
    tags         TEXT,
    related      TEXT,
    history      TEXT,
    outcome      TEXT,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_entries_kind    ON entries(kind);
CREATE INDEX idx_entries_created ON entries(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "chunks: retrievable fragments with tier and utility feedback",
		SQL: `
CREATE TABLE chunks (
    id                   TEXT PRIMARY KEY,
    source               TEXT,
    content              TEXT NOT NULL,
    tier                 TEXT NOT NULL CHECK (tier IN ('core', 'working', 'learning', 'research')),
    utility_score        REAL NOT NULL DEFAULT 0,
    utility_signal_count INTEGER NOT NULL DEFAULT 0,
    utility_updated_at   INTEGER,
    synced_at            INTEGER NOT NULL,
    created_at           INTEGER NOT NULL
);

CREATE INDEX idx_chunks_tier   ON chunks(tier);
CREATE INDEX idx_chunks_synced ON chunks(synced_at DESC);
`,
	},
	{
		Version:     3,
		Description: "vectors: embeddings for entries and chunks",
		SQL: `
CREATE TABLE vectors (
    owner_id   TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "episodes + narrative_threads: consolidated sessions and theme chains",
		SQL: `
CREATE TABLE episodes (
    id          TEXT PRIMARY KEY,
    decisions   TEXT,
    failures    TEXT,
    learnings   TEXT,
    goals       TEXT,
    procedures  TEXT,
    themes      TEXT,
    preceded_by TEXT,
    led_to      TEXT,
    related     TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_episodes_created ON episodes(created_at DESC);

CREATE TABLE narrative_threads (
    theme        TEXT PRIMARY KEY,
    episode_ids  TEXT NOT NULL,
    last_updated INTEGER NOT NULL
);
`,
	},
	{
		Version:     5,
		Description: "evolution_state + history + rollback archive",
		SQL: `
CREATE TABLE evolution_state (
    id                     INTEGER PRIMARY KEY CHECK (id = 1),
    state                  TEXT NOT NULL CHECK (state IN ('STABLE', 'LEARNING', 'EVOLVING')),
    entered_at             INTEGER NOT NULL,
    pending                TEXT,
    transition_count       INTEGER NOT NULL DEFAULT 0,
    evolutions_applied     INTEGER NOT NULL DEFAULT 0,
    evolutions_rolled_back INTEGER NOT NULL DEFAULT 0,
    version                INTEGER NOT NULL DEFAULT 0
);

INSERT INTO evolution_state (id, state, entered_at)
VALUES (1, 'STABLE', strftime('%s', 'now') * 1000);

CREATE TABLE evolution_history (
    id         INTEGER PRIMARY KEY,
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    at         INTEGER NOT NULL,
    reason     TEXT,
    data       TEXT,
    forced     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE evolution_rollbacks (
    id      INTEGER PRIMARY KEY,
    pending TEXT NOT NULL,
    reason  TEXT,
    at      INTEGER NOT NULL
);
`,
	},
	{
		Version:     6,
		Description: "outcomes + processed_outcomes: utility feedback with idempotence",
		SQL: `
CREATE TABLE outcomes (
    id         TEXT PRIMARY KEY,
    context    TEXT NOT NULL,
    score      INTEGER,
    verdict    TEXT CHECK (verdict IN ('validated', 'invalidated')),
    created_at INTEGER NOT NULL
);

CREATE TABLE processed_outcomes (
    outcome_id   TEXT PRIMARY KEY,
    processed_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     7,
		Description: "semantic_rules: promoted cross-episode rules, regenerated per run",
		SQL: `
CREATE TABLE semantic_rules (
    id           INTEGER PRIMARY KEY,
    rule         TEXT NOT NULL,
    kind         TEXT NOT NULL,
    occurrences  INTEGER NOT NULL,
    confidence   REAL NOT NULL,
    generated_at INTEGER NOT NULL
);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
