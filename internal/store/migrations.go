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
		Description: "users and interaction log",
		SQL: `
CREATE TABLE users (
    user_id     TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL
);

CREATE TABLE interactions (
    id            INTEGER PRIMARY KEY,
    user_id       TEXT NOT NULL,
    batch_id      TEXT NOT NULL,
    user_message  TEXT NOT NULL,
    bot_response  TEXT NOT NULL,
    stage         TEXT NOT NULL CHECK (stage IN ('denial', 'anger', 'bargaining', 'depression', 'acceptance')),
    mood          REAL NOT NULL,
    created_at    INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE INDEX idx_interactions_user ON interactions(user_id, created_at);
`,
	},
	{
		Version:     2,
		Description: "emotion, stage and keyword density samples",
		SQL: `
CREATE TABLE emotion_samples (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    mood        REAL NOT NULL,
    bias        REAL NOT NULL,
    source      TEXT NOT NULL DEFAULT 'message' CHECK (source IN ('message', 'reset')),
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE TABLE stage_samples (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    stage       TEXT NOT NULL CHECK (stage IN ('denial', 'anger', 'bargaining', 'depression', 'acceptance')),
    confidence  REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE TABLE keyword_densities (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    denial      REAL NOT NULL,
    anger       REAL NOT NULL,
    bargaining  REAL NOT NULL,
    depression  REAL NOT NULL,
    acceptance  REAL NOT NULL,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE INDEX idx_emotion_user ON emotion_samples(user_id, created_at);
CREATE INDEX idx_stage_user   ON stage_samples(user_id, created_at);
CREATE INDEX idx_density_user ON keyword_densities(user_id, created_at);
`,
	},
	{
		Version:     3,
		Description: "alerts and derived statistics",
		SQL: `
CREATE TABLE alerts (
    id          INTEGER PRIMARY KEY,
    user_id     TEXT NOT NULL,
    batch_id    TEXT NOT NULL,
    kind        TEXT NOT NULL CHECK (kind IN ('warning', 'crisis')),
    mood        REAL NOT NULL,
    created_at  INTEGER NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE INDEX idx_alerts_user ON alerts(user_id, created_at);

CREATE TABLE user_statistics (
    user_id             TEXT PRIMARY KEY,
    current_stage       TEXT NOT NULL DEFAULT '',
    transitions         TEXT NOT NULL DEFAULT '{}',
    total_interactions  INTEGER NOT NULL DEFAULT 0,
    total_stages        INTEGER NOT NULL DEFAULT 0,
    total_emotions      INTEGER NOT NULL DEFAULT 0,
    warning_alerts      INTEGER NOT NULL DEFAULT 0,
    crisis_alerts       INTEGER NOT NULL DEFAULT 0,
    last_mood           REAL NOT NULL DEFAULT 0,
    first_seen          INTEGER NOT NULL DEFAULT 0,
    last_seen           INTEGER NOT NULL DEFAULT 0,

    FOREIGN KEY (user_id) REFERENCES users(user_id)
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
