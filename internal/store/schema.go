package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current SQLite schema version.
const SchemaVersion = 3

const schemaV1 = `
CREATE TABLE IF NOT EXISTS scan_state (
    key TEXT PRIMARY KEY,
    cursor TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fingerprints (
    owner_did TEXT PRIMARY KEY,
    clusters TEXT NOT NULL,
    centroid TEXT,
    post_count INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS account_scores (
    did TEXT PRIMARY KEY,
    handle TEXT NOT NULL,
    toxicity_score REAL,
    topic_overlap REAL,
    threat_score REAL,
    threat_tier TEXT,
    posts_analyzed INTEGER NOT NULL DEFAULT 0,
    top_toxic_posts TEXT,
    behavioral_signals TEXT,
    scored_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_account_scores_threat ON account_scores(threat_score);

CREATE TABLE IF NOT EXISTS amplification_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    amplifier_did TEXT NOT NULL,
    amplifier_handle TEXT NOT NULL,
    original_post_uri TEXT NOT NULL,
    amplifier_post_uri TEXT,
    amplifier_text TEXT,
    detected_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_original_post ON amplification_events(original_post_uri);
CREATE INDEX IF NOT EXISTS idx_events_detected_at ON amplification_events(detected_at);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema creates all tables and applies migrations as needed.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		if tableExists(ctx, db, "account_scores") {
			if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`); err != nil {
				return fmt.Errorf("failed to create schema_version table: %w", err)
			}
			if _, err := db.ExecContext(ctx,
				`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, 1); err != nil {
				return fmt.Errorf("failed to record initial version: %w", err)
			}
			if err := migrateSchema(ctx, db, 1); err != nil {
				return fmt.Errorf("failed to migrate pre-schema_version database: %w", err)
			}
			return nil
		}

		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	return nil
}

func tableExists(ctx context.Context, db *sql.DB, table string) bool {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	return err == nil
}

func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaV2Delta); err != nil {
		return fmt.Errorf("failed to apply v2 delta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaV3Delta); err != nil {
		return fmt.Errorf("failed to apply v3 delta: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// schemaV2Delta adds the embeddings table, split from fingerprints/account_scores
// so a centroid can be recomputed without rewriting the whole fingerprint row.
const schemaV2Delta = `
CREATE TABLE IF NOT EXISTS embeddings (
    did TEXT PRIMARY KEY,
    vector TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

// schemaV3Delta adds the engagement baseline used by the benign gate.
const schemaV3Delta = `
CREATE TABLE IF NOT EXISTS engagement_baseline (
    owner_did TEXT PRIMARY KEY,
    median_engagement REAL NOT NULL,
    updated_at TEXT NOT NULL
);
`

func migrateSchema(ctx context.Context, db *sql.DB, currentVersion int) error {
	if currentVersion < 2 {
		if err := migrateV1ToV2(ctx, db); err != nil {
			return fmt.Errorf("migrate v1 to v2: %w", err)
		}
	}
	if currentVersion < 3 {
		if err := migrateV2ToV3(ctx, db); err != nil {
			return fmt.Errorf("migrate v2 to v3: %w", err)
		}
	}
	return nil
}

func migrateV1ToV2(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV2Delta); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (2, datetime('now'))`); err != nil {
		return err
	}
	return tx.Commit()
}

func migrateV2ToV3(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV3Delta); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (3, datetime('now'))`); err != nil {
		return err
	}
	return tx.Commit()
}
