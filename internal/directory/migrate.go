package directory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration represents a single schema migration step.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of schema migrations.
// Each migration is applied exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: conversations, messages, customers, customer_history, suggestions",
		SQL: `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			position      INTEGER NOT NULL,
			name          TEXT NOT NULL,
			avatar        TEXT DEFAULT '',
			last_message  TEXT DEFAULT '',
			unread        INTEGER NOT NULL DEFAULT 0 CHECK (unread >= 0),
			status        TEXT NOT NULL,
			ai_handling   INTEGER NOT NULL DEFAULT 0,
			last_activity DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_pos ON conversations(position);

		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			id              TEXT NOT NULL,
			content         TEXT NOT NULL,
			sender          TEXT NOT NULL,
			sender_name     TEXT DEFAULT '',
			timestamp       TEXT DEFAULT '',
			status          TEXT DEFAULT '',
			is_escalation   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, seq)
		);

		CREATE TABLE IF NOT EXISTS customers (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			name            TEXT NOT NULL,
			email           TEXT DEFAULT '',
			phone           TEXT DEFAULT '',
			location        TEXT DEFAULT '',
			member_since    TEXT DEFAULT '',
			tier            TEXT DEFAULT '',
			total_bookings  INTEGER DEFAULT 0,
			notes           TEXT DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS customer_history (
			conversation_id TEXT NOT NULL REFERENCES customers(conversation_id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			type            TEXT NOT NULL,
			description     TEXT NOT NULL,
			date            TEXT DEFAULT '',
			status          TEXT DEFAULT '',
			PRIMARY KEY (conversation_id, seq)
		);

		CREATE TABLE IF NOT EXISTS suggestions (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id) ON DELETE CASCADE,
			content         TEXT NOT NULL,
			confidence      INTEGER DEFAULT 0
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: initial view state (tags, typing) per conversation",
		SQL: `
		ALTER TABLE conversations ADD COLUMN typing TEXT DEFAULT 'none';

		CREATE TABLE IF NOT EXISTS conversation_tags (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			tag             TEXT NOT NULL,
			PRIMARY KEY (conversation_id, tag)
		);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
// It uses a schema_version table to track which migrations have been applied.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Debug("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			// ALTER TABLE ADD COLUMN fails when a column already exists; retry statement by statement.
			logger.Warn("migration SQL partially failed, retrying per statement", "version", m.Version, "err", err)
			if err := applyMigrationStatements(db, m, logger); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(
				"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
				m.Version, m.Description,
			); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration v%d: %w", m.Version, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration v%d: %w", m.Version, err)
			}
		}

		logger.Debug("migration applied", "version", m.Version)
	}

	return nil
}

// applyMigrationStatements applies each SQL statement individually, skipping
// "duplicate column" and "already exists" failures.
func applyMigrationStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err != nil {
		return 0, nil // no table yet
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
