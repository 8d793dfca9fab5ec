package directory

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("second migration (idempotent) failed: %v", err)
	}
}

func TestRunMigrations_CreatesExpectedTables(t *testing.T) {
	db := testDB(t)
	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, table := range []string{
		"conversations", "messages", "customers", "customer_history",
		"suggestions", "conversation_tags", "schema_version",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestRunMigrations_UpgradeWithExistingColumn(t *testing.T) {
	db := testDB(t)
	// Simulate a v1 database that already received the v2 column by hand.
	if _, err := db.Exec(migrations[0].SQL); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`ALTER TABLE conversations ADD COLUMN typing TEXT DEFAULT 'none'`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO schema_version (version, description) VALUES (1, 'base')`); err != nil {
		t.Fatal(err)
	}

	if err := RunMigrations(db, testLogger()); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	version, _ := GetSchemaVersion(db)
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
}

func TestGetSchemaVersion_EmptyDB(t *testing.T) {
	version, err := GetSchemaVersion(testDB(t))
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 {
		t.Fatalf("expected 0, got %d", version)
	}
}
