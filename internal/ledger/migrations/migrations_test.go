package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"vaults", "file_slots", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db, SQLite)
	if !errors.Is(err, ErrNoVersion) {
		t.Errorf("CheckDBMigrationStatus() error = %v, want %v", err, ErrNoVersion)
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}

	st, err := Inspect(db, SQLite)
	if err != nil {
		t.Fatalf("Inspect() failed: %v", err)
	}
	if !st.Current() {
		t.Errorf("Inspect() = %+v, want current", st)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
}

func TestLatestVersion(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		t.Run(string(d), func(t *testing.T) {
			v, err := LatestVersion(d)
			if err != nil {
				t.Fatalf("LatestVersion() failed: %v", err)
			}
			if v != 2 {
				t.Errorf("LatestVersion() = %d, want 2", v)
			}
		})
	}

	if _, err := LatestVersion("oracle"); err == nil {
		t.Error("LatestVersion() with unknown dialect should fail")
	}
}

func TestSchema_FileSlotPrimaryKey(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`INSERT INTO vaults (id, owner, name, last_accessed, created_at)
		VALUES (0, 'alice', 'docs', '2024-01-15T10:30:00Z', '2024-01-15T10:30:00Z')`)
	if err != nil {
		t.Fatalf("insert vault: %v", err)
	}

	insert := `INSERT INTO file_slots (vault_id, slot_index, cid, name) VALUES (0, 0, 'cid-a', 'a.txt')`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("inserting the same slot twice should violate the primary key")
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A single connection keeps the in-memory database alive across queries.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
