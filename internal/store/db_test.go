package store

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := testDB(t)

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestEvolutionStateSeeded(t *testing.T) {
	db := testDB(t)

	s, err := db.GetEvolutionState()
	if err != nil {
		t.Fatalf("GetEvolutionState: %v", err)
	}
	if s.State != StateStable {
		t.Errorf("initial state = %q, want %q", s.State, StateStable)
	}
	if s.Pending != nil {
		t.Error("initial state has pending evolution")
	}
}
