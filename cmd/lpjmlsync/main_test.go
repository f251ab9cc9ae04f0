package main

import (
	"path/filepath"
	"testing"

	"github.com/talgya/copan-lpjml/internal/persistence"
)

func TestSaveMeta(t *testing.T) {
	db, err := persistence.Open(persistence.DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := saveMeta(db, "seed", "42"); err != nil {
		t.Fatalf("saveMeta: %v", err)
	}
	if v, err := db.GetMeta("seed"); err != nil || v != "42" {
		t.Errorf("GetMeta(seed) = %q, %v; want 42", v, err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := saveMeta(db, "last_year", "2000"); err == nil {
		t.Error("saveMeta on a closed database should report the error")
	}
}
