package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/datasync"
	"github.com/talgya/copan-lpjml/internal/engine"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.BeginRun(ctx, 2000, 2001, 48)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if db.RunID() != id {
		t.Errorf("RunID() = %q, want %q", db.RunID(), id)
	}

	for year := 2000; year <= 2001; year++ {
		rec := engine.StepRecord{
			Year:     year,
			Duration: 3 * time.Millisecond,
			Sync:     datasync.Stats{Reconciles: uint64(year - 1999), UnitsFlushed: 2, CellsWritten: 48},
			Means: []engine.UnitMean{
				{Level: hierarchy.LevelCountry, Unit: "DEU", Kind: dataset.Output, Field: "harvestc", Value: float64(year)},
				{Level: hierarchy.LevelWorld, Unit: "world", Kind: dataset.Output, Field: "harvestc", Value: 1},
			},
		}
		if err := db.RecordStep(ctx, rec); err != nil {
			t.Fatalf("RecordStep(%d): %v", year, err)
		}
	}
	if err := db.FinishRun(ctx, StatusFinished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := db.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusFinished || runs[0].Cells != 48 {
		t.Fatalf("Runs() = %+v", runs)
	}

	steps, err := db.Steps(ctx, id)
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 || steps[1].Year != 2001 || steps[1].Reconciles != 2 {
		t.Errorf("Steps() = %+v", steps)
	}

	means, err := db.UnitMeans(ctx, id, "country", "DEU")
	if err != nil {
		t.Fatalf("UnitMeans: %v", err)
	}
	if len(means) != 2 || means[0].Value != 2000 || means[1].Value != 2001 {
		t.Errorf("UnitMeans() = %+v", means)
	}
}

func TestRecordStepDuplicateYear(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if _, err := db.BeginRun(ctx, 2000, 2000, 1); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	rec := engine.StepRecord{Year: 2000}
	if err := db.RecordStep(ctx, rec); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}
	if err := db.RecordStep(ctx, rec); err == nil {
		t.Error("expected error for duplicate year")
	}
}

func TestRecordStepNeedsRun(t *testing.T) {
	db := openTestDB(t)
	if err := db.RecordStep(context.Background(), engine.StepRecord{Year: 2000}); err == nil {
		t.Error("expected error without a current run")
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	id, err := db.BeginRun(ctx, 2000, 2002, 1)
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := db.SaveEvents(ctx, []engine.Event{
		{Year: 2000, Description: "a", Category: "step"},
		{Year: 2001, Description: "b", Category: "step"},
	}); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}
	if err := db.SaveEvents(ctx, []engine.Event{{Year: 2002, Description: "c", Category: "error"}}); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	got, err := db.RecentEvents(ctx, id, 2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 2 || got[0].Description != "c" || got[1].Description != "b" {
		t.Errorf("RecentEvents() = %+v", got)
	}
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	if err := db.SaveMeta("last_year", "2000"); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := db.SaveMeta("last_year", "2001"); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	v, err := db.GetMeta("last_year")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if v != "2001" {
		t.Errorf("GetMeta() = %q, want 2001", v)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
