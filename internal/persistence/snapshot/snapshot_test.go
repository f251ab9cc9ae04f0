package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/talgya/copan-lpjml/internal/coupler"
	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/model"
	"github.com/talgya/copan-lpjml/internal/world"
)

func TestArchiveAndRead(t *testing.T) {
	g, err := world.Generate(world.SmallTestConfig())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s, err := coupler.NewSynthetic(coupler.SyntheticConfig{Grid: g, FirstYear: 2000, LastYear: 2000, Seed: 9})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	store := New(t.TempDir())
	c := model.NewComponent(coupler.NewClient(s, time.Second), model.ComponentOptions{Archiver: store})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	w := c.World()

	// A pending write is reconciled into the archive.
	in, err := w.Input(w.Tree.World)
	if err != nil {
		t.Fatalf("Input: %v", err)
	}
	ones := make([]float64, g.Len())
	for i := range ones {
		ones[i] = 1
	}
	if err := in.Write("landuse", ones); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Archive(context.Background(), w, "manual"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	labels, err := store.Labels()
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	if len(labels) != 2 || labels[0] != "initial" || labels[1] != "manual" {
		t.Errorf("Labels() = %v, want [initial manual]", labels)
	}

	got, err := store.ReadDataset("manual", GroupInput)
	if err != nil {
		t.Fatalf("ReadDataset: %v", err)
	}
	if got.Kind != dataset.Input || got.Cells() != g.Len() {
		t.Errorf("dataset = %s with %d cells", got.Kind, got.Cells())
	}
	landuse, _ := got.Field("landuse")
	for i, v := range landuse {
		if v != 1 {
			t.Fatalf("landuse[%d] = %v, want 1", i, v)
		}
	}

	initial, err := store.ReadDataset("initial", GroupOutput)
	if err != nil {
		t.Fatalf("ReadDataset: %v", err)
	}
	if initial.Year != 1999 {
		t.Errorf("initial output Year = %d, want 1999", initial.Year)
	}

	grid, err := store.ReadGrid("manual")
	if err != nil {
		t.Fatalf("ReadGrid: %v", err)
	}
	if grid.Len() != g.Len() || grid.Cells[0] != g.Cells[0] {
		t.Errorf("grid = %s, want %s", grid, g)
	}
}

func TestReadMissing(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.ReadDataset("nope", GroupInput); err == nil {
		t.Error("expected error for missing snapshot")
	}
	labels, err := New(t.TempDir() + "/absent").Labels()
	if err != nil || len(labels) != 0 {
		t.Errorf("Labels() = %v, %v; want empty", labels, err)
	}
}
