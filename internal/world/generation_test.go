package world

import "testing"

func TestGenerateFullLand(t *testing.T) {
	cfg := SmallTestConfig()
	g, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if g.Len() != cfg.Width*cfg.Height {
		t.Fatalf("Len() = %d, want %d", g.Len(), cfg.Width*cfg.Height)
	}
	counts := CountryCounts(g)
	for _, code := range cfg.Countries {
		if counts[code] == 0 {
			t.Errorf("country %s has no cells", code)
		}
	}
	if counts[""] != 0 {
		t.Errorf("%d cells without a country", counts[""])
	}

	m, err := g.NeighbourMatrix()
	if err != nil {
		t.Fatalf("NeighbourMatrix: %v", err)
	}
	// Cell 0 is the south west corner: only N, NE and E exist.
	want := []int{cfg.Width, cfg.Width + 1, 1, -1, -1, -1, -1, -1}
	for d := range want {
		if m[0][d] != want[d] {
			t.Errorf("m[0][%d] = %d, want %d", d, m[0][d], want[d])
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := DefaultGenConfig()
	cfg.Seed = 7
	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Len() != b.Len() {
		t.Fatalf("Len() = %d and %d for the same seed", a.Len(), b.Len())
	}
	if a.Len() == 0 {
		t.Fatal("no land cells")
	}
	for i := range a.Cells {
		if a.Cells[i] != b.Cells[i] {
			t.Fatalf("cell %d differs: %+v vs %+v", i, a.Cells[i], b.Cells[i])
		}
	}
}

func TestGenConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*GenConfig)
	}{
		{"zero width", func(c *GenConfig) { c.Width = 0 }},
		{"negative resolution", func(c *GenConfig) { c.Resolution = -1 }},
		{"sea level", func(c *GenConfig) { c.SeaLevel = 1 }},
		{"latitude", func(c *GenConfig) { c.OriginLat = 80 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := SmallTestConfig()
			tt.mod(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
