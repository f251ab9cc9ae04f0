// Synthetic land grid generation using layered simplex noise.
// A noise field decides land and ocean; land cells are then partitioned into
// countries by nearest seed (a Voronoi partition over great-circle distance).
package world

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds grid generation parameters.
type GenConfig struct {
	Width      int      `yaml:"width"`      // columns
	Height     int      `yaml:"height"`     // rows
	Resolution float64  `yaml:"resolution"` // degrees per cell
	OriginLon  float64  `yaml:"origin_lon"` // west edge
	OriginLat  float64  `yaml:"origin_lat"` // south edge
	Seed       int64    `yaml:"seed"`       // 0 = random
	SeaLevel   float64  `yaml:"sea_level"`  // noise threshold for ocean (0.0–1.0)
	Countries  []string `yaml:"countries"`  // country codes to distribute
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:      72,
		Height:     36,
		Resolution: 2.5,
		OriginLon:  -90,
		OriginLat:  -45,
		SeaLevel:   0.35,
		Countries:  []string{"DEU", "FRA", "POL", "ESP", "BRA", "ARG", "CHN", "IND"},
	}
}

// SmallTestConfig returns a tiny grid for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Width:      8,
		Height:     6,
		Resolution: 0.5,
		OriginLon:  5,
		OriginLat:  45,
		Seed:       42,
		SeaLevel:   0,
		Countries:  []string{"DEU", "FRA"},
	}
}

// Validate checks the configuration.
func (c GenConfig) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("grid size %dx%d must be positive", c.Width, c.Height))
	}
	if c.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("resolution %v must be positive", c.Resolution))
	}
	if c.SeaLevel < 0 || c.SeaLevel >= 1 {
		errs = append(errs, fmt.Errorf("sea level %v outside [0,1)", c.SeaLevel))
	}
	if c.OriginLat < -90 || c.OriginLat+float64(c.Height)*c.Resolution > 90 {
		errs = append(errs, fmt.Errorf("latitude range exceeds ±90"))
	}
	return errors.Join(errs...)
}

// Generate creates a land grid. Cells are emitted row by row from the south
// west corner; ocean cells are skipped.
func Generate(cfg GenConfig) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	landNoise := opensimplex.NewNormalized(seed)

	g := NewGrid(cfg.Resolution)
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			// Sample at a scale independent of resolution so the continents
			// keep their shape when the grid is refined.
			nx := float64(x) / float64(cfg.Width) * 4
			ny := float64(y) / float64(cfg.Height) * 2
			if cfg.SeaLevel > 0 && octaveNoise(landNoise, nx, ny, 4, 1.5, 0.5) < cfg.SeaLevel {
				continue
			}
			g.Add(Cell{Coord: Coord{
				Lon: cfg.OriginLon + (float64(x)+0.5)*cfg.Resolution,
				Lat: cfg.OriginLat + (float64(y)+0.5)*cfg.Resolution,
			}})
		}
	}

	assignCountries(g, cfg.Countries, seed)
	return g, nil
}

// assignCountries places one seed cell per country code, keeping seeds apart,
// and gives every cell the code of its nearest seed.
func assignCountries(g *Grid, codes []string, seed int64) {
	if len(codes) == 0 || g.Len() == 0 {
		return
	}
	rng := rand.New(rand.NewSource(seed + 200))

	order := rng.Perm(g.Len())
	minDist := spread(g, len(codes))

	var seeds []int
	for _, i := range order {
		if len(seeds) == len(codes) {
			break
		}
		ok := true
		for _, s := range seeds {
			if Distance(g.Cells[i].Coord, g.Cells[s].Coord) < minDist {
				ok = false
				break
			}
		}
		if ok {
			seeds = append(seeds, i)
		}
	}
	// Relax the spacing when the land is too small for every code.
	for _, i := range order {
		if len(seeds) == len(codes) {
			break
		}
		if !containsInt(seeds, i) {
			seeds = append(seeds, i)
		}
	}
	sort.Ints(seeds)

	for i := range g.Cells {
		best, bestDist := 0, -1.0
		for k, s := range seeds {
			d := Distance(g.Cells[i].Coord, g.Cells[s].Coord)
			if bestDist < 0 || d < bestDist {
				best, bestDist = k, d
			}
		}
		g.Cells[i].Country = codes[best]
	}
}

// spread estimates a minimum seed spacing from the land extent.
func spread(g *Grid, n int) float64 {
	lo, hi := g.Bounds()
	diag := Distance(lo, hi)
	return diag / float64(n+1)
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// CountryCounts returns the number of cells per country code.
func CountryCounts(g *Grid) map[string]int {
	counts := make(map[string]int)
	for _, c := range g.Cells {
		counts[c.Country]++
	}
	return counts
}

// octaveNoise samples multi-octave simplex noise normalized to [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
