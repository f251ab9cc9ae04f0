package coupler

import (
	"context"
	"fmt"
	"sync"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/world"
)

// Fields exchanged by the synthetic coupler.
var (
	InputFields  = []string{"landuse", "with_tillage"}
	OutputFields = []string{"cftfrac", "harvestc", "soilc"}
)

// SyntheticConfig configures an in-process coupler.
type SyntheticConfig struct {
	Grid      *world.Grid
	FirstYear int
	LastYear  int
	Seed      int64
	Latency   time.Duration // added to every exchange
}

// Synthetic is an in-process Coupler producing deterministic yearly outputs
// from simplex noise and the inputs it receives.
type Synthetic struct {
	cfg    SyntheticConfig
	noise  opensimplex.Noise
	matrix [][]int

	mu       sync.Mutex
	sent     *dataset.Dataset
	sentYear int
	readYear int
	soilc    []float64
	closed   bool
}

// NewSynthetic creates a synthetic coupler over cfg.Grid.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Grid == nil || cfg.Grid.Len() == 0 {
		return nil, fmt.Errorf("synthetic coupler: empty grid")
	}
	if cfg.LastYear < cfg.FirstYear {
		return nil, fmt.Errorf("synthetic coupler: last year %d before first year %d", cfg.LastYear, cfg.FirstYear)
	}
	matrix, err := cfg.Grid.NeighbourMatrix()
	if err != nil {
		return nil, fmt.Errorf("synthetic coupler: %w", err)
	}
	s := &Synthetic{
		cfg:      cfg,
		noise:    opensimplex.NewNormalized(cfg.Seed),
		matrix:   matrix,
		sentYear: cfg.FirstYear - 1,
		readYear: cfg.FirstYear - 1,
		soilc:    make([]float64, cfg.Grid.Len()),
	}
	for i, c := range cfg.Grid.Cells {
		s.soilc[i] = 8000 + 4000*s.sample(c.Coord, 0)
	}
	return s, nil
}

func (s *Synthetic) Grid() *world.Grid { return s.cfg.Grid }

func (s *Synthetic) NeighbourMatrix() ([][]int, error) { return s.matrix, nil }

func (s *Synthetic) FirstYear() int { return s.cfg.FirstYear }

func (s *Synthetic) LastYear() int { return s.cfg.LastYear }

func (s *Synthetic) ReadInput(ctx context.Context) (*dataset.Dataset, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	n := s.cfg.Grid.Len()
	ds := dataset.New(dataset.Input, n)
	ds.Year = s.cfg.FirstYear
	landuse := make([]float64, n)
	tillage := make([]float64, n)
	for i, c := range s.cfg.Grid.Cells {
		landuse[i] = s.sample(c.Coord, -1)
		tillage[i] = 1
	}
	if err := ds.AddField("landuse", landuse); err != nil {
		return nil, err
	}
	if err := ds.AddField("with_tillage", tillage); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Synthetic) ReadHistoricOutput(ctx context.Context) (*dataset.Dataset, error) {
	in, err := s.ReadInput(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output(in, s.cfg.FirstYear-1)
}

func (s *Synthetic) SendInput(ctx context.Context, ds *dataset.Dataset, year int) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if year <= s.sentYear {
		return fmt.Errorf("input year %d not after %d", year, s.sentYear)
	}
	if year > s.cfg.LastYear {
		return fmt.Errorf("input year %d after last year %d", year, s.cfg.LastYear)
	}
	if ds.Cells() != s.cfg.Grid.Len() {
		return fmt.Errorf("input has %d cells, grid has %d", ds.Cells(), s.cfg.Grid.Len())
	}
	for _, name := range InputFields {
		if !ds.Has(name) {
			return fmt.Errorf("input field %q: %w", name, dataset.ErrUnknownField)
		}
	}
	s.sent = ds.Clone()
	s.sentYear = year
	return nil
}

func (s *Synthetic) ReadOutput(ctx context.Context, year int) (*dataset.Dataset, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if year != s.sentYear || year == s.readYear {
		return nil, fmt.Errorf("no input received for year %d", year)
	}
	out, err := s.output(s.sent, year)
	if err != nil {
		return nil, err
	}
	s.readYear = year
	soilc, _ := out.Field("soilc")
	copy(s.soilc, soilc)
	return out, nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Synthetic) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// output derives the outputs of year from in. Harvest scales with the
// managed fraction; soil carbon decays under use and recovers otherwise.
func (s *Synthetic) output(in *dataset.Dataset, year int) (*dataset.Dataset, error) {
	n := s.cfg.Grid.Len()
	landuse, ok := in.Field("landuse")
	if !ok {
		return nil, fmt.Errorf("landuse: %w", dataset.ErrUnknownField)
	}
	tillage, _ := in.Field("with_tillage")

	cft := make([]float64, n)
	harvest := make([]float64, n)
	soil := make([]float64, n)
	for i, c := range s.cfg.Grid.Cells {
		lu := clamp01(landuse[i])
		yield := 200 + 300*s.sample(c.Coord, year)
		loss := 0.005
		if tillage != nil && tillage[i] > 0 {
			loss = 0.01
		}
		cft[i] = lu
		harvest[i] = lu * yield
		soil[i] = s.soilc[i]*(1-loss*lu) + (1-lu)*5
	}

	out := dataset.New(dataset.Output, n)
	out.Year = year
	for _, f := range []struct {
		name string
		vals []float64
	}{{"cftfrac", cft}, {"harvestc", harvest}, {"soilc", soil}} {
		if err := out.AddField(f.name, f.vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Synthetic) sample(c world.Coord, year int) float64 {
	return s.noise.Eval3(c.Lon/15, c.Lat/15, float64(year)*0.1)
}

func (s *Synthetic) wait(ctx context.Context) error {
	if s.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
