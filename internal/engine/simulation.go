// Simulation ties the coupling component, user hooks and bookkeeping
// together and runs them each year.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/datasync"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/model"
)

// maxEvents bounds the event log.
const maxEvents = 1000

// Hook is model logic run against the world each year. Hooks registered
// with BeforeExchange write inputs; hooks registered with AfterExchange see
// that year's outputs.
type Hook func(ctx context.Context, w *model.World, year int) error

// Event is a notable occurrence during the run.
type Event struct {
	Year        int       `json:"year"`
	Time        time.Time `json:"time"`
	Description string    `json:"description"`
	Category    string    `json:"category"` // "step", "hook", "error"
}

// SimStats tracks aggregate run statistics.
type SimStats struct {
	Year          int            `json:"year"`
	Steps         int            `json:"steps"`
	LastStep      time.Duration  `json:"last_step_ns"`
	TotalStepTime time.Duration  `json:"total_step_time_ns"`
	Sync          datasync.Stats `json:"sync"`
}

// UnitMean is the mean of one field over one unit's cells.
type UnitMean struct {
	Level hierarchy.Level `json:"-"`
	Unit  string          `json:"unit"`
	Kind  dataset.Kind    `json:"-"`
	Field string          `json:"field"`
	Value float64         `json:"value"`
}

// StepRecord summarises one completed year.
type StepRecord struct {
	Year     int
	Duration time.Duration
	Sync     datasync.Stats
	Means    []UnitMean
}

// Recorder persists step records.
type Recorder interface {
	RecordStep(ctx context.Context, rec StepRecord) error
}

// Simulation holds the coupled world and runs the yearly cycle. All access
// to the world goes through the simulation's lock so readers only ever see
// it between steps.
type Simulation struct {
	mu sync.Mutex

	Component *model.Component
	Recorder  Recorder          // optional
	MeanLevel []hierarchy.Level // levels whose output means are recorded

	before []Hook
	after  []Hook
	events []Event
	stats  SimStats
}

// NewSimulation creates a Simulation around an initialised component.
func NewSimulation(c *model.Component) *Simulation {
	return &Simulation{
		Component: c,
		MeanLevel: []hierarchy.Level{hierarchy.LevelWorld, hierarchy.LevelWorldRegion, hierarchy.LevelCountry},
		stats:     SimStats{Year: c.FirstYear() - 1},
	}
}

// BeforeExchange registers a hook run before the year's input is sent.
func (s *Simulation) BeforeExchange(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, h)
}

// AfterExchange registers a hook run after the year's output is received.
func (s *Simulation) AfterExchange(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, h)
}

// Step runs one year: before hooks, the exchange, after hooks, then
// statistics and the optional step record.
func (s *Simulation) Step(ctx context.Context, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	w := s.Component.World()
	for _, h := range s.before {
		if err := h(ctx, w, year); err != nil {
			s.event(year, "error", fmt.Sprintf("before-exchange hook: %v", err))
			return fmt.Errorf("before-exchange hook: %w", err)
		}
	}
	if err := s.Component.Update(ctx, year); err != nil {
		s.event(year, "error", err.Error())
		return err
	}
	for _, h := range s.after {
		if err := h(ctx, w, year); err != nil {
			s.event(year, "error", fmt.Sprintf("after-exchange hook: %v", err))
			return fmt.Errorf("after-exchange hook: %w", err)
		}
	}
	// Writes from after-exchange hooks are reconciled before the step ends.
	if err := w.Sync.Barrier(); err != nil {
		s.event(year, "error", fmt.Sprintf("after-exchange barrier: %v", err))
		return fmt.Errorf("after-exchange barrier: %w", err)
	}

	elapsed := time.Since(start)
	s.stats.Year = year
	s.stats.Steps++
	s.stats.LastStep = elapsed
	s.stats.TotalStepTime += elapsed
	s.stats.Sync = w.Sync.Stats()

	means, err := s.means(w)
	if err != nil {
		return err
	}
	if s.Recorder != nil {
		rec := StepRecord{Year: year, Duration: elapsed, Sync: s.stats.Sync, Means: means}
		if err := s.Recorder.RecordStep(ctx, rec); err != nil {
			return fmt.Errorf("record step: %w", err)
		}
	}
	s.event(year, "step", fmt.Sprintf("year %d exchanged in %s", year, elapsed.Round(time.Millisecond)))

	slog.Info("yearly report",
		"year", year,
		"elapsed", elapsed.Round(time.Millisecond),
		"reconciles", s.stats.Sync.Reconciles,
		"units_flushed", s.stats.Sync.UnitsFlushed,
		"cells_written", s.stats.Sync.CellsWritten,
		"events", len(s.events),
	)
	return nil
}

// means computes the output field means for the configured levels.
func (s *Simulation) means(w *model.World) ([]UnitMean, error) {
	var out []UnitMean
	fields := w.Store(dataset.Output).FieldNames()
	for _, level := range s.MeanLevel {
		for _, u := range w.Tree.Units(level) {
			v, err := w.Output(u)
			if err != nil {
				return nil, err
			}
			for _, f := range fields {
				m, err := v.Mean(f)
				if err != nil {
					return nil, err
				}
				out = append(out, UnitMean{Level: level, Unit: u.ID(), Kind: dataset.Output, Field: f, Value: m})
			}
		}
	}
	return out, nil
}

func (s *Simulation) event(year int, category, desc string) {
	s.events = append(s.events, Event{Year: year, Time: time.Now(), Description: desc, Category: category})
	// Trim old events to prevent unbounded growth.
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
}

// Stats returns a copy of the run statistics.
func (s *Simulation) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Events returns the most recent n events, oldest first.
func (s *Simulation) Events(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if n > 0 && len(s.events) > n {
		start = len(s.events) - n
	}
	out := make([]Event, len(s.events)-start)
	copy(out, s.events[start:])
	return out
}

// WithWorld runs fn with exclusive access to the world between steps.
// Reads through views may reconcile pending writes, so access is never
// shared.
func (s *Simulation) WithWorld(fn func(w *model.World) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.Component.World()
	if w == nil {
		return fmt.Errorf("world not initialised")
	}
	return fn(w)
}
