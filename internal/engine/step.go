// Package engine provides the year-step simulation loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talgya/copan-lpjml/internal/metrics"
)

// Engine drives the simulation forward one year at a time.
type Engine struct {
	FirstYear int
	LastYear  int
	Interval  time.Duration // Minimum wall time per step, 0 = unpaced

	// OnStep runs once per year; an error aborts the run.
	OnStep func(ctx context.Context, year int) error

	year    atomic.Int64 // Most recent completed year
	running atomic.Bool
	stop    atomic.Bool
}

// NewEngine creates an engine stepping through first..last inclusive.
func NewEngine(first, last int) *Engine {
	e := &Engine{FirstYear: first, LastYear: last}
	e.year.Store(int64(first - 1))
	return e
}

// Year returns the most recently completed year, FirstYear-1 before the
// first step.
func (e *Engine) Year() int { return int(e.year.Load()) }

// Running reports whether Run is in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Run steps through the remaining years. It returns early on the first
// step error, on context cancellation or after Stop.
func (e *Engine) Run(ctx context.Context) error {
	if e.LastYear < e.FirstYear {
		return fmt.Errorf("engine: last year %d before first year %d", e.LastYear, e.FirstYear)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine: already running")
	}
	defer e.running.Store(false)
	e.stop.Store(false)

	slog.Info("simulation engine started", "first_year", e.Year()+1, "last_year", e.LastYear)
	for year := e.Year() + 1; year <= e.LastYear; year++ {
		if e.stop.Load() {
			slog.Info("simulation engine stopped", "year", e.Year())
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		if e.OnStep != nil {
			if err := e.OnStep(ctx, year); err != nil {
				return fmt.Errorf("year %d: %w", year, err)
			}
		}
		e.year.Store(int64(year))
		metrics.StepYear.Set(float64(year))

		// Sleep for the remainder of the step interval.
		if elapsed := time.Since(start); elapsed < e.Interval && year < e.LastYear {
			t := time.NewTimer(e.Interval - elapsed)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
	}
	slog.Info("simulation engine finished", "year", e.Year())
	return nil
}

// Stop halts the loop after the current step.
func (e *Engine) Stop() {
	e.stop.Store(true)
}

// Done reports whether every year has been stepped.
func (e *Engine) Done() bool {
	return e.Year() >= e.LastYear
}
