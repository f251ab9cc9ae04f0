package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEngineRunsEveryYear(t *testing.T) {
	e := NewEngine(2000, 2004)
	var years []int
	e.OnStep = func(_ context.Context, year int) error {
		years = append(years, year)
		return nil
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(years) != 5 || years[0] != 2000 || years[4] != 2004 {
		t.Errorf("years = %v, want 2000..2004", years)
	}
	if !e.Done() || e.Year() != 2004 {
		t.Errorf("Year() = %d, Done() = %v", e.Year(), e.Done())
	}
	if e.Running() {
		t.Error("Running() after Run returned")
	}
}

func TestEngineAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	e := NewEngine(2000, 2004)
	e.OnStep = func(_ context.Context, year int) error {
		if year == 2002 {
			return boom
		}
		return nil
	}
	err := e.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want boom", err)
	}
	if e.Year() != 2001 {
		t.Errorf("Year() = %d, want 2001", e.Year())
	}
}

func TestEngineStopAndResume(t *testing.T) {
	e := NewEngine(2000, 2003)
	e.OnStep = func(_ context.Context, year int) error {
		if year == 2001 {
			e.Stop()
		}
		return nil
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Year() != 2001 {
		t.Fatalf("Year() = %d, want 2001", e.Year())
	}

	e.OnStep = nil
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Year() != 2003 {
		t.Errorf("Year() = %d, want 2003", e.Year())
	}
}

func TestEngineContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(2000, 2100)
	e.Interval = time.Hour
	e.OnStep = func(context.Context, int) error {
		cancel()
		return nil
	}
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if e.Year() != 2000 {
		t.Errorf("Year() = %d, want 2000", e.Year())
	}
}

func TestEngineRejectsBadRange(t *testing.T) {
	if err := NewEngine(2001, 2000).Run(context.Background()); err == nil {
		t.Error("expected error for last year before first year")
	}
}
