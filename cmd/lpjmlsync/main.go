// Command lpjmlsync runs the coupled world against the synthetic vegetation
// model, recording every year and serving the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/talgya/copan-lpjml/internal/api"
	"github.com/talgya/copan-lpjml/internal/config"
	"github.com/talgya/copan-lpjml/internal/coupler"
	"github.com/talgya/copan-lpjml/internal/engine"
	"github.com/talgya/copan-lpjml/internal/model"
	"github.com/talgya/copan-lpjml/internal/persistence"
	"github.com/talgya/copan-lpjml/internal/persistence/snapshot"
	"github.com/talgya/copan-lpjml/internal/world"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	envFile := flag.String("env", ".env", "environment file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("copan-lpjml coupling runner",
		"first_year", cfg.FirstYear,
		"last_year", cfg.LastYear,
		"seed", cfg.Seed,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Database.Driver != "" {
		if cfg.Database.Driver == persistence.DriverSQLite {
			os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755)
		}
		db, err = persistence.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "driver", cfg.Database.Driver)
	}

	// ── Grid and coupler ─────────────────────────────────────────────
	grid, err := world.Generate(cfg.Grid)
	if err != nil {
		slog.Error("failed to generate grid", "error", err)
		os.Exit(1)
	}
	for code, n := range world.CountryCounts(grid) {
		slog.Debug("country cells", "country", code, "cells", n)
	}
	syn, err := coupler.NewSynthetic(coupler.SyntheticConfig{
		Grid:      grid,
		FirstYear: cfg.FirstYear,
		LastYear:  cfg.LastYear,
		Seed:      cfg.Seed,
	})
	if err != nil {
		slog.Error("failed to start coupler", "error", err)
		os.Exit(1)
	}

	// ── World ─────────────────────────────────────────────────────────
	var snaps *snapshot.Store
	if cfg.Snapshot.Dir != "" {
		snaps = snapshot.New(cfg.Snapshot.Dir)
	}
	opts := model.ComponentOptions{
		Lookup:       cfg.Lookup(),
		CountryNames: cfg.CountryCodeToName,
	}
	if snaps != nil && cfg.Snapshot.Initial {
		opts.Archiver = snaps
	}
	comp := model.NewComponent(coupler.NewClient(syn, cfg.ExchangeTimeout), opts)
	if err := comp.Init(ctx); err != nil {
		slog.Error("failed to initialise world", "error", err)
		os.Exit(1)
	}
	defer comp.Close()

	sim := engine.NewSimulation(comp)
	eng := engine.NewEngine(cfg.FirstYear, cfg.LastYear)
	eng.Interval = cfg.StepInterval
	eng.OnStep = sim.Step

	if db != nil {
		if _, err := db.BeginRun(ctx, cfg.FirstYear, cfg.LastYear, grid.Len()); err != nil {
			slog.Error("failed to register run", "error", err)
			os.Exit(1)
		}
		sim.Recorder = db
		saveMeta(db, "seed", strconv.FormatInt(cfg.Seed, 10))
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Addr != "" {
		if cfg.API.AdminKey == "" {
			slog.Warn("LPJML_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		apiServer := &api.Server{
			Sim:        sim,
			Eng:        eng,
			DB:         db,
			Snapshots:  snaps,
			Addr:       cfg.API.Addr,
			AdminKey:   cfg.API.AdminKey,
			RateLimit:  cfg.API.RateLimit,
			RateWindow: cfg.API.RateEvery,
		}
		apiServer.Start(ctx)
	}

	// ── Run ───────────────────────────────────────────────────────────
	runErr := eng.Run(ctx)

	if db != nil {
		if err := db.SaveEvents(context.Background(), sim.Events(0)); err != nil {
			slog.Error("save events failed", "error", err)
		}
		status := persistence.StatusFinished
		if runErr != nil || !eng.Done() {
			status = persistence.StatusFailed
		}
		if err := db.FinishRun(context.Background(), status); err != nil {
			slog.Error("finish run failed", "error", err)
		}
		saveMeta(db, "last_year", strconv.Itoa(eng.Year()))
	}
	if snaps != nil {
		err := sim.WithWorld(func(w *model.World) error {
			return snaps.Archive(context.Background(), w, "final")
		})
		if err != nil {
			slog.Error("final snapshot failed", "error", err)
		}
	}

	if runErr != nil {
		slog.Error("simulation aborted", "year", eng.Year(), "error", runErr)
		// os.Exit skips deferred calls.
		if err := comp.Close(); err != nil {
			slog.Error("close component failed", "error", err)
		}
		if db != nil {
			if err := db.Close(); err != nil {
				slog.Error("close database failed", "error", err)
			}
		}
		os.Exit(1)
	}
	slog.Info("simulation stopped", "year", eng.Year(), "steps", sim.Stats().Steps)
}

// saveMeta stores a run metadata value, logging a failure.
func saveMeta(db *persistence.DB, key, value string) error {
	if err := db.SaveMeta(key, value); err != nil {
		slog.Error("save meta failed", "key", key, "error", err)
		return err
	}
	return nil
}
