// Package api provides the HTTP API for inspecting the coupled world.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/engine"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/metrics"
	"github.com/talgya/copan-lpjml/internal/model"
	"github.com/talgya/copan-lpjml/internal/persistence"
	"github.com/talgya/copan-lpjml/internal/persistence/snapshot"
)

// Server serves the world state over HTTP.
type Server struct {
	Sim       *engine.Simulation
	Eng       *engine.Engine
	DB        *persistence.DB // optional
	Snapshots *snapshot.Store // optional
	Addr      string
	AdminKey  string // Bearer token for POST endpoints. Empty = POST disabled.

	RateLimit  int           // unit data requests per client and window
	RateWindow time.Duration // 0 = one minute

	limiter *RateLimiter
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	if s.limiter == nil {
		window := s.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		limit := s.RateLimit
		if limit <= 0 {
			limit = 120
		}
		s.limiter = NewRateLimiter(limit, window)
	}

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/units", s.handleUnits)
	mux.HandleFunc("GET /api/v1/unit/{level}/{id}", RateLimitMiddleware(s.limiter, s.handleUnit))
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.Handle("GET /metrics", metrics.Handler())

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("POST /api/v1/stop", s.adminOnly(s.handleStop))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine and shuts it down when
// ctx is done.
func (s *Server) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go s.limiter.RunCleanup(ctx)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no LPJML_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Sim.Stats()
	status := map[string]any{
		"name":       "copan-lpjml",
		"year":       stats.Year,
		"first_year": s.Sim.Component.FirstYear(),
		"last_year":  s.Sim.Component.LastYear(),
		"steps":      stats.Steps,
		"last_step":  stats.LastStep.String(),
		"sync":       stats.Sync,
	}
	if s.Eng != nil {
		status["running"] = s.Eng.Running()
		status["done"] = s.Eng.Done()
	}
	if s.DB != nil {
		status["run"] = s.DB.RunID()
	}
	err := s.Sim.WithWorld(func(wd *model.World) error {
		units := make(map[string]int)
		for _, l := range []hierarchy.Level{hierarchy.LevelWorld, hierarchy.LevelWorldRegion, hierarchy.LevelCountry, hierarchy.LevelCell} {
			units[l.String()] = len(wd.Tree.Units(l))
		}
		status["units"] = units
		status["dirty"] = map[string]int{
			dataset.Input.String():  wd.Sync.Tracker().Count(dataset.Input),
			dataset.Output.String(): wd.Sync.Tracker().Count(dataset.Output),
		}
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, status)
}

type unitSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Level      string   `json:"level"`
	Parent     string   `json:"parent,omitempty"`
	Cells      int      `json:"cells"`
	Children   int      `json:"children"`
	Neighbours []string `json:"neighbours,omitempty"`
}

func summarize(u *hierarchy.Unit) unitSummary {
	sum := unitSummary{
		ID:       u.ID(),
		Name:     u.Name(),
		Level:    u.Level().String(),
		Cells:    len(u.Cells()),
		Children: len(u.Children()),
	}
	if p := u.Parent(); p != nil {
		sum.Parent = p.ID()
	}
	for _, n := range u.Neighbours() {
		sum.Neighbours = append(sum.Neighbours, n.ID())
	}
	return sum
}

// handleUnits lists the units of one level (default: country).
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	levelName := r.URL.Query().Get("level")
	if levelName == "" {
		levelName = "country"
	}
	level, err := hierarchy.ParseRole(levelName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out []unitSummary
	err = s.Sim.WithWorld(func(wd *model.World) error {
		units := wd.Tree.Units(level)
		out = make([]unitSummary, 0, len(units))
		for _, u := range units {
			out = append(out, summarize(u))
		}
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, out)
}

// handleUnit returns one unit's data. With ?field= the values over the
// unit's cells are included; otherwise every field's mean.
func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	level, err := hierarchy.ParseRole(r.PathValue("level"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kindName := r.URL.Query().Get("kind")
	if kindName == "" {
		kindName = dataset.Output.String()
	}
	kind, err := dataset.ParseKind(kindName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	field := r.URL.Query().Get("field")

	resp := map[string]any{}
	status := http.StatusOK
	err = s.Sim.WithWorld(func(wd *model.World) error {
		u, ok := wd.Unit(level, r.PathValue("id"))
		if !ok {
			status = http.StatusNotFound
			return fmt.Errorf("%s %q not found", level, r.PathValue("id"))
		}
		view, err := wd.Sync.View(u, kind)
		if err != nil {
			return err
		}
		resp["unit"] = summarize(u)
		resp["kind"] = kind.String()
		resp["year"] = wd.Store(kind).Year

		if field != "" {
			vals, err := view.Read(field)
			if err != nil {
				if errors.Is(err, dataset.ErrUnknownField) {
					status = http.StatusNotFound
				}
				return err
			}
			resp["field"] = field
			resp["cells"] = u.Cells()
			resp["values"] = vals
			resp["mean"] = dataset.Mean(vals)
			return nil
		}
		means := make(map[string]float64)
		for _, f := range view.Fields() {
			m, err := view.Mean(f)
			if err != nil {
				return err
			}
			means[f] = m
		}
		resp["means"] = means
		return nil
	})
	if err != nil {
		if status == http.StatusOK {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	writeJSON(w, s.Sim.Events(limit))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	runs, err := s.DB.Runs(r.Context())
	if err != nil {
		slog.Error("list runs failed", "error", err)
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.Snapshots == nil {
		http.Error(w, "snapshots not configured", http.StatusServiceUnavailable)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		label = fmt.Sprintf("year-%d", s.Sim.Stats().Year)
	}
	if strings.ContainsAny(label, `/\`) || strings.HasPrefix(label, ".") {
		http.Error(w, "invalid label", http.StatusBadRequest)
		return
	}

	err := s.Sim.WithWorld(func(wd *model.World) error {
		return s.Snapshots.Archive(r.Context(), wd, label)
	})
	if err != nil {
		slog.Error("snapshot failed", "label", label, "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"label":   label,
		"year":    s.Sim.Stats().Year,
		"message": "snapshot saved",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "engine not available", http.StatusServiceUnavailable)
		return
	}
	s.Eng.Stop()
	writeJSON(w, map[string]any{"year": s.Eng.Year(), "message": "stopping after current year"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
