package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/copan-lpjml/internal/coupler"
	"github.com/talgya/copan-lpjml/internal/engine"
	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/model"
	"github.com/talgya/copan-lpjml/internal/persistence"
	"github.com/talgya/copan-lpjml/internal/persistence/snapshot"
	"github.com/talgya/copan-lpjml/internal/world"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	g, err := world.Generate(world.SmallTestConfig())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	syn, err := coupler.NewSynthetic(coupler.SyntheticConfig{Grid: g, FirstYear: 2000, LastYear: 2001, Seed: 2})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	lookup := hierarchy.NewStaticLookup(
		map[string]string{"DEU": "Germany"},
		map[string][]string{"Europe": {"DEU", "FRA"}},
	)
	c := model.NewComponent(coupler.NewClient(syn, time.Second), model.ComponentOptions{Lookup: lookup})
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sim := engine.NewSimulation(c)

	dir := t.TempDir()
	db, err := persistence.Open(persistence.DriverSQLite, filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.BeginRun(context.Background(), 2000, 2001, g.Len()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	sim.Recorder = db

	if err := sim.Step(context.Background(), 2000); err != nil {
		t.Fatalf("Step: %v", err)
	}

	s := &Server{
		Sim:       sim,
		Eng:       engine.NewEngine(2000, 2001),
		DB:        db,
		Snapshots: snapshot.New(filepath.Join(dir, "snapshots")),
		AdminKey:  "secret",
		RateLimit: 3,
	}
	return s, s.Handler()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := get(t, h, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Year  int            `json:"year"`
		Units map[string]int `json:"units"`
		Dirty map[string]int `json:"dirty"`
	}
	decode(t, rec, &body)
	if body.Year != 2000 {
		t.Errorf("year = %d, want 2000", body.Year)
	}
	if body.Units["world"] != 1 || body.Units["country"] != 2 || body.Units["world_region"] != 1 {
		t.Errorf("units = %v", body.Units)
	}
	if body.Dirty["input"] != 0 || body.Dirty["output"] != 0 {
		t.Errorf("dirty = %v, want none", body.Dirty)
	}
}

func TestUnits(t *testing.T) {
	_, h := newTestServer(t)
	var units []unitSummary
	rec := get(t, h, "/api/v1/units?level=countries")
	decode(t, rec, &units)
	if len(units) != 2 {
		t.Fatalf("got %d countries, want 2", len(units))
	}
	if units[0].Parent != "Europe" {
		t.Errorf("parent = %q, want Europe", units[0].Parent)
	}
	if len(units[0].Neighbours) != 1 {
		t.Errorf("neighbours = %v, want the other country", units[0].Neighbours)
	}

	if rec := get(t, h, "/api/v1/units?level=continent"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown level status = %d, want 400", rec.Code)
	}
}

func TestUnitField(t *testing.T) {
	_, h := newTestServer(t)
	rec := get(t, h, "/api/v1/unit/country/DEU?kind=output&field=harvestc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Year   int       `json:"year"`
		Cells  []int     `json:"cells"`
		Values []float64 `json:"values"`
	}
	decode(t, rec, &body)
	if body.Year != 2000 {
		t.Errorf("year = %d, want 2000", body.Year)
	}
	if len(body.Values) == 0 || len(body.Values) != len(body.Cells) {
		t.Errorf("got %d values for %d cells", len(body.Values), len(body.Cells))
	}

	if rec := get(t, h, "/api/v1/unit/country/XXX"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown unit status = %d, want 404", rec.Code)
	}
	if rec := get(t, h, "/api/v1/unit/world/world?field=nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown field status = %d, want 404", rec.Code)
	}
}

func TestUnitMeans(t *testing.T) {
	_, h := newTestServer(t)
	rec := get(t, h, "/api/v1/unit/world/world?kind=input")
	var body struct {
		Means map[string]float64 `json:"means"`
	}
	decode(t, rec, &body)
	if _, ok := body.Means["landuse"]; !ok {
		t.Errorf("means = %v, want landuse", body.Means)
	}
}

func TestUnitRateLimit(t *testing.T) {
	_, h := newTestServer(t)
	for i := 0; i < 3; i++ {
		if rec := get(t, h, "/api/v1/unit/world/world"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := get(t, h, "/api/v1/unit/world/world")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestSnapshotRequiresToken(t *testing.T) {
	s, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/snapshot?label=test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/snapshot?label=test", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	labels, err := s.Snapshots.Labels()
	if err != nil || len(labels) != 1 || labels[0] != "test" {
		t.Errorf("Labels() = %v, %v; want [test]", labels, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/snapshot?label=../x", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad label status = %d, want 400", rec.Code)
	}
}

func TestRunsAndEvents(t *testing.T) {
	_, h := newTestServer(t)
	var runs []persistence.Run
	decode(t, get(t, h, "/api/v1/runs"), &runs)
	if len(runs) != 1 || runs[0].Status != persistence.StatusRunning {
		t.Errorf("runs = %+v", runs)
	}

	var events []engine.Event
	decode(t, get(t, h, "/api/v1/events?limit=5"), &events)
	if len(events) != 1 || !strings.Contains(events[0].Description, "2000") {
		t.Errorf("events = %+v", events)
	}
}

func TestMetrics(t *testing.T) {
	_, h := newTestServer(t)
	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lpjml_") {
		t.Error("metrics output lacks lpjml_ collectors")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	if got := clientIP(req); got != "198.51.100.7" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.9" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestCheckBearerToken(t *testing.T) {
	s := &Server{AdminKey: "secret"}
	tests := []struct {
		header string
		want   bool
	}{
		{"Bearer secret", true},
		{"Bearer wrong", false},
		{"Bearer secre", false},
		{"Bearer secrets", false},
		{"secret", false},
		{"Basic secret", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/snapshot", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := s.checkBearerToken(req); got != tt.want {
			t.Errorf("checkBearerToken(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
