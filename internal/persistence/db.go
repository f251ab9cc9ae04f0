// Package persistence records coupled runs in a SQL database: the run
// registry, one row per completed year, per-unit output means and run
// metadata. SQLite is the default; Postgres is supported through lib/pq.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/talgya/copan-lpjml/internal/engine"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// DB wraps a SQL connection for run storage.
type DB struct {
	conn  *sqlx.DB
	run   string // current run id
	seq   int    // next event sequence number within the run
	clock func() time.Time
}

// Run is one coupled simulation run.
type Run struct {
	ID        string `db:"id" json:"id"`
	Started   int64  `db:"started" json:"started"` // unix nanoseconds
	Finished  int64  `db:"finished" json:"finished"`
	FirstYear int    `db:"first_year" json:"first_year"`
	LastYear  int    `db:"last_year" json:"last_year"`
	Cells     int    `db:"cells" json:"cells"`
	Status    string `db:"status" json:"status"`
}

// Step is one completed year of a run.
type Step struct {
	RunID        string `db:"run_id" json:"run_id"`
	Year         int    `db:"year" json:"year"`
	DurationNs   int64  `db:"duration_ns" json:"duration_ns"`
	Reconciles   int64  `db:"reconciles" json:"reconciles"`
	UnitsFlushed int64  `db:"units_flushed" json:"units_flushed"`
	CellsWritten int64  `db:"cells_written" json:"cells_written"`
}

// UnitMean is a stored per-unit field mean.
type UnitMean struct {
	Year  int     `db:"year" json:"year"`
	Level string  `db:"level" json:"level"`
	Unit  string  `db:"unit" json:"unit"`
	Kind  string  `db:"kind" json:"kind"`
	Field string  `db:"field" json:"field"`
	Value float64 `db:"value" json:"value"`
}

// Open opens or creates a database. For SQLite dsn is a file path.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite:
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, clock: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RunID returns the id of the current run, "" before BeginRun.
func (db *DB) RunID() string { return db.run }

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started BIGINT NOT NULL,
			finished BIGINT NOT NULL DEFAULT 0,
			first_year INTEGER NOT NULL,
			last_year INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			duration_ns BIGINT NOT NULL,
			reconciles BIGINT NOT NULL,
			units_flushed BIGINT NOT NULL,
			cells_written BIGINT NOT NULL,
			PRIMARY KEY (run_id, year)
		)`,
		`CREATE TABLE IF NOT EXISTS unit_means (
			run_id TEXT NOT NULL,
			year INTEGER NOT NULL,
			level TEXT NOT NULL,
			unit TEXT NOT NULL,
			kind TEXT NOT NULL,
			field TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, year, level, unit, kind, field)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			year INTEGER NOT NULL,
			description TEXT NOT NULL,
			category TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_means_unit ON unit_means(run_id, level, unit)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun registers a new run and makes it current.
func (db *DB) BeginRun(ctx context.Context, firstYear, lastYear, cells int) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		`INSERT INTO runs (id, started, first_year, last_year, cells, status)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		id, db.clock().UnixNano(), firstYear, lastYear, cells, StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	db.run = id
	db.seq = 0
	slog.Info("run registered", "run", id, "first_year", firstYear, "last_year", lastYear)
	return id, nil
}

// FinishRun marks the current run finished or failed.
func (db *DB) FinishRun(ctx context.Context, status string) error {
	if db.run == "" {
		return fmt.Errorf("finish run: no current run")
	}
	_, err := db.conn.ExecContext(ctx, db.conn.Rebind(
		"UPDATE runs SET finished = ?, status = ? WHERE id = ?"),
		db.clock().UnixNano(), status, db.run,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordStep stores a completed year and its unit means for the current run.
func (db *DB) RecordStep(ctx context.Context, rec engine.StepRecord) error {
	if db.run == "" {
		return fmt.Errorf("record step: no current run")
	}
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO steps (run_id, year, duration_ns, reconciles, units_flushed, cells_written)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		db.run, rec.Year, rec.Duration.Nanoseconds(),
		int64(rec.Sync.Reconciles), int64(rec.Sync.UnitsFlushed), int64(rec.Sync.CellsWritten),
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO unit_means (run_id, year, level, unit, kind, field, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range rec.Means {
		_, err := stmt.ExecContext(ctx, db.run, rec.Year, m.Level.String(), m.Unit, m.Kind.String(), m.Field, m.Value)
		if err != nil {
			return fmt.Errorf("insert unit mean: %w", err)
		}
	}

	return tx.Commit()
}

// SaveEvents appends events to the current run.
func (db *DB) SaveEvents(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}
	if db.run == "" {
		return fmt.Errorf("save events: no current run")
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := db.seq
	for _, e := range events {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			"INSERT INTO events (run_id, seq, year, description, category) VALUES (?, ?, ?, ?, ?)"),
			db.run, seq, e.Year, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	db.seq = seq
	return nil
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(db.conn.Rebind(
		`INSERT INTO run_meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`),
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, db.conn.Rebind("SELECT value FROM run_meta WHERE key = ?"), key)
	return value, err
}

// Runs returns all registered runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := db.conn.SelectContext(ctx, &runs,
		"SELECT id, started, finished, first_year, last_year, cells, status FROM runs ORDER BY started DESC")
	return runs, err
}

// Steps returns the recorded years of a run in year order.
func (db *DB) Steps(ctx context.Context, runID string) ([]Step, error) {
	var steps []Step
	err := db.conn.SelectContext(ctx, &steps, db.conn.Rebind(
		`SELECT run_id, year, duration_ns, reconciles, units_flushed, cells_written
		 FROM steps WHERE run_id = ? ORDER BY year`), runID)
	return steps, err
}

// UnitMeans returns the stored means of one unit across all years.
func (db *DB) UnitMeans(ctx context.Context, runID, level, unit string) ([]UnitMean, error) {
	var means []UnitMean
	err := db.conn.SelectContext(ctx, &means, db.conn.Rebind(
		`SELECT year, level, unit, kind, field, value FROM unit_means
		 WHERE run_id = ? AND level = ? AND unit = ? ORDER BY year, field`),
		runID, level, unit)
	return means, err
}

// RecentEvents returns the most recent N events of a run, newest first.
func (db *DB) RecentEvents(ctx context.Context, runID string, limit int) ([]engine.Event, error) {
	var rows []struct {
		Year        int    `db:"year"`
		Description string `db:"description"`
		Category    string `db:"category"`
	}
	err := db.conn.SelectContext(ctx, &rows, db.conn.Rebind(
		"SELECT year, description, category FROM events WHERE run_id = ? ORDER BY seq DESC LIMIT ?"),
		runID, limit)
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, len(rows))
	for i, r := range rows {
		events[i] = engine.Event{Year: r.Year, Description: r.Description, Category: r.Category}
	}
	return events, nil
}
