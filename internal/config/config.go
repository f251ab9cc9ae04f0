// Package config loads the runner configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/talgya/copan-lpjml/internal/hierarchy"
	"github.com/talgya/copan-lpjml/internal/world"
)

// Config is the full runner configuration.
type Config struct {
	FirstYear       int           `yaml:"first_year"`
	LastYear        int           `yaml:"last_year"`
	StepInterval    time.Duration `yaml:"step_interval"`
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
	Seed            int64         `yaml:"seed"`

	// CountryCodeToName names country units after Countries instead of
	// their ISO codes.
	CountryCodeToName bool                `yaml:"country_code_to_name"`
	Countries         map[string]string   `yaml:"countries"`     // code → name
	WorldRegions      map[string][]string `yaml:"world_regions"` // region → country codes

	Grid     world.GenConfig `yaml:"grid"`
	Database DatabaseConfig  `yaml:"database"`
	Snapshot SnapshotConfig  `yaml:"snapshot"`
	API      APIConfig       `yaml:"api"`
	LogLevel string          `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type SnapshotConfig struct {
	Dir     string `yaml:"dir"`
	Initial bool   `yaml:"initial"` // archive the world after Init
}

type APIConfig struct {
	Addr      string        `yaml:"addr"` // empty disables the HTTP API
	AdminKey  string        `yaml:"-"`    // from the environment only
	RateLimit int           `yaml:"rate_limit"`
	RateEvery time.Duration `yaml:"rate_window"`
}

// Environment variables overriding file values.
const (
	EnvDBDriver    = "LPJML_DB_DRIVER"
	EnvDBDSN       = "LPJML_DB_DSN"
	EnvAPIAddr     = "LPJML_API_ADDR"
	EnvAdminKey    = "LPJML_ADMIN_KEY"
	EnvLogLevel    = "LPJML_LOG_LEVEL"
	EnvSnapshotDir = "LPJML_SNAPSHOT_DIR"
)

// Load reads the configuration. An empty path yields the defaults. envFile,
// if it exists, is loaded into the environment before overrides apply;
// variables already set win over the file.
func Load(path, envFile string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		// Country tables replace the defaults instead of merging into them.
		countries, regions := cfg.Countries, cfg.WorldRegions
		cfg.Countries, cfg.WorldRegions = nil, nil
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
		if cfg.Countries == nil && cfg.WorldRegions == nil {
			cfg.Countries, cfg.WorldRegions = countries, regions
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%s: %w", envFile, err)
		}
	}
	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a configuration running the synthetic grid for ten years.
func Defaults() Config {
	return Config{
		FirstYear:       2001,
		LastYear:        2010,
		ExchangeTimeout: 30 * time.Second,
		Seed:            42,
		Countries: map[string]string{
			"DEU": "Germany", "FRA": "France", "POL": "Poland", "ESP": "Spain",
			"BRA": "Brazil", "ARG": "Argentina", "CHN": "China", "IND": "India",
		},
		WorldRegions: map[string][]string{
			"Europe":       {"DEU", "FRA", "POL", "ESP"},
			"LatinAmerica": {"BRA", "ARG"},
			"Asia":         {"CHN", "IND"},
		},
		Grid: defaultGrid(),
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/runs.db",
		},
		Snapshot: SnapshotConfig{Dir: "data/snapshots", Initial: true},
		API: APIConfig{
			RateLimit: 120,
			RateEvery: time.Minute,
		},
		LogLevel: "info",
	}
}

// defaultGrid leaves the country list to Normalize.
func defaultGrid() world.GenConfig {
	g := world.DefaultGenConfig()
	g.Countries = nil
	return g
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	set(&c.Database.Driver, EnvDBDriver)
	set(&c.Database.DSN, EnvDBDSN)
	set(&c.API.Addr, EnvAPIAddr)
	set(&c.API.AdminKey, EnvAdminKey)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.Snapshot.Dir, EnvSnapshotDir)
}

// Normalize fills derived and defaulted values.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 30 * time.Second
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 120
	}
	if c.API.RateEvery <= 0 {
		c.API.RateEvery = time.Minute
	}
	if c.Grid.Seed == 0 {
		c.Grid.Seed = c.Seed
	}
	// Every configured country is placed on the synthetic grid.
	if len(c.Grid.Countries) == 0 {
		for code := range c.Countries {
			c.Grid.Countries = append(c.Grid.Countries, code)
		}
	}
	sort.Strings(c.Grid.Countries)
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	var errs []error
	if c.LastYear < c.FirstYear {
		errs = append(errs, fmt.Errorf("last_year %d before first_year %d", c.LastYear, c.FirstYear))
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]string)
	for region, codes := range c.WorldRegions {
		for _, code := range codes {
			if prev, dup := seen[code]; dup && prev != region {
				errs = append(errs, fmt.Errorf("country %s listed in world regions %s and %s", code, prev, region))
			}
			seen[code] = region
		}
	}
	if err := c.Grid.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("grid: %w", err))
	}
	return errors.Join(errs...)
}

// Lookup returns the country table as a hierarchy lookup.
func (c Config) Lookup() *hierarchy.StaticLookup {
	return hierarchy.NewStaticLookup(c.Countries, c.WorldRegions)
}

// ParseLevel maps a log level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
}
