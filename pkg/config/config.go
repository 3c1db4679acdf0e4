// Package config holds the run configuration: connection parameters per
// profile, the processing window settings, the per-granularity parameters and
// the sanitizing rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/airbreizh/didon/pkg/measure"
)

// ErrMissingParams is returned when a granularity lacks its period, threshold or precision
var ErrMissingParams = errors.New("missing granularity parameters")

// Config is built once at startup and never mutated afterwards
type Config struct {
	Profile       string                    `mapstructure:"profile"`
	Source        Source                    `mapstructure:"source"`
	Destination   Destination               `mapstructure:"destination"`
	Log           Log                       `mapstructure:"log"`
	Processing    Processing                `mapstructure:"processing"`
	Identifiers   []string                  `mapstructure:"identifiers"`
	Granularities map[string]measure.Params `mapstructure:"granularities"`
	Sanitize      Sanitize                  `mapstructure:"sanitize"`
	Server        Server                    `mapstructure:"server"`
}

// Source describes the measurement server
type Source struct {
	Kind     string        `mapstructure:"kind"` // xair or csv
	Endpoint string        `mapstructure:"endpoint"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Base     string        `mapstructure:"base"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Dir      string        `mapstructure:"dir"`
}

// Destination describes the measurement store
type Destination struct {
	Driver   string `mapstructure:"driver"` // postgres, sqlite3, duckdb, badger or memory
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Schema   string `mapstructure:"schema"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
}

// DataSource returns the driver-specific connection string.
func (d Destination) DataSource() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
	}
	return d.Path
}

// Log configures the run logger
type Log struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"` // text or json
	Dir     string `mapstructure:"dir"`
	Program string `mapstructure:"program"`
}

// Processing holds the window and loop settings
type Processing struct {
	LastYear      int    `mapstructure:"last_year"`
	YearsBack     int    `mapstructure:"years_back"`
	DaysBack      int    `mapstructure:"days_back"`
	InsertEnabled bool   `mapstructure:"insert_enabled"`
	Timezone      string `mapstructure:"timezone"`
	Workers       int    `mapstructure:"workers"`
}

// Location loads the configured timezone.
func (p Processing) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", p.Timezone)
	}
	return loc, nil
}

// ValueReplacement replaces a sentinel reading. A nil Replacement means missing.
type ValueReplacement struct {
	Sentinel    float64  `mapstructure:"sentinel"`
	Replacement *float64 `mapstructure:"replacement"`
}

// CodeMapping maps a source validity symbol onto "0" or "1"
type CodeMapping struct {
	Source string `mapstructure:"source"`
	Code   string `mapstructure:"code"`
}

// Sanitize lists the value and code replacements applied to raw data
type Sanitize struct {
	Values []ValueReplacement `mapstructure:"values"`
	Codes  []CodeMapping      `mapstructure:"codes"`
}

// ValueMap returns the sentinel table.
func (s Sanitize) ValueMap() map[float64]null.Float {
	m := make(map[float64]null.Float, len(s.Values))
	for _, v := range s.Values {
		m[v.Sentinel] = null.FloatFromPtr(v.Replacement)
	}
	return m
}

// CodeMap returns the code table.
func (s Sanitize) CodeMap() map[string]string {
	m := make(map[string]string, len(s.Codes))
	for _, c := range s.Codes {
		m[c.Source] = c.Code
	}
	return m
}

// Server configures serve mode
type Server struct {
	Listen        string        `mapstructure:"listen"`
	Interval      time.Duration `mapstructure:"interval"`
	Granularities []string      `mapstructure:"granularities"`
}

// Default returns the built-in configuration for profile.
func Default(profile string) Config {
	profile = strings.ToUpper(profile)
	if profile == "" {
		profile = DefaultProfile
	}

	cfg := Config{
		Profile: profile,
		Source: Source{
			Kind:     DefaultSourceKind,
			Endpoint: DefaultSourceEndpoint,
			User:     DefaultSourceUser,
			Base:     DefaultSourceBase,
			Timeout:  DefaultSourceTimeout,
			Dir:      DefaultSourceDir,
		},
		Destination: Destination{
			Driver:   DefaultDriver,
			Host:     LocalDestination,
			Port:     DefaultPostgresPort,
			User:     LocalUser,
			Database: DefaultDatabase,
			Schema:   DefaultSchema,
			SSLMode:  DefaultSSLMode,
			Path:     DefaultBadgerPath,
		},
		Log: Log{
			Level:   DefaultLogLevel,
			Format:  DefaultLogFormat,
			Program: DefaultLogProgram,
		},
		Processing: Processing{
			LastYear:      DefaultLastYear,
			YearsBack:     DefaultYearsBack,
			DaysBack:      DefaultDaysBack,
			InsertEnabled: true,
			Timezone:      DefaultTimezone,
			Workers:       DefaultWorkers,
		},
		Identifiers: append([]string(nil), DefaultIdentifiers...),
		Granularities: map[string]measure.Params{
			"a": {Period: measure.YearStart, Threshold: 85, Precision: 0},
			"m": {Period: measure.MonthStart, Threshold: 85, Precision: 0},
			"d": {Period: measure.Day, Threshold: 75, Precision: 1},
			"h": {Period: measure.Hour, Threshold: 75, Precision: 1},
		},
		Sanitize: Sanitize{
			Values: []ValueReplacement{{Sentinel: DefaultSentinel}},
			Codes: []CodeMapping{
				{"Z", "0"}, {"C", "0"}, {"D", "0"}, {"M", "0"}, {"I", "0"}, {"N", "0"},
				{"A", "1"}, {"O", "1"}, {"R", "1"}, {"P", "1"}, {"W", "1"},
			},
		},
		Server: Server{
			Listen:        DefaultListenAddr,
			Interval:      DefaultRunInterval,
			Granularities: []string{string(measure.Daily), string(measure.Hourly)},
		},
	}

	if profile == ProfileProd {
		cfg.Destination.Host = ProdDestinationHost
		cfg.Destination.User = ProdDestinationUser
		cfg.Log.Dir = ProdLogDir
	}

	return cfg
}

// Params returns the parameters of g, or ErrMissingParams.
func (c Config) Params(g measure.Granularity) (measure.Params, error) {
	p, ok := c.Granularities[strings.ToLower(string(g))]
	if !ok {
		return measure.Params{}, errors.Wrapf(ErrMissingParams, "granularity %s", g)
	}
	return p, nil
}

// ParamsByGranularity returns the parameters of every configured granularity.
func (c Config) ParamsByGranularity() (map[measure.Granularity]measure.Params, error) {
	out := make(map[measure.Granularity]measure.Params, len(c.Granularities))
	for key, p := range c.Granularities {
		g, err := measure.ParseGranularity(key)
		if err != nil {
			return nil, err
		}
		out[g] = p
	}
	return out, nil
}

// Validate checks the configuration before any connection is opened.
func (c Config) Validate() error {
	switch c.Profile {
	case ProfileProd, ProfileLocal:
	default:
		return errors.Errorf("unknown profile %q (want %s or %s)", c.Profile, ProfileProd, ProfileLocal)
	}

	switch c.Source.Kind {
	case "xair":
		if c.Source.Endpoint == "" {
			return errors.New("source.endpoint is required")
		}
	case "csv":
		if c.Source.Dir == "" {
			return errors.New("source.dir is required")
		}
	default:
		return errors.Errorf("unknown source kind %q", c.Source.Kind)
	}

	switch c.Destination.Driver {
	case "postgres", "sqlite3", "duckdb", "badger":
		if c.Destination.DataSource() == "" {
			return errors.Errorf("destination for driver %s has no connection string", c.Destination.Driver)
		}
	case "memory":
	default:
		return errors.Errorf("unknown destination driver %q", c.Destination.Driver)
	}

	if len(c.Identifiers) == 0 {
		return errors.New("no identifiers configured")
	}

	if _, err := c.ParamsByGranularity(); err != nil {
		return err
	}
	for _, g := range measure.Granularities {
		p, err := c.Params(g)
		if err != nil {
			return err
		}
		if !p.Period.Valid() {
			return errors.Wrapf(ErrMissingParams, "granularity %s: invalid period %q", g, p.Period)
		}
		if p.Threshold < 0 || p.Threshold > 100 {
			return errors.Errorf("granularity %s: threshold %d outside 0..100", g, p.Threshold)
		}
		if p.Precision < 0 {
			return errors.Errorf("granularity %s: negative precision %d", g, p.Precision)
		}
	}

	for _, m := range c.Sanitize.Codes {
		if m.Code != "0" && m.Code != "1" {
			return errors.Errorf("code mapping %q -> %q: target must be 0 or 1", m.Source, m.Code)
		}
	}

	p := c.Processing
	if p.YearsBack < 1 {
		return errors.Errorf("processing.years_back must be at least 1, got %d", p.YearsBack)
	}
	if p.DaysBack < 0 {
		return errors.Errorf("processing.days_back must not be negative, got %d", p.DaysBack)
	}
	if p.Workers < 1 {
		return errors.Errorf("processing.workers must be at least 1, got %d", p.Workers)
	}
	if _, err := p.Location(); err != nil {
		return err
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}

	for _, s := range c.Server.Granularities {
		if _, err := measure.ParseGranularity(s); err != nil {
			return errors.Wrap(err, "server.granularities")
		}
	}

	return nil
}

// LogFields returns the effective parameters worth logging at startup.
// Passwords are never included.
func (c Config) LogFields() logrus.Fields {
	return logrus.Fields{
		"profile":          c.Profile,
		"source_kind":      c.Source.Kind,
		"source_endpoint":  c.Source.Endpoint,
		"source_user":      c.Source.User,
		"source_base":      c.Source.Base,
		"destination":      c.Destination.Driver,
		"destination_host": c.Destination.Host,
		"database":         c.Destination.Database,
		"schema":           c.Destination.Schema,
		"last_year":        c.Processing.LastYear,
		"years_back":       c.Processing.YearsBack,
		"days_back":        c.Processing.DaysBack,
		"insert_enabled":   c.Processing.InsertEnabled,
		"timezone":         c.Processing.Timezone,
		"workers":          c.Processing.Workers,
		"identifiers":      len(c.Identifiers),
	}
}
