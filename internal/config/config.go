// Package config loads the server configuration from environment variables.
//
// Every setting has a default, so the server starts with no environment at
// all. Invalid values are reported together instead of one at a time.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type Config struct {
	Port int

	// Storage
	Backend    string // "file" or "sqlite"
	DataDir    string // directory of the JSON documents (file backend)
	DBPath     string // database file (sqlite backend)
	StrictLoad bool   // refuse to start on a corrupt document instead of starting empty

	StaticDir string

	LogLevel  string
	LogFormat string // "tint", "json" or "text"

	// Change notifications
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration

	// API rate limiting, per client IP
	RateLimit  int
	RateWindow time.Duration

	CORSOrigin string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		Port:              3000,
		Backend:           BackendFile,
		DataDir:           "data",
		DBPath:            filepath.Join("data", "lists.db"),
		StaticDir:         "public",
		LogLevel:          "info",
		LogFormat:         "tint",
		HeartbeatInterval: 30 * time.Second,
		StaleTimeout:      60 * time.Second,
		RateLimit:         100,
		RateWindow:        15 * time.Minute,
		CORSOrigin:        "*",
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return load(os.Getenv)
}

// load takes the lookup function as a parameter so tests don't need to
// touch the real environment.
func load(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	p.integer("PORT", &cfg.Port)
	p.str("STORE_BACKEND", &cfg.Backend)
	p.str("DATA_DIR", &cfg.DataDir)
	p.str("DB_PATH", &cfg.DBPath)
	p.boolean("STRICT_LOAD", &cfg.StrictLoad)
	p.str("STATIC_DIR", &cfg.StaticDir)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)
	p.duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	p.duration("STALE_TIMEOUT", &cfg.StaleTimeout)
	p.integer("RATE_LIMIT", &cfg.RateLimit)
	p.duration("RATE_WINDOW", &cfg.RateWindow)
	p.str("CORS_ORIGIN", &cfg.CORSOrigin)

	cfg.Backend = strings.ToLower(cfg.Backend)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := errors.Join(append(p.errs, cfg.Validate())...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that parsing alone can't.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	switch c.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendFile, BackendSQLite, c.Backend))
	}
	switch c.LogFormat {
	case "tint", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be tint, json or text, got %q", c.LogFormat))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.StaleTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("STALE_TIMEOUT (%s) must be longer than HEARTBEAT_INTERVAL (%s)",
			c.StaleTimeout, c.HeartbeatInterval))
	}
	if c.RateLimit < 1 {
		errs = append(errs, errors.New("RATE_LIMIT must be at least 1"))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// parser collects conversion errors so Load can report all of them.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key string, dst *string) {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v) // Atoi = ASCII to Integer
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *parser) boolean(key string, dst *bool) {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

// duration accepts Go durations ("30s", "15m") and bare integers, which
// are read as milliseconds.
func (p *parser) duration(key string, dst *time.Duration) {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return
	}
	if ms, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}
