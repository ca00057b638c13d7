// Package config loads the tierfetch configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/fetch"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level document.
type Config struct {
	Memory  Memory  `yaml:"memory"`
	Disk    Disk    `yaml:"disk"`
	Fetch   Fetch   `yaml:"fetch"`
	Loader  Loader  `yaml:"loader"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

// Memory configures the in-memory tiers.
type Memory struct {
	// MaxBytes is the strong tier budget; 0 means sysinfo.MemoryBudget().
	MaxBytes        int64 `yaml:"max_bytes"`
	OverflowEntries int   `yaml:"overflow_entries"`
}

// Disk configures the persistent tier.
type Disk struct {
	// Dir is the cache root; empty means <user cache dir>/tiercache.
	Dir            string  `yaml:"dir"`
	MaxBytes       int64   `yaml:"max_bytes"`
	WatermarkBytes int64   `yaml:"watermark_bytes"`
	SweepFraction  float64 `yaml:"sweep_fraction"`
	SweepOnWrite   bool    `yaml:"sweep_on_write"`
	Disabled       bool    `yaml:"disabled"`
}

// Fetch configures the HTTP source.
type Fetch struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Retries        uint64        `yaml:"retries"`
	MaxBytes       int64         `yaml:"max_bytes"`
	UserAgent      string        `yaml:"user_agent"`
}

// Loader configures resolution.
type Loader struct {
	Coalesce bool `yaml:"coalesce"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address for /metrics; empty disables it.
	Addr string `yaml:"addr"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Memory: Memory{OverflowEntries: 15},
		Disk: Disk{
			MaxBytes:       disk.DefaultMaxBytes,
			WatermarkBytes: disk.DefaultWatermark,
			SweepFraction:  disk.DefaultSweepFraction,
			SweepOnWrite:   true,
		},
		Fetch: Fetch{
			ConnectTimeout: fetch.DefaultConnectTimeout,
			ReadTimeout:    fetch.DefaultReadTimeout,
			Retries:        fetch.DefaultRetries,
			MaxBytes:       fetch.DefaultMaxBytes,
			UserAgent:      "tiercache",
		},
		Loader: Loader{Coalesce: true},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		return c, c.Validate()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return c, c.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Memory.MaxBytes < 0:
		return fmt.Errorf("%w: memory.max_bytes must be >= 0", ErrInvalid)
	case c.Memory.OverflowEntries <= 0:
		return fmt.Errorf("%w: memory.overflow_entries must be > 0", ErrInvalid)
	case c.Disk.MaxBytes <= 0:
		return fmt.Errorf("%w: disk.max_bytes must be > 0", ErrInvalid)
	case c.Disk.WatermarkBytes < 0:
		return fmt.Errorf("%w: disk.watermark_bytes must be >= 0", ErrInvalid)
	case c.Disk.SweepFraction <= 0 || c.Disk.SweepFraction > 1:
		return fmt.Errorf("%w: disk.sweep_fraction must be in (0, 1]", ErrInvalid)
	case c.Fetch.ConnectTimeout <= 0 || c.Fetch.ReadTimeout <= 0:
		return fmt.Errorf("%w: fetch timeouts must be > 0", ErrInvalid)
	case c.Fetch.MaxBytes < 0:
		return fmt.Errorf("%w: fetch.max_bytes must be >= 0", ErrInvalid)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("%w: log.format must be text or json", ErrInvalid)
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	return lvl, nil
}

// Logger builds a logger writing to w.
func (l Log) Logger(w io.Writer) *slog.Logger {
	lvl, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// CacheDir returns Disk.Dir, or <user cache dir>/tiercache when unset.
// An empty result means no storage location is available.
func (d Disk) CacheDir() string {
	if d.Dir != "" {
		return d.Dir
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "tiercache")
}
