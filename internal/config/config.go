// Package config provides layered configuration for kvlat: built-in
// defaults, then a YAML or JSON file, then a .env file, then the process
// environment. The CLI applies its flags last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kvlat/kvlat/internal/backend"
	"github.com/kvlat/kvlat/internal/bench"
	kerrors "github.com/kvlat/kvlat/internal/errors"
)

// Publish targets.
const (
	PublishNone  = "none"
	PublishLocal = "local"
	PublishS3    = "s3"
)

// Config holds every setting a run needs.
type Config struct {
	// Iterations is the number of iterations per phase.
	Iterations int `json:"iterations" yaml:"iterations"`

	// KeyLength and ValueLength are the generated payload sizes in bytes.
	KeyLength   int `json:"key_length" yaml:"key_length"`
	ValueLength int `json:"value_length" yaml:"value_length"`

	// Backend is the registered backend name.
	Backend string `json:"backend" yaml:"backend"`

	// Durable requests synced writes. Only durable-capable backends accept it.
	Durable bool `json:"durable" yaml:"durable"`

	// Compression enables snappy block compression where supported.
	Compression bool `json:"compression" yaml:"compression"`

	// Seed makes the key and value stream reproducible. Zero means random.
	Seed uint64 `json:"seed" yaml:"seed"`

	// DataDir is the base directory for backend files and history.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HistoryDir holds the run journal. Defaults to <data_dir>/history.
	HistoryDir string `json:"history_dir" yaml:"history_dir"`

	// MetricsAddr serves Prometheus metrics during the run when set.
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	Log     LogConfig     `json:"log" yaml:"log"`
	Publish PublishConfig `json:"publish" yaml:"publish"`
}

// LogConfig selects the logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is console or json.
	Format string `json:"format" yaml:"format"`
}

// PublishConfig selects where JSON summaries are uploaded.
type PublishConfig struct {
	// Type is none, local or s3.
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root. Defaults to <data_dir>/reports.
	Path string `json:"path" yaml:"path"`

	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns 100000 iterations of 8-byte keys and 100-byte
// values against the memory backend.
func DefaultConfig() *Config {
	return &Config{
		Iterations:  100000,
		KeyLength:   8,
		ValueLength: 100,
		Backend:     backend.MemoryName,
		DataDir:     "./data/kvlat",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Publish: PublishConfig{
			Type: PublishNone,
		},
	}
}

// Resolve fills paths derived from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/kvlat"
	}
	if c.HistoryDir == "" {
		c.HistoryDir = filepath.Join(c.DataDir, "history")
	}
	if c.Publish.Type == "" {
		c.Publish.Type = PublishNone
	}
	if c.Publish.Path == "" {
		c.Publish.Path = filepath.Join(c.DataDir, "reports")
	}
}

// BackendPath is the directory a persistent backend stores its files in.
func (c *Config) BackendPath() string {
	return filepath.Join(c.DataDir, c.Backend)
}

// Bench returns the driver parameters.
func (c *Config) Bench() bench.Config {
	return bench.Config{
		Iterations:  c.Iterations,
		KeyLength:   c.KeyLength,
		ValueLength: c.ValueLength,
	}
}

// Validate checks the configuration. Every failure is an
// INVALID_CONFIGURATION error.
func (c *Config) Validate() error {
	if err := c.Bench().Validate(); err != nil {
		return err
	}

	// Durability is checked when the backend is opened.
	if _, ok := backend.Describe(c.Backend); !ok {
		return kerrors.NewConfigError("unknown backend %q (available: %s)",
			c.Backend, strings.Join(backend.Names(), ", "))
	}

	if c.DataDir == "" {
		return kerrors.NewConfigError("data_dir is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return kerrors.NewConfigError("invalid log level: %s (must be debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return kerrors.NewConfigError("invalid log format: %s (must be console or json)", c.Log.Format)
	}

	switch c.Publish.Type {
	case PublishNone, PublishLocal:
	case PublishS3:
		if c.Publish.S3.Bucket == "" {
			return kerrors.NewConfigError("publish.s3.bucket is required when publish type is s3")
		}
	default:
		return kerrors.NewConfigError("invalid publish type: %s (must be none, local or s3)", c.Publish.Type)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process
// environment. Variables already set are not overridden. A missing file
// is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies environment variables. ITERATIONS, KEY_LENGTH and
// VALUE_LENGTH are unprefixed so existing benchmark scripts keep working;
// the rest use the KVLAT_ prefix.
func LoadFromEnv(cfg *Config) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"ITERATIONS", &cfg.Iterations},
		{"KEY_LENGTH", &cfg.KeyLength},
		{"VALUE_LENGTH", &cfg.ValueLength},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return kerrors.NewConfigError("%s must be an integer, got %q", e.name, v)
			}
			*e.dst = n
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"KVLAT_DURABLE", &cfg.Durable},
		{"KVLAT_COMPRESSION", &cfg.Compression},
	}
	for _, e := range bools {
		if v := os.Getenv(e.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return kerrors.NewConfigError("%s must be a boolean, got %q", e.name, v)
			}
			*e.dst = b
		}
	}

	if v := os.Getenv("KVLAT_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return kerrors.NewConfigError("KVLAT_SEED must be an unsigned integer, got %q", v)
		}
		cfg.Seed = seed
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"KVLAT_BACKEND", &cfg.Backend},
		{"KVLAT_DATA_DIR", &cfg.DataDir},
		{"KVLAT_HISTORY_DIR", &cfg.HistoryDir},
		{"KVLAT_LOG_LEVEL", &cfg.Log.Level},
		{"KVLAT_LOG_FORMAT", &cfg.Log.Format},
		{"KVLAT_METRICS_ADDR", &cfg.MetricsAddr},
		{"KVLAT_PUBLISH_TYPE", &cfg.Publish.Type},
		{"KVLAT_PUBLISH_PATH", &cfg.Publish.Path},
		{"KVLAT_S3_BUCKET", &cfg.Publish.S3.Bucket},
		{"KVLAT_S3_REGION", &cfg.Publish.S3.Region},
		{"KVLAT_S3_ENDPOINT", &cfg.Publish.S3.Endpoint},
	}
	for _, e := range strs {
		if v := os.Getenv(e.name); v != "" {
			*e.dst = v
		}
	}

	return nil
}

// Load layers defaults, the optional config file, the optional .env file
// and the environment.
func Load(path, dotenvPath string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(dotenvPath); err != nil {
		return nil, err
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates the directories the run writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.HistoryDir}
	if c.Publish.Type == PublishLocal {
		dirs = append(dirs, c.Publish.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
