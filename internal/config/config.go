package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is the service address used when none is configured
	DefaultListen = "127.0.0.1:8448"

	// DefaultMaxConcurrentRequests caps in-flight task requests
	DefaultMaxConcurrentRequests = 250

	// DefaultLogLevel is used when the file and the flags are silent
	DefaultLogLevel = "info"
)

// Config is the on-disk configuration for ecs
type Config struct {
	// Engine configures the container engine client
	Engine Engine `yaml:"engine"`

	// Listen is the address the service binds to
	Listen string `yaml:"listen"`

	// MaxConcurrentRequests is how many task requests execute at once.
	// Every task request holds a whole container lifecycle open.
	MaxConcurrentRequests int `yaml:"maxConcurrentRequests"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"logLevel"`
}

// Engine configures how ecs reaches the container engine
type Engine struct {
	// Host of the engine API; empty falls back to DOCKER_HOST
	Host string `yaml:"host"`

	// Memory limit for task containers, e.g. "512m"
	Memory string `yaml:"memory"`

	// ForceRemove kills containers that are still running on delete
	ForceRemove bool `yaml:"forceRemove"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Listen:                DefaultListen,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		LogLevel:              DefaultLogLevel,
	}
}

// Level parses LogLevel
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Parse reads a YAML configuration, filling unset fields with defaults
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.MaxConcurrentRequests < 1 {
		return nil, fmt.Errorf("maxConcurrentRequests must be positive, got %d", cfg.MaxConcurrentRequests)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads the configuration file at path. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
