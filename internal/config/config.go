// Package config loads and validates run configuration. All conflict
// detection happens here at startup; the evolutionary loop never sees an
// invalid configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"strategos/internal/backtest"
	"strategos/internal/evo"
	"strategos/internal/llm"
	"strategos/internal/sandbox"
)

// Config is the full runtime configuration.
type Config struct {
	Run      evo.Config      `yaml:"run"`
	Backtest backtest.Config `yaml:"backtest"`
	Data     DataConfig      `yaml:"data"`
	Storage  StorageConfig   `yaml:"storage"`
	LLM      *llm.Config     `yaml:"llm,omitempty"`
	Sandbox  sandbox.Limits  `yaml:"sandbox"`
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// DataConfig selects the market data source.
type DataConfig struct {
	// Source is "synthetic" or "csv".
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Rows   int    `yaml:"rows"`
	Seed   int64  `yaml:"seed"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// ServerConfig tunes the dashboard.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig tunes structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns a runnable configuration against synthetic data with the
// in-memory store.
func Default() Config {
	return Config{
		Run:      evo.DefaultConfig(),
		Backtest: backtest.DefaultConfig(),
		Data:     DataConfig{Source: "synthetic", Rows: 1000, Seed: 42},
		Storage:  StorageConfig{Backend: "memory"},
		Sandbox:  sandbox.DefaultLimits(),
		Server:   ServerConfig{Addr: ":8080"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and reports the first conflict.
func (c Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return err
	}
	switch c.Data.Source {
	case "synthetic":
		if c.Data.Rows < 2 {
			return &evo.ConfigurationConflictError{Detail: fmt.Sprintf("data.rows must be >= 2 for synthetic data, got %d", c.Data.Rows)}
		}
	case "csv":
		if c.Data.Path == "" {
			return &evo.ConfigurationConflictError{Detail: "data.source is csv but data.path is empty"}
		}
	default:
		return &evo.ConfigurationConflictError{Detail: fmt.Sprintf("data.source must be synthetic or csv, got %q", c.Data.Source)}
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return &evo.ConfigurationConflictError{Detail: "storage.backend is sqlite but storage.sqlite_path is empty"}
		}
	default:
		return &evo.ConfigurationConflictError{Detail: fmt.Sprintf("storage.backend must be memory or sqlite, got %q", c.Storage.Backend)}
	}
	if c.LLM != nil {
		if c.LLM.APIKey == "" {
			return &evo.ConfigurationConflictError{Detail: "llm section present but llm.api_key is empty"}
		}
		if c.LLM.Model == "" {
			return &evo.ConfigurationConflictError{Detail: "llm section present but llm.model is empty"}
		}
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return &evo.ConfigurationConflictError{Detail: err.Error()}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return &evo.ConfigurationConflictError{Detail: fmt.Sprintf("logging.format must be text or json, got %q", c.Logging.Format)}
	}
	return nil
}

// Logger builds the configured slog logger.
func (c Config) Logger() *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", level)
	}
}
