// ABOUTME: Configuration loaded from a YAML file with SIFT_* environment overrides.
// ABOUTME: Enforces security constraint: non-loopback binds require explicit remote opt-in.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Validation errors.
var (
	ErrMissingAPIKey = errors.New(
		"OPENAI_API_KEY is not set; the model-backed agents cannot run without it",
	)
	ErrMissingDatabase = errors.New(
		"no database configured; set database.name and database.user in the config file or SIFT_DB_NAME / SIFT_DB_USER",
	)
	ErrNonLoopbackBind = errors.New(
		"server.bind is a non-loopback address but server.allow_remote is not true",
	)
)

// DatabaseConfig locates the Postgres database that questions run against.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
}

// ModelConfig selects the completion model. The API key is never read from
// YAML; it comes from OPENAI_API_KEY only.
type ModelConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`

	APIKey string `yaml:"-"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Bind        string `yaml:"bind"`
	AllowRemote bool   `yaml:"allow_remote"`
}

// LimitsConfig mirrors the run loop's resource guards.
type LimitsConfig struct {
	MaxIterations      int `yaml:"max_iterations"`
	MaxDurationSeconds int `yaml:"max_duration_seconds"`
	MaxQueries         int `yaml:"max_queries"`
	MaxRefinements     int `yaml:"max_refinements"`
	MaxClarifications  int `yaml:"max_clarifications"`
}

// MaxDuration returns the wall-clock guard as a duration.
func (l LimitsConfig) MaxDuration() time.Duration {
	return time.Duration(l.MaxDurationSeconds) * time.Second
}

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Model    ModelConfig    `yaml:"model"`
	Server   ServerConfig   `yaml:"server"`
	Limits   LimitsConfig   `yaml:"limits"`

	// RunLogPath is the SQLite file for run history and semantics.
	RunLogPath string `yaml:"runlog"`

	// RowLimit caps result sets when generated SQL carries no LIMIT.
	RowLimit int `yaml:"row_limit"`
}

// Load reads configuration from an optional YAML file, applies SIFT_*
// environment overrides, fills defaults, and validates. An empty path skips
// the file and uses environment plus defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Database.Host, "SIFT_DB_HOST")
	overrideString(&cfg.Database.Port, "SIFT_DB_PORT")
	overrideString(&cfg.Database.Name, "SIFT_DB_NAME")
	overrideString(&cfg.Database.User, "SIFT_DB_USER")
	overrideString(&cfg.Database.Password, "SIFT_DB_PASSWORD")
	overrideString(&cfg.Database.Schema, "SIFT_DB_SCHEMA")
	overrideString(&cfg.Model.Name, "SIFT_MODEL")
	overrideString(&cfg.Model.BaseURL, "SIFT_BASE_URL")
	overrideString(&cfg.RunLogPath, "SIFT_RUNLOG")
	overrideString(&cfg.Server.Bind, "SIFT_BIND")

	if v := os.Getenv("SIFT_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		cfg.Server.AllowRemote = true
	}

	cfg.Model.APIKey = os.Getenv("OPENAI_API_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.Schema == "" {
		cfg.Database.Schema = "public"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o"
	}
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "127.0.0.1:8640"
	}
	if cfg.RunLogPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/tmp"
		}
		cfg.RunLogPath = filepath.Join(home, ".sift", "runs.db")
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 200
	}

	if cfg.Limits.MaxIterations <= 0 {
		cfg.Limits.MaxIterations = 50
	}
	if cfg.Limits.MaxDurationSeconds <= 0 {
		cfg.Limits.MaxDurationSeconds = 60
	}
	if cfg.Limits.MaxQueries <= 0 {
		cfg.Limits.MaxQueries = 20
	}
	if cfg.Limits.MaxRefinements <= 0 {
		cfg.Limits.MaxRefinements = 3
	}
	if cfg.Limits.MaxClarifications <= 0 {
		cfg.Limits.MaxClarifications = 3
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Name == "" || cfg.Database.User == "" {
		return ErrMissingDatabase
	}
	if cfg.Model.APIKey == "" {
		return ErrMissingAPIKey
	}

	// Only 127.0.0.0/8, ::1, and "localhost" are loopback-safe.
	if !cfg.Server.AllowRemote {
		if host, _, err := net.SplitHostPort(cfg.Server.Bind); err == nil && host != "" {
			ip := net.ParseIP(host)
			switch {
			case ip != nil && ip.IsLoopback():
			case host == "localhost":
			default:
				return fmt.Errorf("%w: bind=%s", ErrNonLoopbackBind, cfg.Server.Bind)
			}
		}
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
