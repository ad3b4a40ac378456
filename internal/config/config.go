package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soochol/promptflow/internal/engine"
	"github.com/soochol/promptflow/internal/model"
	"github.com/soochol/promptflow/internal/resilience"
	"github.com/soochol/promptflow/internal/services"
)

// Environment variables that override the YAML file.
const (
	EnvAPIKey      = "GEMINI_API_KEY"
	EnvDatabaseURL = "PROMPTFLOW_DATABASE_URL"
	EnvRedisURL    = "PROMPTFLOW_REDIS_URL"
)

// ErrMissingAPIKey is returned by RequireAPIKey.
var ErrMissingAPIKey = model.ErrMissingAPIKey

// Config holds the top-level application configuration.
type Config struct {
	Server     ServerConfig       `yaml:"server"`
	Database   DatabaseConfig     `yaml:"database"`
	Gemini     GeminiConfig       `yaml:"gemini"`
	Resilience resilience.Config  `yaml:"resilience"`
	Cache      CacheConfig        `yaml:"cache"`
	Engine     engine.Options     `yaml:"engine"`
	Runs       services.RunLimits `yaml:"runs"`
	Log        LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Metrics     bool     `yaml:"metrics"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// GeminiConfig holds the model endpoint settings.
type GeminiConfig struct {
	APIKey   string       `yaml:"api_key"`
	Defaults model.Params `yaml:"defaults"`
}

// CacheConfig selects the response cache. RedisURL empty means an
// in-process cache; Disabled turns caching off entirely.
type CacheConfig struct {
	Disabled  bool          `yaml:"disabled"`
	TTL       time.Duration `yaml:"ttl"`
	RedisURL  string        `yaml:"redis_url"`
	Namespace string        `yaml:"namespace"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel parses Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
			Metrics:     true,
		},
		Gemini:     GeminiConfig{Defaults: model.DefaultParams()},
		Resilience: resilience.DefaultConfig(),
		Cache: CacheConfig{
			TTL:       time.Hour,
			Namespace: "promptflow",
		},
		Engine: engine.Options{StepBudgetFactor: engine.DefaultStepBudgetFactor},
		Runs:   services.DefaultRunLimits(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Default returns the configuration used when no file is present,
// with environment overrides applied.
func Default() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML configuration file at path and returns a Config.
// Environment overrides are applied after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadDefault loads ".env" when present, then tries "config.yaml" from the
// current directory. If the file does not exist, it returns defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile exports the variables in a dotenv file without overriding
// ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Cache.RedisURL = v
	}
}

// RequireAPIKey fails when no Gemini API key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}
