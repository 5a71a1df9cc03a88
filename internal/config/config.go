// Package config loads the interviewer configuration from an optional YAML
// file and the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultPath is read when Load is given no path.
const DefaultPath = "config.yaml"

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: INTERVIEW_MODEL__NAME sets model.name.
const EnvPrefix = "INTERVIEW_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Model     ModelConfig     `koanf:"model"`
	Storage   StorageConfig   `koanf:"storage"`
	Interview InterviewConfig `koanf:"interview"`
	Archive   ArchiveConfig   `koanf:"archive"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeout applies to every route except the chat streams.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ChatTimeout     time.Duration `koanf:"chat_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins is a comma-separated CORS origin list; empty disables
	// CORS.
	AllowedOrigins string `koanf:"allowed_origins"`
}

type ModelConfig struct {
	Provider    string  `koanf:"provider"` // anthropic, gemini, openai
	Name        string  `koanf:"name"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	MaxRounds   int     `koanf:"max_rounds"`
	MaxRetries  int     `koanf:"max_retries"`
}

type StorageConfig struct {
	Driver  string `koanf:"driver"` // sqlite, postgres, memory
	DSN     string `koanf:"dsn"`
	DataDir string `koanf:"data_dir"`
	// CacheSize is the number of checkpoints kept in the read cache; 0
	// disables it.
	CacheSize int `koanf:"cache_size"`
}

type InterviewConfig struct {
	SlidesURL string `koanf:"slides_url"`
}

// ArchiveConfig configures the optional S3-compatible results archive.
type ArchiveConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type LoggingConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

var defaults = map[string]any{
	"server.port":             3001,
	"server.request_timeout":  "30s",
	"server.chat_timeout":     "5m",
	"server.shutdown_timeout": "15s",
	"server.allowed_origins":  "*",
	"model.provider":          "anthropic",
	"model.name":              "claude-haiku-4-5",
	"model.temperature":       0.3,
	"model.max_tokens":        1024,
	"model.max_rounds":        8,
	"model.max_retries":       2,
	"storage.driver":          "sqlite",
	"storage.data_dir":        "./data",
	"storage.cache_size":      256,
	"interview.slides_url":    "https://workshop.example.com/slides",
	"archive.prefix":          "results",
	"logging.level":           "info",
	"telemetry.enabled":       true,
	"telemetry.service_name":  "deep-interviewer",
}

// legacyEnv maps the environment names of earlier deployments to config
// keys. They apply only when neither the file nor an INTERVIEW_ variable
// sets the key.
var legacyEnv = map[string]string{
	"MODEL_PROVIDER":    "model.provider",
	"MODEL_NAME":        "model.name",
	"MODEL_TEMPERATURE": "model.temperature",
	"DATA_DIR":          "storage.data_dir",
	"PORT":              "server.port",
}

// apiKeyEnv holds the legacy key variable of each provider.
var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (DefaultPath when empty), then the environment. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" && !k.Exists(key) {
			if err := k.Set(key, v); err != nil {
				return nil, err
			}
		}
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, v); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve substitutes ${VAR} references and fills derived values.
func (c *Config) resolve() {
	for _, s := range []*string{
		&c.Model.APIKey,
		&c.Model.BaseURL,
		&c.Storage.DSN,
		&c.Storage.DataDir,
		&c.Archive.Endpoint,
		&c.Archive.AccessKey,
		&c.Archive.SecretKey,
		&c.Archive.Bucket,
	} {
		*s = substituteEnvVars(*s)
	}

	c.Model.Provider = strings.ToLower(strings.TrimSpace(c.Model.Provider))
	if c.Model.APIKey == "" {
		if name, ok := apiKeyEnv[c.Model.Provider]; ok {
			c.Model.APIKey = os.Getenv(name)
		}
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = c.SQLitePath()
	}
}

// SQLitePath is the default database location under the data directory.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataDir, "interviews.db")
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of sqlite, postgres, memory", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for postgres")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature %.2f out of range [0, 2]", c.Model.Temperature)
	}
	if c.Storage.CacheSize < 0 {
		return fmt.Errorf("storage.cache_size must not be negative")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when the archive is enabled")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// LogLevel parses logging.level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
