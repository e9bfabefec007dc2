// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Upload   UploadConfig   `yaml:"upload"`
	Auth     AuthConfig     `yaml:"auth"`
	Poller   PollerConfig   `yaml:"poller"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	BindAddress    string        `yaml:"bind_address"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowOrigins   []string      `yaml:"allow_origins"`
	BodyLimit      string        `yaml:"body_limit"` // empty derives it from upload.max_bytes
	RequestLogging bool          `yaml:"request_logging"`
	Gzip           bool          `yaml:"gzip"`
	StaticDir      string        `yaml:"static_dir"` // prebuilt frontend, optional

	ShowErrorDetails bool `yaml:"show_error_details"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string        `yaml:"data_dir"`
	UploadsDirectory string        `yaml:"uploads_dir"`
	TempMaxAge       time.Duration `yaml:"temp_max_age"`
	JanitorSchedule  string        `yaml:"janitor_schedule"`
}

// DatabaseConfig holds record store settings.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // memory, duckdb or postgres
	URL            string        `yaml:"url"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
	MaxIdleConns   int           `yaml:"max_idle_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	BackoffMin     time.Duration `yaml:"backoff_min"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	Timeouts       TimeoutConfig `yaml:"timeouts"`

	DuckDBThreads     int    `yaml:"duckdb_threads"`
	DuckDBMemoryLimit string `yaml:"duckdb_memory_limit"`
}

// TimeoutConfig bounds each store operation.
type TimeoutConfig struct {
	Create   time.Duration `yaml:"create"`
	Status   time.Duration `yaml:"status"`
	List     time.Duration `yaml:"list"`
	Data     time.Duration `yaml:"data"`
	Finalize time.Duration `yaml:"finalize"`
	Delete   time.Duration `yaml:"delete"`
	User     time.Duration `yaml:"user"`
}

// UploadConfig contains upload pipeline settings
type UploadConfig struct {
	MaxBytes     int64    `yaml:"max_bytes"`
	FieldName    string   `yaml:"field_name"`
	AllowedTypes []string `yaml:"allowed_types"`
	Workers      int      `yaml:"workers"`
	QueueDepth   int      `yaml:"queue_depth"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// PollerConfig holds the status poller settings used by the CLI.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:    "0.0.0.0",
			Port:           5000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			AllowOrigins:   []string{"*"},
			RequestLogging: true,
			Gzip:           true,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			UploadsDirectory: "./data/uploads/excel",
			TempMaxAge:       time.Hour,
			JanitorSchedule:  "@every 10m",
		},
		Database: DatabaseConfig{
			Driver:         "duckdb",
			URL:            "./data/sheetviz.duckdb",
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			ConnectTimeout: 10 * time.Second,
			HealthInterval: 10 * time.Second,
			BackoffMin:     500 * time.Millisecond,
			BackoffMax:     30 * time.Second,
			Timeouts: TimeoutConfig{
				Create:   10 * time.Second,
				Status:   5 * time.Second,
				List:     8 * time.Second,
				Data:     10 * time.Second,
				Finalize: 15 * time.Second,
				Delete:   5 * time.Second,
				User:     3 * time.Second,
			},
			DuckDBThreads:     4,
			DuckDBMemoryLimit: "1GB",
		},
		Upload: UploadConfig{
			MaxBytes:  10 << 20,
			FieldName: "excelFile",
			AllowedTypes: []string{
				"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				"application/vnd.ms-excel",
			},
			Workers:    4,
			QueueDepth: 32,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Poller: PollerConfig{
			Interval:    time.Second,
			MaxAttempts: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env (if present), then the YAML file at path. A missing file
// is created with the defaults. Environment variables override both.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		slog.Info("wrote default config", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# sheetviz configuration\n# This file is auto-generated on first run\n\n")
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(header, out...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *Config) applyEnvironmentOverrides() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Port = p
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads", "excel")
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
		if os.Getenv("DATABASE_DRIVER") == "" && isPostgresURL(url) {
			c.Database.Driver = "postgres"
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if mb := os.Getenv("MAX_UPLOAD_MB"); mb != "" {
		n, err := strconv.ParseInt(mb, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_MB %q: %w", mb, err)
		}
		c.Upload.MaxBytes = n << 20
	}
	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *Config) resolvePaths(configDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Storage.DataDirectory = abs(c.Storage.DataDirectory)
	c.Storage.UploadsDirectory = abs(c.Storage.UploadsDirectory)
	c.Server.StaticDir = abs(c.Server.StaticDir)
	if c.Database.Driver == "duckdb" {
		c.Database.URL = abs(c.Database.URL)
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "duckdb":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Upload.Workers <= 0 {
		errs = append(errs, errors.New("upload.workers must be positive"))
	}
	if c.Upload.QueueDepth < 0 {
		errs = append(errs, errors.New("upload.queue_depth must not be negative"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	if c.Server.BodyLimit != "" {
		limit, err := bytes.Parse(c.Server.BodyLimit)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("server.body_limit %q: %w", c.Server.BodyLimit, err))
		case limit < c.Upload.MaxBytes:
			errs = append(errs, fmt.Errorf("server.body_limit %s is below upload.max_bytes %d", c.Server.BodyLimit, c.Upload.MaxBytes))
		}
	}
	if c.Poller.MaxAttempts <= 0 || c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval and poller.max_attempts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireSecret reports an error when no JWT secret is configured.
func (c *Config) RequireSecret() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) is required")
	}
	return nil
}

// multipartOverhead is the allowance for multipart boundaries and form
// fields on top of the file itself.
const multipartOverhead = 64 << 10

// RequestBodyLimit returns the echo body limit. Without an explicit
// server.body_limit it is upload.max_bytes plus multipartOverhead.
func (c *Config) RequestBodyLimit() string {
	if c.Server.BodyLimit != "" {
		return c.Server.BodyLimit
	}
	return fmt.Sprintf("%dKiB", (c.Upload.MaxBytes+multipartOverhead+1023)>>10)
}

// GetServerAddr returns the server bind address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
	}
	if c.Database.Driver == "duckdb" {
		dirs = append(dirs, filepath.Dir(c.Database.URL))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SlogLevel maps Log.Level onto a slog level. Unknown names mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
