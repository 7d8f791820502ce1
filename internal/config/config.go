package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration shared by every command
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Server   ServerConfig
	Paths    PathsConfig
}

// DatabaseConfig locates the observation store
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level string
}

// ServerConfig controls the catalog HTTP server
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PathsConfig holds the on-disk layout of pipeline outputs
type PathsConfig struct {
	CleanDir      string
	FeaturesDir   string
	ReportsDir    string
	MigrationsDir string
}

// LoadConfig reads configuration from the environment, loading .env first
// when present
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	var errs []error
	cfg := &Config{
		Database: DatabaseConfig{
			Host:            envString("DB_HOST", "localhost"),
			Port:            envInt("DB_PORT", 5432, &errs),
			User:            envString("DB_USER", "bloomrisk"),
			Password:        envString("DB_PASSWORD", ""),
			Database:        envString("DB_NAME", "bloomrisk"),
			SSLMode:         envString("DB_SSLMODE", "disable"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10, &errs),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5, &errs),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute, &errs),
			ConnMaxIdleTime: envDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, &errs),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(envString("LOG_LEVEL", "info")),
		},
		Server: ServerConfig{
			Host:         envString("SERVER_HOST", "0.0.0.0"),
			Port:         envInt("SERVER_PORT", 8080, &errs),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 15*time.Second, &errs),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 15*time.Second, &errs),
			IdleTimeout:  envDuration("SERVER_IDLE_TIMEOUT", 60*time.Second, &errs),
		},
		Paths: PathsConfig{
			CleanDir:      envString("CLEAN_DIR", "data/clean"),
			FeaturesDir:   envString("FEATURES_DIR", "data/features"),
			ReportsDir:    envString("REPORTS_DIR", "reports"),
			MigrationsDir: envString("MIGRATIONS_DIR", "migrations"),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail later
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT out of range: %d", c.Database.Port))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive"))
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("DB_MAX_IDLE_CONNS exceeds DB_MAX_OPEN_CONNS"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	if c.Paths.FeaturesDir == "" {
		errs = append(errs, fmt.Errorf("FEATURES_DIR is required"))
	}
	return errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

// LoadYAML overlays the YAML file at path onto defaults. An empty path
// returns defaults unchanged. Unknown keys are rejected.
func LoadYAML[T any](path string, defaults T) (T, error) {
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return defaults, fmt.Errorf("read config %s: %w", path, err)
	}

	out := defaults
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return defaults, fmt.Errorf("decode config %s: %w", path, err)
	}
	return out, nil
}
