// Package config loads the server settings: built-in defaults, then an
// optional YAML file, then a .env file, then LIBRARY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the server and the CLI.
type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Database        Database      `yaml:"database"`
	Log             Log           `yaml:"log"`
	Admin           Admin         `yaml:"admin"`
	Metrics         Metrics       `yaml:"metrics"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Admin is an optional superuser created or reset when the server starts.
type Admin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Metrics struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Addr:            ":8000",
		ShutdownTimeout: 10 * time.Second,
		Database:        Database{Driver: "sqlite3", DSN: "library.db"},
		Log:             Log{Level: "info", Format: "text"},
		Metrics:         Metrics{Enabled: true},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("LIBRARY_ADDR", &c.Addr)
	str("LIBRARY_DATABASE_DRIVER", &c.Database.Driver)
	str("LIBRARY_DATABASE_DSN", &c.Database.DSN)
	str("LIBRARY_LOG_LEVEL", &c.Log.Level)
	str("LIBRARY_LOG_FORMAT", &c.Log.Format)
	str("LIBRARY_ADMIN_USERNAME", &c.Admin.Username)
	str("LIBRARY_ADMIN_PASSWORD", &c.Admin.Password)

	if v, ok := lookup("LIBRARY_METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = b
	}
	if v, ok := lookup("LIBRARY_SHUTDOWN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn: must not be empty")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unsupported format %q", c.Log.Format)
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout: must not be negative")
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		return errors.New("admin: username and password must be set together")
	}
	return nil
}

// NewLogger builds the logger described by c.Log. Validate has already
// checked the level.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
