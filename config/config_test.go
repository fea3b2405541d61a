package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9000"
shutdown_timeout: 3s
database:
  driver: postgres
  dsn: postgres://library@localhost/library?sslmode=disable
log:
  level: debug
  format: json
metrics:
  enabled: false
`), 0o644))

	t.Setenv("LIBRARY_ADDR", ":9100")
	t.Setenv("LIBRARY_ADMIN_USERNAME", "admin")
	t.Setenv("LIBRARY_ADMIN_PASSWORD", "pw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, Admin{Username: "admin", Password: "pw"}, cfg.Admin)

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LIBRARY_DATABASE_DSN":     "/tmp/x.db",
		"LIBRARY_METRICS_ENABLED":  "false",
		"LIBRARY_SHUTDOWN_TIMEOUT": "1m",
		"LIBRARY_LOG_FORMAT":       "json",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSN)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
	assert.Equal(t, "json", cfg.Log.Format)

	env["LIBRARY_METRICS_ENABLED"] = "maybe"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":  func(c *Config) { c.Database.Driver = "mysql" },
		"dsn":     func(c *Config) { c.Database.DSN = " " },
		"level":   func(c *Config) { c.Log.Level = "loud" },
		"format":  func(c *Config) { c.Log.Format = "xml" },
		"timeout": func(c *Config) { c.ShutdownTimeout = -time.Second },
		"admin":   func(c *Config) { c.Admin.Username = "admin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
