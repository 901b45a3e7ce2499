package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
)

// inTempDir isolates .env lookups and the ./.kstartup.yaml search path.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, constants.DefaultWorkers, cfg.Ingest.Workers)
	assert.Equal(t, constants.DefaultRunBudget, cfg.Ingest.RunBudget)
	assert.Equal(t, "/api/v1", cfg.Server.Prefix)
	assert.Len(t, cfg.Sources, len(records.Kinds()))
	assert.Equal(t, constants.DefaultAPIKeyEnv, cfg.Sources[0].APIKeyEnv)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "kstartup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: sqlite
  dsn: ./kstartup.db
ingest:
  workers: 2
  run_budget: 90s
schedule:
  enabled: true
  interval: 1h
  sources: [announcements]
sources:
  - id: announcements
    kind: announcement
    per_page: 50
    api_key_env: MY_KEY
`), 0o644))

	t.Setenv("KSTARTUP_INGEST_WORKERS", "6")
	t.Setenv("KSTARTUP_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 6, cfg.Ingest.Workers, "environment beats file")
	assert.Equal(t, 90*time.Second, cfg.Ingest.RunBudget)
	assert.Equal(t, 9090, cfg.Server.Port)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, records.KindAnnouncement, cfg.Sources[0].Kind)
	assert.Equal(t, 50, cfg.Sources[0].PerPage)
	assert.Equal(t, []string{"announcements"}, cfg.ScheduledSources())
	require.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KSTARTUP_STORE_DRIVER=postgres\nKSTARTUP_STORE_DSN=postgres://localhost/k\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("KSTARTUP_STORE_DRIVER")
		os.Unsetenv("KSTARTUP_STORE_DSN")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/k", cfg.Store.DSN)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	inTempDir(t)
	_, err := Load("does-not-exist.yaml")
	var cerr *errors.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store:   StoreConfig{Driver: DriverMemory},
			Sources: DefaultSources(),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, false},
		{"schedule without interval", func(c *Config) { c.Schedule.Enabled = true }, false},
		{"schedule unknown source", func(c *Config) { c.Schedule.Sources = []string{"press"} }, false},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestUpdateFromFlags(t *testing.T) {
	cfg := &Config{Format: "json", LogLevel: "info"}
	cfg.UpdateFromFlags(true, false, true, "", "debug")
	assert.True(t, cfg.Verbose)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "debug", cfg.LogLevel)
}
