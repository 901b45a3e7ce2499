package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/kstartup/pkg/constants"
	"github.com/agentstation/kstartup/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KSTARTUP"

// Load reads configuration in order of precedence:
//  1. Environment variables (KSTARTUP_STORE_DSN, ...)
//  2. .env and .env.local in the working directory
//  3. Config file (configFile, or ~/.kstartup.yaml, or ./.kstartup.yaml)
//  4. Defaults
//
// Command-line flags are applied afterwards with UpdateFromFlags.
func Load(configFile string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".kstartup")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicit file must exist; the search locations are optional
		if configFile != "" || !stderrors.As(err, &notFound) {
			return nil, errors.NewConfigError("config", "reading "+configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigError("config", "decoding", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	if cfg.Store.Driver == DriverSQLite && cfg.Store.DSN != "" && cfg.Store.DSN != ":memory:" {
		cfg.Store.DSN = expandHome(cfg.Store.DSN)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "")
	v.SetDefault("log_format", "auto")
	v.SetDefault("log_output", "stderr")
	v.SetDefault("format", "")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 8)

	v.SetDefault("ingest.workers", constants.DefaultWorkers)
	v.SetDefault("ingest.batch_size", constants.DefaultBatchSize)
	v.SetDefault("ingest.batch_retries", constants.DefaultBatchRetries)
	v.SetDefault("ingest.run_budget", constants.DefaultRunBudget)

	v.SetDefault("fetch.max_retries", constants.MaxRetries)
	v.SetDefault("fetch.backoff", constants.RetryBackoff)
	v.SetDefault("fetch.rate_limit", float64(constants.DefaultRateLimit))
	v.SetDefault("fetch.burst", constants.BurstSize)
	v.SetDefault("fetch.timeout", constants.DefaultHTTPTimeout)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.prefix", "/api/v1")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.metrics", true)

	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.interval", constants.DefaultIngestInterval)
	v.SetDefault("schedule.sources", []string{})

	v.SetDefault("tables.mappings", "")
	v.SetDefault("tables.taxonomy", "")
}

// loadEnvFiles loads .env files; .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		// godotenv.Load never overrides variables already set, so the
		// more specific file goes first.
		_ = godotenv.Load(envFile)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
