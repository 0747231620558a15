package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configEnvKeys lists every variable Load reads, so tests start from a clean slate.
var configEnvKeys = []string{
	"ENV", "LOG_LEVEL", "CONFIG_FILE",
	"SERVER_PORT", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT", "SERVER_IDLE_TIMEOUT", "SERVER_CORS_ORIGINS",
	"DATABASE_PATH",
	"CACHE_TTL_HOURS", "CACHE_MAX_SIZE", "CACHE_SEARCH_SIMILARITY", "CACHE_MAINTENANCE_INTERVAL", "CACHE_MAINTENANCE_ENABLED",
	"CATALOG_BASE_URL", "CATALOG_REGION", "CATALOG_COMMUNE", "CATALOG_TIMEOUT", "CATALOG_ATTEMPTS",
	"CATALOG_RETRY_DELAY", "CATALOG_RPS", "CATALOG_BURST", "CATALOG_USER_AGENT",
	"SEARCH_RATE_LIMIT_RPS", "SEARCH_RATE_LIMIT_BURST",
	"ADMIN_TOKEN",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

// baseArgs points Load at a temp database and a missing .env file.
func baseArgs(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	return []string{
		"-db", filepath.Join(dir, "cache.db"),
		"-env-file", filepath.Join(dir, "missing.env"),
	}
}

func validConfig() *Config {
	return &Config{
		App:      AppConfig{Environment: "development"},
		Logger:   LoggerConfig{Level: "info"},
		Database: DatabaseConfig{Path: "/tmp/cache.db"},
		Cache: CacheConfig{
			TTLHours:            24,
			MaxSize:             10000,
			SearchSimilarity:    0.8,
			MaintenanceInterval: time.Hour,
			MaintenanceEnabled:  true,
		},
		Catalog: CatalogConfig{
			BaseURL:           "http://catalog.example",
			Timeout:           10 * time.Second,
			Attempts:          3,
			RetryDelay:        2 * time.Second,
			RequestsPerSecond: 1,
			Burst:             3,
		},
		Search: SearchConfig{RateLimitRPS: 5, RateLimitBurst: 10},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"environment", func(c *Config) { c.App.Environment = "test" }, "invalid environment"},
		{"log level", func(c *Config) { c.Logger.Level = "trace" }, "invalid log level"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"zero ttl", func(c *Config) { c.Cache.TTLHours = 0 }, "CACHE_TTL_HOURS"},
		{"zero max size", func(c *Config) { c.Cache.MaxSize = 0 }, "CACHE_MAX_SIZE"},
		{"similarity above one", func(c *Config) { c.Cache.SearchSimilarity = 1.5 }, "CACHE_SEARCH_SIMILARITY"},
		{"similarity zero", func(c *Config) { c.Cache.SearchSimilarity = 0 }, "CACHE_SEARCH_SIMILARITY"},
		{"maintenance interval", func(c *Config) { c.Cache.MaintenanceInterval = 0 }, "CACHE_MAINTENANCE_INTERVAL"},
		{"catalog url", func(c *Config) { c.Catalog.BaseURL = "not a url" }, "CATALOG_BASE_URL"},
		{"attempts", func(c *Config) { c.Catalog.Attempts = 0 }, "CATALOG_ATTEMPTS"},
		{"catalog timeout", func(c *Config) { c.Catalog.Timeout = 0 }, "CATALOG_TIMEOUT"},
		{"negative retry delay", func(c *Config) { c.Catalog.RetryDelay = -time.Second }, "CATALOG_RETRY_DELAY"},
		{"catalog rps", func(c *Config) { c.Catalog.RequestsPerSecond = 0 }, "CATALOG_RPS"},
		{"search burst", func(c *Config) { c.Search.RateLimitBurst = 0 }, "SEARCH_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidate_MaintenanceDisabledIgnoresInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.MaintenanceEnabled = false
	cfg.Cache.MaintenanceInterval = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(baseArgs(t))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 24, cfg.Cache.TTLHours)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
	assert.InDelta(t, 0.8, cfg.Cache.SearchSimilarity, 1e-9)
	assert.Equal(t, time.Hour, cfg.Cache.MaintenanceInterval)
	assert.True(t, cfg.Cache.MaintenanceEnabled)
	assert.Equal(t, "13", cfg.Catalog.Region)
	assert.Equal(t, "13101", cfg.Catalog.Commune)
	assert.Equal(t, 3, cfg.Catalog.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Catalog.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Catalog.Timeout)
	assert.Empty(t, cfg.Admin.Token)
}

func TestLoad_DefaultDatabasePath(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load([]string{"-env-file", filepath.Join(home, "missing.env")})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "BiblioRed", "cache.db"), cfg.Database.Path)
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "bibliored.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
server:
  port: "7000"
  cors_origins: [https://a.example, https://b.example]
cache:
  ttl_hours: 12
  max_size: 500
catalog:
  region: "5"
`), 0o600))

	t.Setenv("CACHE_TTL_HOURS", "6")
	t.Setenv("SERVER_PORT", "7500")

	args := append(baseArgs(t), "-config", yamlPath, "-port", "9000")
	cfg, err := Load(args)
	require.NoError(t, err)

	// Flag beats env and file.
	assert.Equal(t, "9000", cfg.Server.Port)
	// Env beats file.
	assert.Equal(t, 6, cfg.Cache.TTLHours)
	// File beats default.
	assert.Equal(t, 500, cfg.Cache.MaxSize)
	assert.Equal(t, "5", cfg.Catalog.Region)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Default when nobody sets it.
	assert.Equal(t, "13101", cfg.Catalog.Commune)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ADMIN_TOKEN=from-dotenv\nCATALOG_ATTEMPTS=5\n"), 0o600))

	cfg, err := Load([]string{"-db", filepath.Join(dir, "cache.db"), "-env-file", envPath})
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Admin.Token)
	assert.Equal(t, 5, cfg.Catalog.Attempts)
}

func TestLoad_EnvFileDoesNotOverrideEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ADMIN_TOKEN=from-dotenv\n"), 0o600))
	t.Setenv("ADMIN_TOKEN", "from-env")

	cfg, err := Load([]string{"-db", filepath.Join(dir, "cache.db"), "-env-file", envPath})
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Admin.Token)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(baseArgs(t))
	require.NoError(t, err)
	assert.Empty(t, cfg.Admin.Token)
}

func TestLoad_MalformedEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ADMIN_TOKEN=\"never closed\n"), 0o600))

	_, err := Load([]string{"-db", filepath.Join(dir, "cache.db"), "-env-file", envPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}

func TestLoad_UnreadableEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load([]string{"-db", filepath.Join(dir, "cache.db"), "-env-file", dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		errMsg string
	}{
		{"bad duration", "CATALOG_TIMEOUT", "ten seconds", "CATALOG_TIMEOUT"},
		{"bad int", "CACHE_MAX_SIZE", "lots", "CACHE_MAX_SIZE"},
		{"bad float", "CACHE_SEARCH_SIMILARITY", "high", "CACHE_SEARCH_SIMILARITY"},
		{"bad environment", "ENV", "qa", "invalid environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load(baseArgs(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(append(baseArgs(t), "-config", filepath.Join(t.TempDir(), "nope.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")
}

func TestCatalogBaseURL_TrailingSlashTrimmed(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_BASE_URL", "http://catalog.example/")

	cfg, err := Load(baseArgs(t))
	require.NoError(t, err)
	assert.Equal(t, "http://catalog.example", cfg.Catalog.BaseURL)
}

func TestGetConfigValue_Precedence(t *testing.T) {
	t.Setenv("TEST_CONFIG_KEY", "from-env")

	assert.Equal(t, "from-flag", getConfigValue("from-flag", "TEST_CONFIG_KEY", "default"))
	assert.Equal(t, "from-env", getConfigValue("", "TEST_CONFIG_KEY", "default"))
	assert.Equal(t, "default", getConfigValue("", "TEST_CONFIG_KEY_UNSET", "default"))
}

func TestSourceBool(t *testing.T) {
	src := source{file: map[string]string{"FILE_FLAG": "yes"}}

	assert.True(t, src.bool("", "FILE_FLAG", false))
	assert.False(t, src.bool("false", "FILE_FLAG", true))
	assert.True(t, src.bool("", "UNSET_FLAG", true))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/BiblioRed/cache.db", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "BiblioRed", "cache.db"), got)

	got, err = expandPath("", "/default/cache.db")
	require.NoError(t, err)
	assert.Equal(t, "/default/cache.db", got)

	got, err = expandPath("relative/cache.db", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))

	got, err = expandPath("/var/lib/../lib/bibliored/cache.db", "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bibliored/cache.db", got)
}

func TestFlatten(t *testing.T) {
	out := map[string]string{}
	flatten("", map[string]any{
		"admin": map[string]any{"token": "s3cret"},
		"cache": map[string]any{"maintenance_enabled": false, "ttl_hours": 48},
		"env":   "staging",
		"skip":  nil,
	}, out)

	assert.Equal(t, map[string]string{
		"ADMIN_TOKEN":               "s3cret",
		"CACHE_MAINTENANCE_ENABLED": "false",
		"CACHE_TTL_HOURS":           "48",
		"ENV":                       "staging",
	}, out)
}
