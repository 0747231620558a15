// Package config provides application configuration management with support for
// command-line flags, environment variables, .env files, and an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Catalog  CatalogConfig
	Search   SearchConfig
	Admin    AdminConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // default: 8080
	ReadTimeout  time.Duration // default: 15s
	WriteTimeout time.Duration // default: 60s, must outlast a fully retried catalog fetch
	IdleTimeout  time.Duration // default: 60s
	CORSOrigins  []string      // default: *
}

// DatabaseConfig holds the cache database location.
type DatabaseConfig struct {
	Path string // default: ~/BiblioRed/cache.db
}

// CacheConfig is fixed for the lifetime of the process.
type CacheConfig struct {
	// TTLHours is how long a cached book stays valid after insertion (default: 24).
	TTLHours int
	// MaxSize is an advisory upper bound on cached rows (default: 10000).
	// Exceeding it is reported, never enforced.
	MaxSize int
	// SearchSimilarity is reserved for fuzzy term matching (default: 0.8).
	SearchSimilarity float64
	// MaintenanceInterval is the period of the expire/evict job (default: 1h).
	MaintenanceInterval time.Duration
	// MaintenanceEnabled turns the scheduled job on or off (default: true).
	MaintenanceEnabled bool
}

// TTL returns TTLHours as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// CatalogConfig holds upstream catalog client configuration.
type CatalogConfig struct {
	BaseURL           string
	Region            string
	Commune           string
	Timeout           time.Duration // per attempt (default: 10s)
	Attempts          int           // total attempts (default: 3)
	RetryDelay        time.Duration // delay between attempts (default: 2s)
	RequestsPerSecond float64       // outbound throttle (default: 1)
	Burst             int           // outbound burst (default: 3)
	UserAgent         string
}

// SearchConfig holds inbound search throttling.
type SearchConfig struct {
	RateLimitRPS   float64 // per client IP (default: 5)
	RateLimitBurst int     // per client IP (default: 10)
}

// AdminConfig holds configuration for the cache administration endpoints.
type AdminConfig struct {
	// Token is the bearer token for admin routes. Empty disables them.
	Token string
}

// LoadConfig loads configuration using the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. YAML config file.
// 5. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("bibliored", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	envFile := fs.String("env-file", ".env", "Path to .env file")
	configFile := fs.String("config", "", "Path to YAML config file")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 60s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	corsOrigins := fs.String("cors-origins", "", "Comma-separated allowed CORS origins (default: *)")

	dbPath := fs.String("db", "", "Path to the cache database")

	ttlHours := fs.String("cache-ttl-hours", "", "Cached book lifetime in hours (default: 24)")
	maintenanceInterval := fs.String("maintenance-interval", "", "Cache maintenance period (default: 1h)")

	catalogURL := fs.String("catalog-url", "", "Upstream catalog base URL")

	adminToken := fs.String("admin-token", "", "Bearer token for admin endpoints")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Missing .env is fine; existing env vars win over the file.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
	}

	src := source{}
	if path := getConfigValue(*configFile, "CONFIG_FILE", ""); path != "" {
		values, err := loadYAMLFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
		src.file = values
	}

	cfg := &Config{
		App: AppConfig{
			Environment: src.get(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: src.get(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:        src.get(*serverPort, "SERVER_PORT", "8080"),
			CORSOrigins: splitList(src.get(*corsOrigins, "SERVER_CORS_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			Path: src.get(*dbPath, "DATABASE_PATH", ""),
		},
		Admin: AdminConfig{
			Token: src.get(*adminToken, "ADMIN_TOKEN", ""),
		},
	}

	var err error

	if cfg.Server.ReadTimeout, err = src.duration(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = src.duration(*writeTimeout, "SERVER_WRITE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = src.duration(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}

	if cfg.Cache, err = loadCacheConfig(src, *ttlHours, *maintenanceInterval); err != nil {
		return nil, err
	}
	if cfg.Catalog, err = loadCatalogConfig(src, *catalogURL); err != nil {
		return nil, err
	}
	if cfg.Search, err = loadSearchConfig(src); err != nil {
		return nil, err
	}

	if err := cfg.expandDatabasePath(); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func loadCacheConfig(src source, ttlFlag, intervalFlag string) (CacheConfig, error) {
	var (
		c   CacheConfig
		err error
	)
	if c.TTLHours, err = src.int(ttlFlag, "CACHE_TTL_HOURS", 24); err != nil {
		return c, err
	}
	if c.MaxSize, err = src.int("", "CACHE_MAX_SIZE", 10000); err != nil {
		return c, err
	}
	if c.SearchSimilarity, err = src.float("", "CACHE_SEARCH_SIMILARITY", 0.8); err != nil {
		return c, err
	}
	if c.MaintenanceInterval, err = src.duration(intervalFlag, "CACHE_MAINTENANCE_INTERVAL", "1h"); err != nil {
		return c, err
	}
	c.MaintenanceEnabled = src.bool("", "CACHE_MAINTENANCE_ENABLED", true)
	return c, nil
}

func loadCatalogConfig(src source, urlFlag string) (CatalogConfig, error) {
	c := CatalogConfig{
		BaseURL:   strings.TrimRight(src.get(urlFlag, "CATALOG_BASE_URL", "http://www.bibliotecaspublicas.gob.cl"), "/"),
		Region:    src.get("", "CATALOG_REGION", "13"),
		Commune:   src.get("", "CATALOG_COMMUNE", "13101"),
		UserAgent: src.get("", "CATALOG_USER_AGENT", "BiblioRed/1.0 (+catalog search)"),
	}

	var err error
	if c.Timeout, err = src.duration("", "CATALOG_TIMEOUT", "10s"); err != nil {
		return c, err
	}
	if c.Attempts, err = src.int("", "CATALOG_ATTEMPTS", 3); err != nil {
		return c, err
	}
	if c.RetryDelay, err = src.duration("", "CATALOG_RETRY_DELAY", "2s"); err != nil {
		return c, err
	}
	if c.RequestsPerSecond, err = src.float("", "CATALOG_RPS", 1); err != nil {
		return c, err
	}
	if c.Burst, err = src.int("", "CATALOG_BURST", 3); err != nil {
		return c, err
	}
	return c, nil
}

func loadSearchConfig(src source) (SearchConfig, error) {
	var (
		c   SearchConfig
		err error
	)
	if c.RateLimitRPS, err = src.float("", "SEARCH_RATE_LIMIT_RPS", 5); err != nil {
		return c, err
	}
	if c.RateLimitBurst, err = src.int("", "SEARCH_RATE_LIMIT_BURST", 10); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks that all config values are present and within range.
func (c *Config) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %q (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty after expansion")
	}

	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("CACHE_TTL_HOURS must be positive, got %d", c.Cache.TTLHours)
	}
	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.Cache.MaxSize)
	}
	if c.Cache.SearchSimilarity <= 0 || c.Cache.SearchSimilarity > 1 {
		return fmt.Errorf("CACHE_SEARCH_SIMILARITY must be in (0, 1], got %v", c.Cache.SearchSimilarity)
	}
	if c.Cache.MaintenanceEnabled && c.Cache.MaintenanceInterval <= 0 {
		return errors.New("CACHE_MAINTENANCE_INTERVAL must be positive when maintenance is enabled")
	}

	u, err := url.Parse(c.Catalog.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid CATALOG_BASE_URL: %q", c.Catalog.BaseURL)
	}
	if c.Catalog.Attempts < 1 {
		return fmt.Errorf("CATALOG_ATTEMPTS must be at least 1, got %d", c.Catalog.Attempts)
	}
	if c.Catalog.Timeout <= 0 {
		return errors.New("CATALOG_TIMEOUT must be positive")
	}
	if c.Catalog.RetryDelay < 0 {
		return errors.New("CATALOG_RETRY_DELAY cannot be negative")
	}
	if c.Catalog.RequestsPerSecond <= 0 || c.Catalog.Burst < 1 {
		return errors.New("CATALOG_RPS must be positive and CATALOG_BURST at least 1")
	}

	if c.Search.RateLimitRPS <= 0 || c.Search.RateLimitBurst < 1 {
		return errors.New("SEARCH_RATE_LIMIT_RPS must be positive and SEARCH_RATE_LIMIT_BURST at least 1")
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDatabasePath defaults the database to ~/BiblioRed/cache.db.
func (c *Config) expandDatabasePath() error {
	defaultPath := ""
	if c.Database.Path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		defaultPath = filepath.Join(homeDir, "BiblioRed", "cache.db")
	}

	expanded, err := expandPath(c.Database.Path, defaultPath)
	if err != nil {
		return err
	}
	c.Database.Path = expanded
	return nil
}

// source resolves a single setting from flag, env, config file, then default.
type source struct {
	file map[string]string
}

func (s source) get(flagValue, envKey, defaultValue string) string {
	if v := getConfigValue(flagValue, envKey, ""); v != "" {
		return v
	}
	if v, ok := s.file[envKey]; ok && v != "" {
		return v
	}
	return defaultValue
}

func (s source) bool(flagValue, envKey string, defaultValue bool) bool {
	v := s.get(flagValue, envKey, "")
	if v == "" {
		return defaultValue
	}
	v = strings.ToLower(v)
	return v == "true" || v == "1" || v == "yes"
}

func (s source) int(flagValue, envKey string, defaultValue int) (int, error) {
	v := s.get(flagValue, envKey, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return n, nil
}

func (s source) float(flagValue, envKey string, defaultValue float64) (float64, error) {
	v := s.get(flagValue, envKey, "")
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return f, nil
}

func (s source) duration(flagValue, envKey, defaultValue string) (time.Duration, error) {
	v := s.get(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return d, nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// loadYAMLFile reads a YAML config file and flattens it into env-style keys:
//
//	cache:
//	  ttl_hours: 12
//
// becomes CACHE_TTL_HOURS=12.
func loadYAMLFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- config path is operator supplied
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	values := make(map[string]string)
	flatten("", raw, values)
	return values, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			out[key] = strings.Join(parts, ",")
		case nil:
			// Explicit nulls leave the default in place.
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
