package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/0xmhha/contactstore/internal/constants"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the contact store
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Search   SearchConfig   `yaml:"search"`
	API      APIConfig      `yaml:"api"`
	Seed     SeedConfig     `yaml:"seed"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Backend is the storage engine: "pebble" or "sqlite"
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	ReadOnly bool   `yaml:"readonly"`
	// CacheMB is the pebble block cache size in megabytes
	CacheMB int `yaml:"cache_mb"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SearchConfig holds contact search configuration
type SearchConfig struct {
	// Collection is the collection scanned for contacts
	Collection string `yaml:"collection"`
	// RecordPolicy decides what happens on a malformed record: "strict" or "skip"
	RecordPolicy string `yaml:"record_policy"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// SeedConfig points at a JSON or YAML file of contacts loaded at startup
type SeedConfig struct {
	Path string `yaml:"path"`
}

// NewConfig creates a new config with default values
func NewConfig() *Config {
	cfg := baseConfig()
	cfg.SetDefaults()
	return cfg
}

// baseConfig presets the defaults of fields whose zero value is a valid
// setting. File and environment values are applied on top.
func baseConfig() *Config {
	cfg := &Config{}
	cfg.API.EnableCORS = constants.DefaultEnableCORS
	return cfg
}

// SetDefaults fills every unset field with its default
func (c *Config) SetDefaults() {
	if c.Database.Backend == "" {
		c.Database.Backend = constants.DefaultBackend
	}
	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}
	if c.Database.CacheMB == 0 {
		c.Database.CacheMB = 128
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Search.Collection == "" {
		c.Search.Collection = constants.ContactsCollection
	}
	if c.Search.RecordPolicy == "" {
		c.Search.RecordPolicy = constants.DefaultRecordPolicy
	}

	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}
}

// LoadFromEnv loads configuration from environment variables
// Environment variables take precedence over file configuration
func (c *Config) LoadFromEnv() error {
	// Database configuration
	if backend := os.Getenv("CONTACTS_DB_BACKEND"); backend != "" {
		c.Database.Backend = backend
	}
	if path := os.Getenv("CONTACTS_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if readonly := os.Getenv("CONTACTS_DB_READONLY"); readonly != "" {
		val, err := strconv.ParseBool(readonly)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_DB_READONLY: %w", err)
		}
		c.Database.ReadOnly = val
	}
	if cache := os.Getenv("CONTACTS_DB_CACHE_MB"); cache != "" {
		val, err := strconv.Atoi(cache)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_DB_CACHE_MB: %w", err)
		}
		c.Database.CacheMB = val
	}

	// Log configuration
	if level := os.Getenv("CONTACTS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("CONTACTS_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Search configuration
	if collection := os.Getenv("CONTACTS_SEARCH_COLLECTION"); collection != "" {
		c.Search.Collection = collection
	}
	if policy := os.Getenv("CONTACTS_SEARCH_RECORD_POLICY"); policy != "" {
		c.Search.RecordPolicy = policy
	}

	// API configuration
	if enabled := os.Getenv("CONTACTS_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("CONTACTS_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("CONTACTS_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if cors := os.Getenv("CONTACTS_API_ENABLE_CORS"); cors != "" {
		val, err := strconv.ParseBool(cors)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_API_ENABLE_CORS: %w", err)
		}
		c.API.EnableCORS = val
	}
	if origins := os.Getenv("CONTACTS_API_ALLOWED_ORIGINS"); origins != "" {
		var allowed []string
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowed = append(allowed, origin)
			}
		}
		c.API.AllowedOrigins = allowed
	}
	if rateLimit := os.Getenv("CONTACTS_API_RATE_LIMIT"); rateLimit != "" {
		val, err := strconv.ParseFloat(rateLimit, 64)
		if err != nil {
			return fmt.Errorf("invalid CONTACTS_API_RATE_LIMIT: %w", err)
		}
		c.API.EnableRateLimit = val > 0
		if val > 0 {
			c.API.RateLimitPerSecond = val
		}
	}

	// Seed configuration
	if seed := os.Getenv("CONTACTS_SEED_PATH"); seed != "" {
		c.Seed.Path = seed
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database configuration
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	validBackends := map[string]bool{
		"pebble": true,
		"sqlite": true,
	}
	if !validBackends[c.Database.Backend] {
		return fmt.Errorf("invalid database backend %q, must be one of: pebble, sqlite", c.Database.Backend)
	}
	if c.Database.CacheMB < 0 {
		return fmt.Errorf("database cache size cannot be negative")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate search configuration
	if c.Search.Collection == "" {
		return fmt.Errorf("search collection is required")
	}
	validPolicies := map[string]bool{
		constants.RecordPolicyStrict: true,
		constants.RecordPolicySkip:   true,
	}
	if !validPolicies[c.Search.RecordPolicy] {
		return fmt.Errorf("invalid record policy %q, must be one of: strict, skip", c.Search.RecordPolicy)
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port < constants.MinPort || c.API.Port > constants.MaxPort {
			return fmt.Errorf("API port must be between %d and %d", constants.MinPort, constants.MaxPort)
		}
		if c.API.EnableRateLimit && (c.API.RateLimitPerSecond <= 0 || c.API.RateLimitBurst <= 0) {
			return fmt.Errorf("rate limit and burst must be positive when rate limiting is enabled")
		}
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for anything still unset
//
// The result is not validated: callers apply their own overrides (such as
// command-line flags) and then call Validate.
func Load(configFile string) (*Config, error) {
	cfg := baseConfig()

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	return cfg, nil
}
