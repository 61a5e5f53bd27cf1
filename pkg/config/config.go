package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the monitor service
type Config struct {
	// Upstream source settings
	Source SourceConfig `yaml:"source" json:"source"`

	// Downstream delivery settings
	Delivery DeliveryConfig `yaml:"delivery" json:"delivery"`

	// Poll scheduling settings
	Poller PollerConfig `yaml:"poller" json:"poller"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Cache retention and cleanup settings
	Retention RetentionConfig `yaml:"retention" json:"retention"`

	// Persistence backends
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Self-check settings
	Health HealthConfig `yaml:"health" json:"health"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SourceConfig holds upstream account configuration
type SourceConfig struct {
	Target    string        `yaml:"target" json:"target"`
	SessionID string        `yaml:"session_id" json:"session_id"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// DeliveryConfig holds downstream channel configuration
type DeliveryConfig struct {
	BotToken     string        `yaml:"bot_token" json:"bot_token"`
	ChannelID    string        `yaml:"channel_id" json:"channel_id"`
	MaxGroupSize int           `yaml:"max_group_size" json:"max_group_size"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// PollerConfig holds adaptive scheduling configuration. Intervals are
// expressed in minutes to match how operators reason about poll cadence.
type PollerConfig struct {
	BaseIntervalMinutes int           `yaml:"base_interval_minutes" json:"base_interval_minutes"`
	HighIntervalMinutes int           `yaml:"high_interval_minutes" json:"high_interval_minutes"`
	LowIntervalMinutes  int           `yaml:"low_interval_minutes" json:"low_interval_minutes"`
	HighThreshold       int           `yaml:"high_threshold" json:"high_threshold"`
	JitterMinutes       int           `yaml:"jitter_minutes" json:"jitter_minutes"`
	FailureRetry        time.Duration `yaml:"failure_retry" json:"failure_retry"`
	MaxItemsPerCycle    int           `yaml:"max_items_per_cycle" json:"max_items_per_cycle"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	ErrorGrowth       float64       `yaml:"error_growth" json:"error_growth"`
	ErrorDecay        float64       `yaml:"error_decay" json:"error_decay"`
	ErrorCeiling      float64       `yaml:"error_ceiling" json:"error_ceiling"`
	RateLimitCeiling  float64       `yaml:"rate_limit_ceiling" json:"rate_limit_ceiling"`
	CooldownMin       time.Duration `yaml:"cooldown_min" json:"cooldown_min"`
	CooldownMax       time.Duration `yaml:"cooldown_max" json:"cooldown_max"`
	CircuitThreshold  int           `yaml:"circuit_threshold" json:"circuit_threshold"`
	CircuitCooldown   time.Duration `yaml:"circuit_cooldown" json:"circuit_cooldown"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
}

// RetentionConfig holds eviction and cleanup configuration
type RetentionConfig struct {
	KeepPerTarget   int           `yaml:"keep_per_target" json:"keep_per_target"`
	MaxAge          time.Duration `yaml:"max_age" json:"max_age"`
	MaxStorageMB    int64         `yaml:"max_storage_mb" json:"max_storage_mb"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	QueuePause      time.Duration `yaml:"queue_pause" json:"queue_pause"`
}

// StorageConfig holds persistence backend configuration. PostgresURL selects
// the primary backend; SQLitePath is the local fallback.
type StorageConfig struct {
	PostgresURL  string        `yaml:"postgres_url" json:"postgres_url"`
	SQLitePath   string        `yaml:"sqlite_path" json:"sqlite_path"`
	SnapshotPath string        `yaml:"snapshot_path" json:"snapshot_path"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// HealthConfig holds self-check configuration
type HealthConfig struct {
	CheckInterval    time.Duration `yaml:"check_interval" json:"check_interval"`
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	RestartDelay     time.Duration `yaml:"restart_delay" json:"restart_delay"`
	ListenAddr       string        `yaml:"listen_addr" json:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Timeout:   15 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxGroupSize: 10,
			Timeout:      30 * time.Second,
		},
		Poller: PollerConfig{
			BaseIntervalMinutes: 25,
			HighIntervalMinutes: 15,
			LowIntervalMinutes:  45,
			HighThreshold:       2,
			JitterMinutes:       2,
			FailureRetry:        5 * time.Minute,
			MaxItemsPerCycle:    8,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			ErrorGrowth:       1.5,
			ErrorDecay:        0.9,
			ErrorCeiling:      5,
			RateLimitCeiling:  10,
			CooldownMin:       30 * time.Second,
			CooldownMax:       45 * time.Second,
			CircuitThreshold:  5,
			CircuitCooldown:   time.Minute,
			MaxRetries:        3,
		},
		Retention: RetentionConfig{
			KeepPerTarget:   8,
			MaxAge:          28 * 24 * time.Hour,
			MaxStorageMB:    500,
			CleanupInterval: 30 * time.Minute,
			QueuePause:      2 * time.Second,
		},
		Storage: StorageConfig{
			SQLitePath:   "./igmonitor.db",
			SnapshotPath: "./igmonitor.cache.json",
			Timeout:      10 * time.Second,
		},
		Health: HealthConfig{
			CheckInterval:    5 * time.Minute,
			FailureThreshold: 3,
			RestartDelay:     5 * time.Second,
			ListenAddr:       ":3000",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if target := os.Getenv("IGMONITOR_TARGET"); target != "" {
		c.Source.Target = target
	}
	if sessionID := os.Getenv("IGMONITOR_SESSION_ID"); sessionID != "" {
		c.Source.SessionID = sessionID
	}
	if userAgent := os.Getenv("IGMONITOR_USER_AGENT"); userAgent != "" {
		c.Source.UserAgent = userAgent
	}

	if token := os.Getenv("IGMONITOR_BOT_TOKEN"); token != "" {
		c.Delivery.BotToken = token
	}
	if channel := os.Getenv("IGMONITOR_CHANNEL_ID"); channel != "" {
		c.Delivery.ChannelID = channel
	}

	if pgURL := os.Getenv("IGMONITOR_POSTGRES_URL"); pgURL != "" {
		c.Storage.PostgresURL = pgURL
	}
	if dbPath := os.Getenv("IGMONITOR_SQLITE_PATH"); dbPath != "" {
		c.Storage.SQLitePath = dbPath
	}

	if rpm := os.Getenv("IGMONITOR_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}

	if addr := os.Getenv("IGMONITOR_LISTEN_ADDR"); addr != "" {
		c.Health.ListenAddr = addr
	}

	if logLevel := os.Getenv("IGMONITOR_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	// Check in order of precedence
	locations := []string{
		".igmonitor.yaml",
		".igmonitor.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "igmonitor", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "igmonitor", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".igmonitor.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Poller.BaseIntervalMinutes <= 0 {
		errs = append(errs, errors.New("base poll interval must be positive"))
	}
	if c.Poller.HighIntervalMinutes <= 0 || c.Poller.LowIntervalMinutes <= 0 {
		errs = append(errs, errors.New("high and low poll intervals must be positive"))
	}
	if c.Poller.HighIntervalMinutes > c.Poller.BaseIntervalMinutes {
		errs = append(errs, errors.New("high-activity interval must not exceed the base interval"))
	}
	if c.Poller.LowIntervalMinutes < c.Poller.BaseIntervalMinutes {
		errs = append(errs, errors.New("low-activity interval must not undercut the base interval"))
	}
	if c.Poller.HighThreshold < 1 {
		errs = append(errs, errors.New("high activity threshold must be at least 1"))
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.ErrorGrowth <= 1 {
		errs = append(errs, errors.New("error growth factor must exceed 1"))
	}
	if c.RateLimit.ErrorDecay <= 0 || c.RateLimit.ErrorDecay >= 1 {
		errs = append(errs, errors.New("error decay factor must be between 0 and 1"))
	}
	if c.RateLimit.CooldownMin > c.RateLimit.CooldownMax {
		errs = append(errs, errors.New("rate limit cooldown min must not exceed max"))
	}
	if c.RateLimit.CircuitThreshold <= 0 {
		errs = append(errs, errors.New("circuit breaker threshold must be positive"))
	}

	if c.Retention.KeepPerTarget <= 0 {
		errs = append(errs, errors.New("retention keep count must be positive"))
	}
	if c.Retention.MaxAge <= 0 {
		errs = append(errs, errors.New("retention max age must be positive"))
	}

	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite path is required"))
	}

	if c.Delivery.MaxGroupSize <= 0 || c.Delivery.MaxGroupSize > 10 {
		errs = append(errs, errors.New("delivery group size must be between 1 and 10"))
	}

	if c.Health.FailureThreshold <= 0 {
		errs = append(errs, errors.New("health failure threshold must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Environment variables > .env file > Config file > Defaults
func Load(configPath string) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".igmonitor.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
