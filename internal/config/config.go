package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

const defaultOperatorSecret = "default-operator-secret-change-in-production"

// AppConfig represents the main application configuration
type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis server is configured. Without one the API
// runs standalone: notifications stay in process and jobs run inline.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// SyncConfig tunes the media sync engine
type SyncConfig struct {
	PreloadWindow     time.Duration `mapstructure:"preload_window"`
	FlashSaleWarmup   time.Duration `mapstructure:"flash_sale_warmup"`
	Timezone          string        `mapstructure:"timezone"`
	ProgressRateLimit float64       `mapstructure:"progress_rate_limit"` // reports per second per device
	ProgressRateBurst int           `mapstructure:"progress_rate_burst"`
}

// Location resolves the configured timezone, falling back to UTC
func (s SyncConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig represents OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	UseOTLP  bool   `mapstructure:"use_otlp"`
}

// AuthConfig holds the secret used to verify operator tokens
type AuthConfig struct {
	OperatorSecret string `mapstructure:"operator_secret"`
}

// ConfigLoader loads AppConfig from a YAML file, defaults and SIGNAGE_* env vars
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader with search paths and defaults registered
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SIGNAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &ConfigLoader{viper: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "signage")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "signage.db")
	v.SetDefault("database.max_open_conns", DefaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", DefaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", DefaultConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", DefaultConnMaxIdleTime)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", 5*time.Second)

	v.SetDefault("sync.preload_window", 30*time.Minute)
	v.SetDefault("sync.flash_sale_warmup", 15*time.Minute)
	v.SetDefault("sync.timezone", "UTC")
	v.SetDefault("sync.progress_rate_limit", 5.0)
	v.SetDefault("sync.progress_rate_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.use_otlp", false)

	v.SetDefault("auth.operator_secret", defaultOperatorSecret)
}

// Load reads the configuration file (if any), applies env overrides and validates
func (l *ConfigLoader) Load() (*AppConfig, error) {
	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults
	}

	var config AppConfig
	if err := l.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// LoadConfig loads application configuration from the default locations
func LoadConfig() (*AppConfig, error) {
	return NewConfigLoader().Load()
}

// validateConfig validates the configuration values
func validateConfig(config *AppConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case DriverPostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty")
		}
	case DriverSQLite:
		if config.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", config.Database.Driver)
	}

	if config.Sync.PreloadWindow < 0 {
		return fmt.Errorf("sync preload window cannot be negative")
	}
	if config.Sync.FlashSaleWarmup < 0 {
		return fmt.Errorf("sync flash sale warmup cannot be negative")
	}
	if config.Sync.ProgressRateLimit <= 0 || config.Sync.ProgressRateBurst <= 0 {
		return fmt.Errorf("sync progress rate limit and burst must be positive")
	}
	if _, err := time.LoadLocation(config.Sync.Timezone); err != nil {
		return fmt.Errorf("invalid sync timezone %q: %w", config.Sync.Timezone, err)
	}

	if config.Auth.OperatorSecret == "" {
		return fmt.Errorf("operator secret cannot be empty")
	}

	return nil
}

// UsesDefaultOperatorSecret reports whether the shipped placeholder secret is still configured
func (c *AppConfig) UsesDefaultOperatorSecret() bool {
	return c.Auth.OperatorSecret == defaultOperatorSecret
}
