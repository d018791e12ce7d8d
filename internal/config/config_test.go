package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigLoader_Load(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "localhost"
  port: 9090
database:
  host: "test-db"
  user: "testuser"
  dbname: "testdb"
  password: "testpass"
redis:
  addr: "localhost:6380"
  password: "redispass"
sync:
  preload_window: 45m
  timezone: "Asia/Jakarta"
auth:
  operator_secret: "s3cret"
`)

	loader := NewConfigLoader()
	loader.viper.SetConfigFile(path)

	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)

	assert.Equal(t, DriverPostgres, config.Database.Driver)
	assert.Equal(t, "test-db", config.Database.Host)
	assert.Equal(t, "testuser", config.Database.User)
	assert.Equal(t, "testdb", config.Database.DBName)
	assert.Equal(t, "testpass", config.Database.Password)

	assert.Equal(t, "localhost:6380", config.Redis.Addr)
	assert.Equal(t, "redispass", config.Redis.Password)

	assert.Equal(t, 45*time.Minute, config.Sync.PreloadWindow)
	assert.Equal(t, 15*time.Minute, config.Sync.FlashSaleWarmup)
	assert.Equal(t, "Asia/Jakarta", config.Sync.Location().String())
	assert.False(t, config.UsesDefaultOperatorSecret())
}

func TestConfigLoader_Defaults(t *testing.T) {
	loader := NewConfigLoader()
	loader.viper.SetConfigFile(writeConfig(t, "server:\n  port: 3000\n"))

	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, config.Sync.PreloadWindow)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, DefaultMaxOpenConns, config.Database.MaxOpenConns)
	assert.True(t, config.UsesDefaultOperatorSecret())
}

func TestConfigLoader_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "localhost"
  port: 8888
database:
  driver: "sqlite"
  path: "/tmp/file.db"
`)

	t.Setenv("SIGNAGE_SERVER_HOST", "env-host")
	t.Setenv("SIGNAGE_SYNC_PRELOAD_WINDOW", "2h")

	loader := NewConfigLoader()
	loader.viper.SetConfigFile(path)

	config, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-host", config.Server.Host)
	assert.Equal(t, 8888, config.Server.Port)
	assert.Equal(t, DriverSQLite, config.Database.Driver)
	assert.Equal(t, 2*time.Hour, config.Sync.PreloadWindow)
}

func TestConfigLoader_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad driver", "database:\n  driver: mysql\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"negative window", "sync:\n  preload_window: -5m\n"},
		{"bad timezone", "sync:\n  timezone: Mars/Olympus\n"},
		{"zero burst", "sync:\n  progress_rate_burst: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewConfigLoader()
			loader.viper.SetConfigFile(writeConfig(t, tt.content))

			_, err := loader.Load()
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_WithPoolDefaults(t *testing.T) {
	cfg := DatabaseConfig{MaxOpenConns: 5}.WithPoolDefaults()

	assert.Equal(t, 5, cfg.MaxOpenConns)
	assert.Equal(t, DefaultMaxIdleConns, cfg.MaxIdleConns)
	assert.Equal(t, DefaultConnMaxLifetime, cfg.ConnMaxLifetime)
	assert.Equal(t, DefaultConnMaxIdleTime, cfg.ConnMaxIdleTime)
}

func TestRedisConfig_Enabled(t *testing.T) {
	assert.True(t, RedisConfig{Addr: "localhost:6379"}.Enabled())
	assert.False(t, RedisConfig{}.Enabled())
}
