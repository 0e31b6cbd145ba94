package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PRESENCE_CONFIG_FILE", "PORT", "STORE_BACKEND", "MONGO_URI", "MONGO_DB", "SQL_DSN",
	"REFRESH_INTERVAL", "HISTORY_RETENTION", "PRESENCE_RETENTION", "SWEEP_INTERVAL",
	"MQTT_BROKER", "MQTT_TOPIC_PREFIX", "MQTT_CLIENT_ID", "JWT_SECRET", "JWT_EXPIRY",
	"RATE_LIMIT_PER_MINUTE", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, BackendMongo, cfg.StoreBackend)
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REFRESH_INTERVAL", "2s")
	t.Setenv("HISTORY_RETENTION", "0")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "30")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 2*time.Second, cfg.RefreshInterval)
	assert.Zero(t, cfg.HistoryRetention)
	assert.Equal(t, 30, cfg.RateLimitPerMinute)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "presence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
store_backend: sqlite
sql_dsn: /tmp/presence.db
refresh_interval: 5s
log_format: json
`), 0o600))
	t.Setenv("PRESENCE_CONFIG_FILE", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "/tmp/presence.db", cfg.SQLDSN)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PRESENCE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "failed to read config file")
	})
	t.Run("bad yaml", func(t *testing.T) {
		clearEnv(t)
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("port: [unclosed"), 0o600))
		t.Setenv("PRESENCE_CONFIG_FILE", path)
		_, err := Load()
		assert.ErrorContains(t, err, "failed to parse config file")
	})
	t.Run("bad duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("REFRESH_INTERVAL", "soon")
		_, err := Load()
		assert.ErrorContains(t, err, "REFRESH_INTERVAL")
	})
	t.Run("bad rate limit", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("RATE_LIMIT_PER_MINUTE", "many")
		_, err := Load()
		assert.ErrorContains(t, err, "RATE_LIMIT_PER_MINUTE")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"port zero", func(c *Config) { c.Port = "0" }, false},
		{"port text", func(c *Config) { c.Port = "http" }, false},
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }, false},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres }, false},
		{"postgres with dsn", func(c *Config) { c.StoreBackend = BackendPostgres; c.SQLDSN = "host=db" }, true},
		{"mongo without uri", func(c *Config) { c.MongoURI = "" }, false},
		{"zero refresh", func(c *Config) { c.RefreshInterval = 0 }, false},
		{"refresh equals activity window", func(c *Config) { c.RefreshInterval = 5 * time.Minute }, false},
		{"refresh just under window", func(c *Config) { c.RefreshInterval = 4 * time.Minute }, true},
		{"presence retention inside window", func(c *Config) { c.PresenceRetention = time.Minute }, false},
		{"retention disabled", func(c *Config) { c.PresenceRetention = 0; c.HistoryRetention = 0 }, true},
		{"negative sweep", func(c *Config) { c.SweepInterval = -time.Second }, false},
		{"broker without prefix", func(c *Config) { c.MQTTBroker = "tcp://x:1883"; c.MQTTTopicPrefix = "/" }, false},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, false},
		{"zero expiry", func(c *Config) { c.JWTExpiry = 0 }, false},
		{"negative rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }, false},
		{"rate limit disabled", func(c *Config) { c.RateLimitPerMinute = 0 }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
