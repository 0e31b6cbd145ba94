// Package config loads server settings from .env, an optional YAML file and
// the environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// activityWindow mirrors presence.ActivityWindow; config must not import the
// store.
const activityWindow = 5 * time.Minute

// Config contains application configuration.
type Config struct {
	Port         string `yaml:"port"`
	StoreBackend string `yaml:"store_backend"`
	MongoURI     string `yaml:"mongo_uri"`
	MongoDB      string `yaml:"mongo_db"`
	SQLDSN       string `yaml:"sql_dsn"`

	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	HistoryRetention  time.Duration `yaml:"history_retention"`
	PresenceRetention time.Duration `yaml:"presence_retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`

	MQTTBroker      string `yaml:"mqtt_broker"`
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
	MQTTClientID    string `yaml:"mqtt_client_id"`

	JWTSecret          string        `yaml:"jwt_secret"`
	JWTExpiry          time.Duration `yaml:"jwt_expiry"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               "8081",
		StoreBackend:       BackendMongo,
		MongoURI:           "mongodb://localhost:27017",
		MongoDB:            "live_presence",
		RefreshInterval:    10 * time.Second,
		HistoryRetention:   30 * 24 * time.Hour,
		PresenceRetention:  7 * 24 * time.Hour,
		SweepInterval:      time.Hour,
		MQTTTopicPrefix:    "presence",
		MQTTClientID:       "live-presence-server",
		JWTSecret:          "default-secret-key-change-in-production",
		JWTExpiry:          24 * time.Hour,
		RateLimitPerMinute: 120,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load reads configuration from .env, PRESENCE_CONFIG_FILE and the
// environment, then validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("PRESENCE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":              &c.Port,
		"STORE_BACKEND":     &c.StoreBackend,
		"MONGO_URI":         &c.MongoURI,
		"MONGO_DB":          &c.MongoDB,
		"SQL_DSN":           &c.SQLDSN,
		"MQTT_BROKER":       &c.MQTTBroker,
		"MQTT_TOPIC_PREFIX": &c.MQTTTopicPrefix,
		"MQTT_CLIENT_ID":    &c.MQTTClientID,
		"JWT_SECRET":        &c.JWTSecret,
		"LOG_LEVEL":         &c.LogLevel,
		"LOG_FORMAT":        &c.LogFormat,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"REFRESH_INTERVAL":   &c.RefreshInterval,
		"HISTORY_RETENTION":  &c.HistoryRetention,
		"PRESENCE_RETENTION": &c.PresenceRetention,
		"SWEEP_INTERVAL":     &c.SweepInterval,
		"JWT_EXPIRY":         &c.JWTExpiry,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
		}
		c.RateLimitPerMinute = n
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid port: %q", c.Port)
	}

	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			return fmt.Errorf("mongo backend requires MONGO_URI and MONGO_DB")
		}
	case BackendPostgres, BackendSQLite:
		if c.SQLDSN == "" {
			return fmt.Errorf("%s backend requires SQL_DSN", c.StoreBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend: %q", c.StoreBackend)
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.RefreshInterval >= activityWindow {
		return fmt.Errorf("refresh interval must be shorter than %s", activityWindow)
	}
	if c.HistoryRetention < 0 || c.PresenceRetention < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("retention settings cannot be negative")
	}
	if c.PresenceRetention > 0 && c.PresenceRetention <= activityWindow {
		return fmt.Errorf("presence retention must exceed %s or be zero", activityWindow)
	}

	if c.MQTTBroker != "" && strings.Trim(c.MQTTTopicPrefix, "/") == "" {
		return fmt.Errorf("MQTT topic prefix is required when a broker is set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT expiry must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.LogFormat)
	}
	return nil
}
