package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Identity cache kinds.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the full service configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Sink    SinkConfig    `yaml:"sink"`
	Notify  NotifyConfig  `yaml:"notify"`
	Auth    AuthConfig    `yaml:"auth"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	ServiceName    string `yaml:"service_name"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxBackups int    `yaml:"file_max_backups"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// SeedFile is a YAML fixture of tenants and rules loaded into the memory driver.
	SeedFile string `yaml:"seed_file"`
}

// CacheConfig configures the identity cache tier.
type CacheConfig struct {
	Kind          string        `yaml:"kind"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TenantTTL     time.Duration `yaml:"tenant_ttl"`
	DeviceTTL     time.Duration `yaml:"device_ttl"`
}

// MQTTConfig configures the inbound subscriber.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicRoot   string `yaml:"topic_root"`
	TopicSuffix string `yaml:"topic_suffix"`
	QoS         byte   `yaml:"qos"`
}

// IngestConfig configures the worker pool and per-message limits.
type IngestConfig struct {
	Workers        int           `yaml:"workers"`
	IORatio        int           `yaml:"io_ratio"`
	QueueSize      int           `yaml:"queue_size"`
	MessageTimeout time.Duration `yaml:"message_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RateBurst      int           `yaml:"rate_burst"`
}

// SinkConfig configures the time-series sink.
type SinkConfig struct {
	Buffered      bool          `yaml:"buffered"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// NotifyConfig configures the notification dispatcher and its channels.
type NotifyConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	Template        string        `yaml:"template"`
	WebhookURL      string        `yaml:"webhook_url"`
	EmailURL        string        `yaml:"email_url"`
	SMSURL          string        `yaml:"sms_url"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	ChannelRate     float64       `yaml:"channel_rate"`
	ChannelBurst    int           `yaml:"channel_burst"`
}

// AuthConfig configures JWT verification for the HTTP surface.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:          "info",
			Format:         "json",
			ServiceName:    "factory-telemetry",
			FileMaxSizeMB:  100,
			FileMaxBackups: 5,
			FileMaxAgeDays: 14,
		},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:          DriverPostgres,
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			Kind:      CacheMemory,
			KeyPrefix: "telemetry:identity:",
			TenantTTL: time.Hour,
			DeviceTTL: 30 * time.Minute,
		},
		MQTT: MQTTConfig{
			Enabled:     true,
			Broker:      "tcp://localhost:1883",
			ClientID:    "factory-telemetry",
			TopicRoot:   "factory",
			TopicSuffix: "telemetry",
			QoS:         1,
		},
		Ingest: IngestConfig{
			IORatio:        4,
			QueueSize:      256,
			MessageTimeout: 5 * time.Second,
			RateBurst:      20,
		},
		Sink: SinkConfig{
			BatchSize:     500,
			FlushInterval: time.Second,
		},
		Notify: NotifyConfig{
			Workers:         4,
			QueueSize:       1024,
			Timeout:         10 * time.Second,
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			ChannelRate:     5,
			ChannelBurst:    10,
		},
	}
}

// Load builds the configuration from defaults, an optional .env file, an optional
// YAML file and environment overrides, in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return cfg, fmt.Errorf("config: load .env: %w", err)
		}
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.FilePath = getenvDefault("LOG_FILE", cfg.Log.FilePath)

	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)

	cfg.Storage.Driver = getenvDefault("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DSN = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Storage.DSN))
	cfg.Storage.MaxOpenConns = getenvIntDefault("DB_MAX_OPEN_CONNS", cfg.Storage.MaxOpenConns)
	cfg.Storage.SeedFile = getenvDefault("STORAGE_SEED_FILE", cfg.Storage.SeedFile)

	cfg.Cache.Kind = getenvDefault("IDENTITY_CACHE", cfg.Cache.Kind)
	cfg.Cache.RedisAddr = getenvDefault("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getenvDefault("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getenvIntDefault("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TenantTTL = getenvDuration("TENANT_CACHE_TTL", cfg.Cache.TenantTTL)
	cfg.Cache.DeviceTTL = getenvDuration("DEVICE_CACHE_TTL", cfg.Cache.DeviceTTL)

	cfg.MQTT.Enabled = getenvBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicRoot = getenvDefault("MQTT_TOPIC_ROOT", cfg.MQTT.TopicRoot)
	cfg.MQTT.TopicSuffix = getenvDefault("MQTT_TOPIC_SUFFIX", cfg.MQTT.TopicSuffix)
	cfg.MQTT.QoS = byte(getenvIntDefault("MQTT_QOS", int(cfg.MQTT.QoS)))

	cfg.Ingest.Workers = getenvIntDefault("INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.IORatio = getenvIntDefault("INGEST_IO_RATIO", cfg.Ingest.IORatio)
	cfg.Ingest.QueueSize = getenvIntDefault("INGEST_QUEUE_SIZE", cfg.Ingest.QueueSize)
	cfg.Ingest.MessageTimeout = getenvDuration("INGEST_MESSAGE_TIMEOUT", cfg.Ingest.MessageTimeout)
	cfg.Ingest.RatePerSecond = getenvFloatDefault("INGEST_RATE_PER_SECOND", cfg.Ingest.RatePerSecond)
	cfg.Ingest.RateBurst = getenvIntDefault("INGEST_RATE_BURST", cfg.Ingest.RateBurst)

	cfg.Sink.Buffered = getenvBool("SINK_BUFFERED", cfg.Sink.Buffered)
	cfg.Sink.BatchSize = getenvIntDefault("SINK_BATCH_SIZE", cfg.Sink.BatchSize)
	cfg.Sink.FlushInterval = getenvDuration("SINK_FLUSH_INTERVAL", cfg.Sink.FlushInterval)

	cfg.Notify.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.EmailURL = getenvDefault("ALERT_EMAIL_URL", cfg.Notify.EmailURL)
	cfg.Notify.SMSURL = getenvDefault("ALERT_SMS_URL", cfg.Notify.SMSURL)
	cfg.Notify.Template = getenvDefault("ALERT_NOTIFY_TEMPLATE", cfg.Notify.Template)
	cfg.Notify.Timeout = getenvDuration("ALERT_NOTIFY_TIMEOUT", cfg.Notify.Timeout)

	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Cache.Kind {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("config: redis_addr is required for the redis cache")
		}
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	if c.Cache.Kind != CacheNone && (c.Cache.TenantTTL <= 0 || c.Cache.DeviceTTL <= 0) {
		return errors.New("config: cache ttl must be positive")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("config: mqtt broker is required")
		}
		if c.MQTT.TopicRoot == "" || c.MQTT.TopicSuffix == "" {
			return errors.New("config: mqtt topic root and suffix are required")
		}
		if c.MQTT.QoS > 2 {
			return errors.New("config: mqtt qos must be 0, 1 or 2")
		}
	}
	if c.Ingest.MessageTimeout <= 0 {
		return errors.New("config: ingest message timeout must be positive")
	}
	if c.Sink.Buffered && (c.Sink.BatchSize <= 0 || c.Sink.FlushInterval <= 0) {
		return errors.New("config: buffered sink needs positive batch size and flush interval")
	}
	return nil
}

// Online reports whether the MQTT subscriber should start.
func (c MQTTConfig) Online() bool {
	return c.Enabled && strings.TrimSpace(c.Broker) != ""
}
