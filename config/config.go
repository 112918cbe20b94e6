package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	WebsocketURLEnv = "PYTHAGORAS_WEBSOCKET_URL"
	MongoDBURLEnv   = "PYTHAGORAS_MONGODB_URL"
	RedisURLEnv     = "PYTHAGORAS_REDIS_URL"
	KafkaBrokersEnv = "PYTHAGORAS_KAFKA_BROKERS"

	DefaultWebsocketURL = "wss://wspap.okx.com:8443/ws/v5/public?brokerId=9999"
	DefaultMongoDBURL   = "mongodb://localhost:27017/"
	DefaultRedisURL     = "redis://localhost:6379/"
)

const (
	DispatchSync     = "sync"
	DispatchBuffered = "buffered"
)

// MaxConsecutiveErrorsLimit is exclusive: gorilla/websocket panics on the
// 1000th read of a failed connection.
const MaxConsecutiveErrorsLimit = 1000

// DefaultInstruments is the compiled-in instrument list.
var DefaultInstruments = []string{"BTC-USD-SWAP"}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Feed     FeedConfig     `yaml:"feed"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Defaulted lists environment keys that were unset, so the hardcoded
	// default (or the file value) was used.
	Defaulted []string `yaml:"-"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	URL                  string          `yaml:"url"`
	Channel              string          `yaml:"channel"`
	Instruments          []string        `yaml:"instruments"`
	HandshakeTimeout     time.Duration   `yaml:"handshake_timeout"`
	SubscribeRate        float64         `yaml:"subscribe_rate"`
	MaxConsecutiveErrors int             `yaml:"max_consecutive_errors"`
	Reconnect            ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type SinksConfig struct {
	MongoDB MongoDBConfig `yaml:"mongodb"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	S3      S3Config      `yaml:"s3"`
}

type MongoDBConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type DispatchConfig struct {
	Mode   string `yaml:"mode"`
	Buffer int    `yaml:"buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "pythagoras", Version: "1.0.0"},
		Feed: FeedConfig{
			URL:                  DefaultWebsocketURL,
			Channel:              "books",
			Instruments:          append([]string(nil), DefaultInstruments...),
			HandshakeTimeout:     10 * time.Second,
			SubscribeRate:        3,
			MaxConsecutiveErrors: 10,
			Reconnect: ReconnectConfig{
				MinBackoff: 250 * time.Millisecond,
				MaxBackoff: 30 * time.Second,
			},
		},
		Sinks: SinksConfig{
			MongoDB: MongoDBConfig{Enabled: true, URL: DefaultMongoDBURL, Database: "orderbook", Timeout: 5 * time.Second},
			Redis:   RedisConfig{Enabled: true, URL: DefaultRedisURL, KeyPrefix: "orderbook"},
			Kafka:   KafkaConfig{Topic: "orderbook"},
			S3:      S3Config{Prefix: "orderbook"},
		},
		Dispatch: DispatchConfig{Mode: DispatchSync, Buffer: 1024},
		Metrics:  MetricsConfig{Address: ":2112"},
		Logging:  LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig overlays the YAML file at path (if it exists) on the defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	config.applyEnv()

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) applyEnv() {
	c.Feed.URL = c.lookup(WebsocketURLEnv, c.Feed.URL)
	c.Sinks.MongoDB.URL = c.lookup(MongoDBURLEnv, c.Sinks.MongoDB.URL)
	c.Sinks.Redis.URL = c.lookup(RedisURLEnv, c.Sinks.Redis.URL)

	if v := strings.TrimSpace(os.Getenv(KafkaBrokersEnv)); v != "" {
		c.Sinks.Kafka.Brokers = splitList(v)
	}

	// Override S3 settings from environment variables if available
	if c.Sinks.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			c.Sinks.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			c.Sinks.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			c.Sinks.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			c.Sinks.S3.Bucket = strings.TrimSpace(v)
		}
	}
	c.Sinks.S3.Bucket = strings.TrimSpace(c.Sinks.S3.Bucket)
}

func (c *Config) lookup(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	c.Defaulted = append(c.Defaulted, key)
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	u, err := url.Parse(cfg.Feed.URL)
	if err != nil {
		return fmt.Errorf("feed.url '%s' is invalid: %w", cfg.Feed.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("feed.url '%s' must use ws or wss", cfg.Feed.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("feed.url '%s' has no host", cfg.Feed.URL)
	}
	if cfg.Feed.Channel == "" {
		return fmt.Errorf("feed.channel is required")
	}
	if len(cfg.Feed.Instruments) == 0 {
		return fmt.Errorf("feed.instruments must list at least one instrument")
	}
	for _, inst := range cfg.Feed.Instruments {
		if strings.TrimSpace(inst) == "" {
			return fmt.Errorf("feed.instruments contains an empty instrument")
		}
	}
	if cfg.Feed.SubscribeRate < 0 {
		return fmt.Errorf("feed.subscribe_rate must not be negative")
	}
	if cfg.Feed.MaxConsecutiveErrors <= 0 || cfg.Feed.MaxConsecutiveErrors >= MaxConsecutiveErrorsLimit {
		return fmt.Errorf("feed.max_consecutive_errors must be between 1 and %d", MaxConsecutiveErrorsLimit-1)
	}
	if r := cfg.Feed.Reconnect; r.Enabled {
		if r.MinBackoff <= 0 || r.MaxBackoff < r.MinBackoff {
			return fmt.Errorf("feed.reconnect backoff must satisfy 0 < min_backoff <= max_backoff")
		}
		if r.MaxAttempts < 0 {
			return fmt.Errorf("feed.reconnect.max_attempts must not be negative")
		}
	}

	s := cfg.Sinks
	if !s.MongoDB.Enabled && !s.Redis.Enabled && !s.Kafka.Enabled && !s.S3.Enabled {
		return fmt.Errorf("at least one sink must be enabled")
	}
	if s.MongoDB.Enabled {
		if s.MongoDB.URL == "" {
			return fmt.Errorf("sinks.mongodb.url is required when mongodb is enabled")
		}
		if s.MongoDB.Database == "" {
			return fmt.Errorf("sinks.mongodb.database is required when mongodb is enabled")
		}
	}
	if s.Redis.Enabled && s.Redis.URL == "" {
		return fmt.Errorf("sinks.redis.url is required when redis is enabled")
	}
	if s.Kafka.Enabled {
		if len(s.Kafka.Brokers) == 0 {
			return fmt.Errorf("sinks.kafka.brokers is required when kafka is enabled")
		}
		if s.Kafka.Topic == "" {
			return fmt.Errorf("sinks.kafka.topic is required when kafka is enabled")
		}
	}
	if s.S3.Enabled {
		if s.S3.Bucket == "" {
			return fmt.Errorf("sinks.s3.bucket is required when s3 is enabled")
		}
		if s.S3.Region == "" {
			return fmt.Errorf("sinks.s3.region is required when s3 is enabled")
		}
		if !isValidS3Bucket(s.S3.Bucket) {
			return fmt.Errorf("sinks.s3.bucket '%s' is invalid", s.S3.Bucket)
		}
	}

	switch cfg.Dispatch.Mode {
	case DispatchSync:
	case DispatchBuffered:
		if cfg.Dispatch.Buffer <= 0 {
			return fmt.Errorf("dispatch.buffer must be greater than 0 in buffered mode")
		}
	default:
		return fmt.Errorf("dispatch.mode '%s' is unknown", cfg.Dispatch.Mode)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
