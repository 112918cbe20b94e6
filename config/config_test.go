package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a config file in a temp dir and returns
// its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{WebsocketURLEnv, MongoDBURLEnv, RedisURLEnv, KafkaBrokersEnv, "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", "S3_BUCKET", appEnvVar} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Feed.URL != DefaultWebsocketURL {
		t.Errorf("unexpected feed url: %s", cfg.Feed.URL)
	}
	if cfg.Sinks.MongoDB.URL != DefaultMongoDBURL || cfg.Sinks.Redis.URL != DefaultRedisURL {
		t.Errorf("unexpected sink urls: %s %s", cfg.Sinks.MongoDB.URL, cfg.Sinks.Redis.URL)
	}
	if len(cfg.Feed.Instruments) != 1 || cfg.Feed.Instruments[0] != "BTC-USD-SWAP" {
		t.Errorf("unexpected instruments: %v", cfg.Feed.Instruments)
	}
	if cfg.Feed.Channel != "books" || cfg.Dispatch.Mode != DispatchSync {
		t.Errorf("unexpected channel/mode: %s %s", cfg.Feed.Channel, cfg.Dispatch.Mode)
	}
	if len(cfg.Defaulted) != 3 {
		t.Errorf("expected three defaulted keys, got %v", cfg.Defaulted)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(WebsocketURLEnv, "ws://localhost:9000/ws")
	t.Setenv(RedisURLEnv, "redis://cache:6379/1")
	t.Setenv(KafkaBrokersEnv, "k1:9092, k2:9092")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Feed.URL != "ws://localhost:9000/ws" {
		t.Errorf("feed url not overridden: %s", cfg.Feed.URL)
	}
	if cfg.Sinks.MongoDB.URL != DefaultMongoDBURL {
		t.Errorf("mongodb url should stay default: %s", cfg.Sinks.MongoDB.URL)
	}
	if cfg.Sinks.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("redis url not overridden: %s", cfg.Sinks.Redis.URL)
	}
	if len(cfg.Sinks.Kafka.Brokers) != 2 || cfg.Sinks.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Sinks.Kafka.Brokers)
	}
	if len(cfg.Defaulted) != 1 || cfg.Defaulted[0] != MongoDBURLEnv {
		t.Errorf("unexpected defaulted keys: %v", cfg.Defaulted)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `app:
  name: "TestApp"
  version: "1.0"
feed:
  url: "ws://127.0.0.1:8080/ws/v5/public"
  instruments: ["ETH-USD-SWAP", "BTC-USDT-SWAP"]
  handshake_timeout: 3s
  reconnect:
    enabled: true
    min_backoff: 100ms
    max_backoff: 2s
sinks:
  mongodb:
    enabled: false
  kafka:
    enabled: true
    brokers: ["localhost:9092"]
dispatch:
  mode: buffered
  buffer: 8
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if len(cfg.Feed.Instruments) != 2 || cfg.Feed.Instruments[0] != "ETH-USD-SWAP" {
		t.Errorf("unexpected instruments: %v", cfg.Feed.Instruments)
	}
	if cfg.Feed.HandshakeTimeout != 3*time.Second || cfg.Feed.Reconnect.MinBackoff != 100*time.Millisecond {
		t.Errorf("durations not parsed: %v %v", cfg.Feed.HandshakeTimeout, cfg.Feed.Reconnect.MinBackoff)
	}
	if cfg.Feed.Channel != "books" {
		t.Errorf("default channel lost: %s", cfg.Feed.Channel)
	}
	if cfg.Sinks.MongoDB.Enabled || !cfg.Sinks.Redis.Enabled || !cfg.Sinks.Kafka.Enabled {
		t.Errorf("unexpected sink toggles: %+v", cfg.Sinks)
	}
	if cfg.Dispatch.Mode != DispatchBuffered || cfg.Dispatch.Buffer != 8 {
		t.Errorf("unexpected dispatch: %+v", cfg.Dispatch)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"http feed":      "feed:\n  url: \"https://example.com/ws\"\n",
		"no instruments": "feed:\n  instruments: []\n",
		"no sinks":       "sinks:\n  mongodb:\n    enabled: false\n  redis:\n    enabled: false\n",
		"kafka brokers":  "sinks:\n  kafka:\n    enabled: true\n",
		"bad mode":       "dispatch:\n  mode: parallel\n",
		"bad bucket":     "sinks:\n  s3:\n    enabled: true\n    bucket: \"Bad..Bucket\"\n    region: \"us-east-1\"\n",
		"bad backoff":    "feed:\n  reconnect:\n    enabled: true\n    min_backoff: 5s\n    max_backoff: 1s\n",
		"broken yaml":    "feed: [\n",
		"zero errors":    "feed:\n  max_consecutive_errors: 0\n",
		"errors limit":   "feed:\n  max_consecutive_errors: 1000\n",
	}
	for name, content := range cases {
		clearEnv(t)
		if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfigMaxConsecutiveErrorsBound(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeTempConfig(t, "feed:\n  max_consecutive_errors: 999\n"))
	if err != nil {
		t.Fatalf("999 should be accepted: %v", err)
	}
	if cfg.Feed.MaxConsecutiveErrors != 999 {
		t.Fatalf("unexpected value %d", cfg.Feed.MaxConsecutiveErrors)
	}
}

func TestLoadConfigInvalidEnvURL(t *testing.T) {
	clearEnv(t)
	t.Setenv(WebsocketURLEnv, "://not a url")

	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for malformed websocket url")
	}
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := ResolvePath(base); got != base {
		t.Errorf("development should keep base path, got %s", got)
	}
	t.Setenv(appEnvVar, "prod")
	if got := ResolvePath(base); got != prod {
		t.Errorf("expected %s, got %s", prod, got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
