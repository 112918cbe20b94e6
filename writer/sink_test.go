package writer

import (
	"context"
	"testing"
	"time"

	"pythagoras/config"
	"pythagoras/logger"
)

func TestRegistryOrder(t *testing.T) {
	want := []string{"mongodb", "redis", "kafka", "s3"}
	if len(registry) != len(want) {
		t.Fatalf("expected %d registrations, got %d", len(want), len(registry))
	}
	for i, name := range want {
		if registry[i].name != name {
			t.Fatalf("registration %d = %s, want %s", i, registry[i].name, name)
		}
	}
}

func TestOpenNoSinks(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.MongoDB.Enabled = false
	cfg.Sinks.Redis.Enabled = false

	sinks, err := Open(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(sinks) != 0 {
		t.Fatalf("expected no sinks, got %d", len(sinks))
	}
}

func TestOpenStartupErrors(t *testing.T) {
	cases := map[string]func(cfg *config.Config){
		"mongodb scheme": func(cfg *config.Config) {
			cfg.Sinks.MongoDB.URL = "http://localhost:27017"
		},
		"redis scheme": func(cfg *config.Config) {
			cfg.Sinks.MongoDB.Enabled = false
			cfg.Sinks.Redis.URL = "http://localhost:6379"
		},
		"kafka brokers": func(cfg *config.Config) {
			cfg.Sinks.MongoDB.Enabled = false
			cfg.Sinks.Redis.Enabled = false
			cfg.Sinks.Kafka.Enabled = true
		},
	}
	for name, mutate := range cases {
		cfg := config.Default()
		mutate(cfg)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		sinks, err := Open(ctx, cfg, logger.Discard())
		cancel()
		if err == nil {
			t.Errorf("%s: expected startup error, got %d sinks", name, len(sinks))
		}
	}
}

func TestCloseAllReverseOrder(t *testing.T) {
	var order []string
	sinks := []Sink{
		&closeOrderSink{name: "first", order: &order},
		&closeOrderSink{name: "second", order: &order},
	}
	CloseAll(context.Background(), sinks, logger.Discard())
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected close order %v", order)
	}
}

type closeOrderSink struct {
	recordingSink
	name  string
	order *[]string
}

func (s *closeOrderSink) Name() string { return s.name }

func (s *closeOrderSink) Close(context.Context) error {
	*s.order = append(*s.order, s.name)
	return nil
}
