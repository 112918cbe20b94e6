package writer

import (
	"context"
	"fmt"
	"time"

	"pythagoras/config"
	"pythagoras/logger"
	"pythagoras/models"
)

// Sink persists push messages to one backend. Write must be safe to call
// repeatedly from the dispatch loop; a failed write affects only its sink.
type Sink interface {
	Name() string
	Write(ctx context.Context, msg models.PushMessage) error
	Close(ctx context.Context) error
}

// Connector opens one sink from the application configuration.
type Connector func(ctx context.Context, cfg *config.Config, log *logger.Log) (Sink, error)

type registration struct {
	name    string
	enabled func(cfg *config.Config) bool
	connect Connector
}

// registry fixes the order sinks are opened in and written to.
var registry = []registration{
	{name: mongoSinkName, enabled: func(cfg *config.Config) bool { return cfg.Sinks.MongoDB.Enabled }, connect: ConnectMongo},
	{name: redisSinkName, enabled: func(cfg *config.Config) bool { return cfg.Sinks.Redis.Enabled }, connect: ConnectRedis},
	{name: kafkaSinkName, enabled: func(cfg *config.Config) bool { return cfg.Sinks.Kafka.Enabled }, connect: ConnectKafka},
	{name: s3SinkName, enabled: func(cfg *config.Config) bool { return cfg.Sinks.S3.Enabled }, connect: ConnectS3},
}

// Open connects every enabled sink in registration order. The first failure
// closes the sinks opened so far and is returned.
func Open(ctx context.Context, cfg *config.Config, log *logger.Log) ([]Sink, error) {
	var sinks []Sink
	for _, r := range registry {
		if !r.enabled(cfg) {
			continue
		}
		sink, err := r.connect(ctx, cfg, log)
		if err != nil {
			CloseAll(ctx, sinks, log)
			return nil, fmt.Errorf("connect %s sink: %w", r.name, err)
		}
		log.WithComponent("writer").WithFields(logger.Fields{"sink": r.name}).Info("sink connected")
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// CloseAll closes sinks in reverse order, logging failures.
func CloseAll(ctx context.Context, sinks []Sink, log *logger.Log) {
	for i := len(sinks) - 1; i >= 0; i-- {
		if err := sinks[i].Close(ctx); err != nil {
			log.WithComponent("writer").WithFields(logger.Fields{"sink": sinks[i].Name()}).WithError(err).Warn("failed to close sink")
		}
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
