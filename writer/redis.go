package writer

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pythagoras/config"
	"pythagoras/logger"
	"pythagoras/models"
)

const redisSinkName = "redis"

type hashSetter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisSink keeps one hash per instrument and side, keyed by price. Writing
// a level overwrites the previous value at that price.
type RedisSink struct {
	client hashSetter
	close  func() error
	prefix string
	log    *logger.Entry
}

// ConnectRedis parses a redis:// URL and pings the server.
func ConnectRedis(ctx context.Context, cfg *config.Config, log *logger.Log) (Sink, error) {
	rc := cfg.Sinks.Redis

	opts, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	sink := newRedisSink(client, client.Close, rc.KeyPrefix, log)
	sink.log.WithFields(logger.Fields{"addr": opts.Addr, "db": opts.DB}).Info("redis sink ready")
	return sink, nil
}

func newRedisSink(client hashSetter, closeFn func() error, prefix string, log *logger.Log) *RedisSink {
	return &RedisSink{
		client: client,
		close:  closeFn,
		prefix: prefix,
		log:    log.WithComponent("redis_sink"),
	}
}

func (s *RedisSink) Name() string { return redisSinkName }

// Write issues one HSET per non-empty side. Both sides are attempted even if
// the first fails.
func (s *RedisSink) Write(ctx context.Context, msg models.PushMessage) error {
	push, ok := msg.(models.OrderbookPush)
	if !ok {
		return fmt.Errorf("redis sink: unsupported message kind %s", msg.Kind())
	}

	snap := push.First()
	var errs []error
	for _, side := range models.Sides {
		levels := snap.Levels(side)
		if len(levels) == 0 {
			continue
		}
		key := s.Key(push.Arg.InstrumentID, side)
		values := make([]interface{}, 0, 2*len(levels))
		for _, l := range levels {
			values = append(values, l.Price, LevelValue(l))
		}
		if err := s.client.HSet(ctx, key, values...).Err(); err != nil {
			errs = append(errs, fmt.Errorf("hset %s: %w", key, err))
			continue
		}
		s.log.WithFields(logger.Fields{"key": key, "levels": len(levels)}).Debug("levels written")
	}
	return errors.Join(errs...)
}

func (s *RedisSink) Close(context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Key returns the hash key for one instrument side, e.g.
// orderbook:BTC-USD-SWAP:asks.
func (s *RedisSink) Key(instrumentID string, side models.Side) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, instrumentID, side)
}

// LevelValue renders the hash value "{size},{deprecated},{orderCount}".
func LevelValue(l models.OrderLevel) string {
	return l.Size + "," + l.Deprecated + "," + l.OrderCount
}
