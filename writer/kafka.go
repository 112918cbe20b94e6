package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"pythagoras/config"
	"pythagoras/logger"
	"pythagoras/models"
)

const kafkaSinkName = "kafka"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every push message, keyed by instrument so that one
// instrument always lands on the same partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Entry
}

// ConnectKafka checks that at least one broker answers and builds a writer
// for the configured topic.
func ConnectKafka(ctx context.Context, cfg *config.Config, log *logger.Log) (Sink, error) {
	kc := cfg.Sinks.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	if err := probeBrokers(ctx, kc.Brokers); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	sink := newKafkaSink(w, kc.Topic, log)
	sink.log.WithFields(logger.Fields{
		"brokers": kc.Brokers,
		"topic":   kc.Topic,
	}).Info("kafka sink ready")
	return sink, nil
}

func probeBrokers(ctx context.Context, brokers []string) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}
	var errs []error
	for _, broker := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

func newKafkaSink(w messageWriter, topic string, log *logger.Log) *KafkaSink {
	return &KafkaSink{
		writer: w,
		topic:  topic,
		log:    log.WithComponent("kafka_sink"),
	}
}

func (s *KafkaSink) Name() string { return kafkaSinkName }

func (s *KafkaSink) Write(ctx context.Context, msg models.PushMessage) error {
	data, err := models.EncodePush(msg)
	if err != nil {
		return err
	}
	instrument := msg.Subscription().InstrumentID
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(instrument),
		Value: data,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("publish %s: %w", instrument, err)
	}
	s.log.WithFields(logger.Fields{"instrument": instrument, "bytes": len(data)}).Debug("message published")
	return nil
}

func (s *KafkaSink) Close(context.Context) error {
	return s.writer.Close()
}
