package writer

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"pythagoras/config"
	"pythagoras/logger"
	"pythagoras/models"
)

const mongoSinkName = "mongodb"

type collectionInserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoSink appends one document per received snapshot to a collection named
// after the instrument.
type MongoSink struct {
	client     *mongo.Client
	collection func(name string) collectionInserter
	timeout    time.Duration
	log        *logger.Entry
}

// ConnectMongo dials the document store and pings the primary.
func ConnectMongo(ctx context.Context, cfg *config.Config, log *logger.Log) (Sink, error) {
	mc := cfg.Sinks.MongoDB

	connectCtx, cancel := withTimeout(ctx, mc.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(mc.URL).SetAppName(cfg.App.Name))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	db := client.Database(mc.Database)
	sink := newMongoSink(client, func(name string) collectionInserter { return db.Collection(name) }, mc.Timeout, log)
	sink.log.WithFields(logger.Fields{"database": mc.Database}).Info("mongodb sink ready")
	return sink, nil
}

func newMongoSink(client *mongo.Client, collection func(string) collectionInserter, timeout time.Duration, log *logger.Log) *MongoSink {
	return &MongoSink{
		client:     client,
		collection: collection,
		timeout:    timeout,
		log:        log.WithComponent("mongodb_sink"),
	}
}

func (s *MongoSink) Name() string { return mongoSinkName }

func (s *MongoSink) Write(ctx context.Context, msg models.PushMessage) error {
	push, ok := msg.(models.OrderbookPush)
	if !ok {
		return fmt.Errorf("mongodb sink: unsupported message kind %s", msg.Kind())
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	instrument := push.Arg.InstrumentID
	if _, err := s.collection(instrument).InsertOne(ctx, snapshotDocument(push.First())); err != nil {
		return fmt.Errorf("insert into %s: %w", instrument, err)
	}
	s.log.WithFields(logger.Fields{"collection": instrument}).Debug("snapshot inserted")
	return nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// snapshotDocument mirrors the wire snapshot: levels stay arrays of four
// strings.
func snapshotDocument(snap models.OrderbookSnapshot) bson.D {
	return bson.D{
		{Key: "asks", Value: levelArrays(snap.Asks)},
		{Key: "bids", Value: levelArrays(snap.Bids)},
		{Key: "ts", Value: snap.Timestamp},
		{Key: "checksum", Value: snap.Checksum},
	}
}

func levelArrays(levels []models.OrderLevel) [][]string {
	out := make([][]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, l.Strings())
	}
	return out
}
