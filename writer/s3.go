package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"pythagoras/config"
	"pythagoras/logger"
	"pythagoras/models"
)

const s3SinkName = "s3"

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink stores each snapshot as one JSON object, partitioned by instrument
// and UTC day.
type S3Sink struct {
	client objectPutter
	bucket string
	prefix string
	newID  func() string
	log    *logger.Entry
}

// ConnectS3 loads AWS configuration, using static credentials when both keys
// are configured, and checks that the bucket is reachable.
func ConnectS3(ctx context.Context, cfg *config.Config, log *logger.Log) (Sink, error) {
	sc := cfg.Sinks.S3

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.Region)}
	if sc.AccessKeyID != "" && sc.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.PathStyle
	})
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(sc.Bucket)}); err != nil {
		return nil, fmt.Errorf("s3 bucket %s: %w", sc.Bucket, err)
	}

	sink := newS3Sink(client, sc.Bucket, sc.Prefix, log)
	sink.log.WithFields(logger.Fields{
		"bucket": sc.Bucket,
		"region": sc.Region,
	}).Info("s3 sink ready")
	return sink, nil
}

func newS3Sink(client objectPutter, bucket, prefix string, log *logger.Log) *S3Sink {
	return &S3Sink{
		client: client,
		bucket: bucket,
		prefix: prefix,
		newID:  uuid.NewString,
		log:    log.WithComponent("s3_sink"),
	}
}

func (s *S3Sink) Name() string { return s3SinkName }

func (s *S3Sink) Write(ctx context.Context, msg models.PushMessage) error {
	push, ok := msg.(models.OrderbookPush)
	if !ok {
		return fmt.Errorf("s3 sink: unsupported message kind %s", msg.Kind())
	}

	snap := push.First()
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := s.objectKey(push.Arg.InstrumentID, snap.Timestamp)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.log.WithFields(logger.Fields{"key": key, "bytes": len(body)}).Debug("snapshot uploaded")
	return nil
}

func (s *S3Sink) Close(context.Context) error { return nil }

// objectKey builds {prefix}/{instId}/{yyyy}/{mm}/{dd}/{ts}-{id}.json. A
// timestamp that is not epoch millis is replaced by the current time.
func (s *S3Sink) objectKey(instrumentID, ts string) string {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		ms = time.Now().UnixMilli()
	}
	t := time.UnixMilli(ms).UTC()
	return path.Join(
		s.prefix,
		instrumentID,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%d-%s.json", ms, s.newID()),
	)
}
