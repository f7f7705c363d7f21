package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/JonMunkholm/cityingest/internal/sentinel"
)

const commitTimeout = 10 * time.Second

// KafkaConfig locates the topic and consumer group.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Group    string
	ClientID string
}

func (c KafkaConfig) validate(needGroup bool) error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("no kafka brokers configured"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("no kafka topic configured"))
	}
	if needGroup && c.Group == "" {
		errs = append(errs, errors.New("no kafka consumer group configured"))
	}
	return errors.Join(errs...)
}

func (c KafkaConfig) baseOpts() []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(c.Brokers...)}
	if c.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.ClientID))
	}
	return opts
}

// KafkaPublisher produces one record per message, keyed by correlation id so
// redeliveries of the same batch land on the same partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	codec  Codec
	logger *slog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects a producer to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, codec Codec, opts ...Option) (*KafkaPublisher, error) {
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	if codec == nil {
		codec = JSON
	}
	client, err := kgo.NewClient(append(cfg.baseOpts(),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic, codec: codec, logger: applyOptions(opts).logger}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg TransformMessage) error {
	if err := msg.CheckPublishable(); err != nil {
		return err
	}
	body, err := p.codec.Encode(msg)
	if err != nil {
		return &sentinel.TransportError{Op: "publish", Err: err}
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(msg.CorrelationID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: HeaderContentType, Value: []byte(p.codec.ContentType())},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return &sentinel.TransportError{Op: "publish", Err: err}
	}

	p.logger.Debug("published batch",
		"correlation_id", msg.CorrelationID,
		"topic", p.topic,
		"records", len(msg.ValidCities),
	)
	return nil
}

// Health pings the brokers.
func (p *KafkaPublisher) Health(ctx context.Context) error { return p.client.Ping(ctx) }

func (p *KafkaPublisher) Close() { p.client.Close() }

// KafkaConsumer reads from a consumer group with auto-commit disabled.
// Offsets are committed only after the handler returns, so a crash or a
// shutdown in the middle of a handler leaves the record to be redelivered.
type KafkaConsumer struct {
	client *kgo.Client
	logger *slog.Logger
}

var _ Consumer = (*KafkaConsumer)(nil)

// NewKafkaConsumer joins cfg.Group on cfg.Topic.
func NewKafkaConsumer(cfg KafkaConfig, opts ...Option) (*KafkaConsumer, error) {
	if err := cfg.validate(true); err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(append(cfg.baseOpts(),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &KafkaConsumer{client: client, logger: applyOptions(opts).logger}, nil
}

// Run polls until ctx is cancelled. Handler errors are logged and the record
// is committed; a poisoned batch must not block its partition. Only records
// whose handler completed before cancellation are committed.
func (c *KafkaConsumer) Run(ctx context.Context, h Handler) error {
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("kafka fetch failed",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var handled []*kgo.Record
		iter := fetches.RecordIter()
		for !iter.Done() {
			rec := iter.Next()
			c.handle(ctx, rec, h)
			if ctx.Err() != nil {
				break
			}
			handled = append(handled, rec)
		}

		if len(handled) > 0 {
			if err := c.commit(handled); err != nil {
				c.logger.Error("kafka commit failed", "records", len(handled), "error", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, rec *kgo.Record, h Handler) {
	msg, err := decodeRecord(rec)
	if err != nil {
		c.logger.Error("dropping undecodable record",
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
		return
	}
	if err := h(ctx, msg); err != nil {
		c.logger.Error("message handler failed",
			"correlation_id", msg.CorrelationID,
			"partition", rec.Partition,
			"offset", rec.Offset,
			"error", err,
		)
	}
}

// commit uses its own deadline so offsets for finished work are still
// recorded while the run context is being torn down.
func (c *KafkaConsumer) commit(recs []*kgo.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := c.client.CommitRecords(ctx, recs...); err != nil {
		return &sentinel.TransportError{Op: "commit", Err: err}
	}
	return nil
}

func decodeRecord(rec *kgo.Record) (TransformMessage, error) {
	var ct string
	for _, h := range rec.Headers {
		if h.Key == HeaderContentType {
			ct = string(h.Value)
		}
	}
	codec, err := CodecForContentType(ct)
	if err != nil {
		return TransformMessage{}, err
	}
	var msg TransformMessage
	if err := codec.Decode(rec.Value, &msg); err != nil {
		return TransformMessage{}, fmt.Errorf("decode %s record: %w", codec.ContentType(), err)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = string(rec.Key)
	}
	return msg, nil
}

// EnsureTopic creates cfg.Topic if it does not exist.
func EnsureTopic(ctx context.Context, cfg KafkaConfig, partitions int32, replication int16) error {
	if err := cfg.validate(false); err != nil {
		return err
	}
	client, err := kgo.NewClient(cfg.baseOpts()...)
	if err != nil {
		return fmt.Errorf("create kafka admin client: %w", err)
	}
	defer client.Close()

	_, err = kadm.NewClient(client).CreateTopic(ctx, partitions, replication, nil, cfg.Topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return &sentinel.TransportError{Op: "create_topic", Err: err}
	}
	return nil
}
