package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/tsnstream/internal/config"
	"firestige.xyz/tsnstream/internal/stream"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes notifications to a Kafka topic. The message key is
// "<object>.<id>" and the writer hashes keys onto partitions, so one
// object's changes keep their order.
type KafkaSink struct {
	writer  MessageWriter
	node    string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	published atomic.Int64
	failed    atomic.Int64
}

// NewKafkaSink wraps an existing writer.
func NewKafkaSink(w MessageWriter, node string) *KafkaSink {
	return &KafkaSink{
		writer:  w,
		node:    node,
		timeout: 5 * time.Second,
		logger:  slog.Default().With("component", "kafka"),
		now:     time.Now,
	}
}

// OpenKafka builds a writer from cfg. kafka-go connects lazily, so an
// unreachable broker shows up as failed writes rather than here.
func OpenKafka(cfg config.KafkaConfig, node string) (*KafkaSink, error) {
	batchTimeout, err := time.ParseDuration(cfg.BatchTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid batch timeout: %w", err)
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: batchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	sink := NewKafkaSink(kafka.NewWriter(writerConfig), node)
	sink.logger.Info("kafka sink ready",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", batchTimeout,
		"compression", cfg.Compression,
	)
	return sink, nil
}

// Key returns the message key of a notification.
func (s *KafkaSink) Key(n stream.Notification) string {
	return fmt.Sprintf("%s.%d", n.Object, n.ID)
}

// Handle writes one notification. It blocks until the batch carrying it is
// acknowledged or the write times out.
func (s *KafkaSink) Handle(n stream.Notification) error {
	at := s.now()
	value, err := encode(s.node, n, at)
	if err != nil {
		s.failed.Add(1)
		return fmt.Errorf("serialize notification failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(s.Key(n)),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "node", Value: []byte(s.node)},
			{Key: "change", Value: []byte(n.Change.String())},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.published.Add(1)
	return nil
}

// Published returns the number of messages written and failed.
func (s *KafkaSink) Published() (ok, failed int64) {
	return s.published.Load(), s.failed.Load()
}

// Close flushes pending batches.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
