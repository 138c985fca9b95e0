package kafka

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config of the kafka cluster
type Config struct {
	UseTLS  bool         `mapstructure:"use_tls"`
	Brokers []string     `mapstructure:"brokers"`
	Reader  ReaderConfig `mapstructure:"reader"`
	Writer  WriterConfig `mapstructure:"writer"`
}

// ReaderConfig durations are expressed in milliseconds
type ReaderConfig struct {
	GroupID        string `mapstructure:"group_id"`
	QueueCapacity  int    `mapstructure:"queue_capacity"`
	MaxWait        int    `mapstructure:"max_wait"`
	MinBytes       int    `mapstructure:"min_bytes"`
	MaxBytes       int    `mapstructure:"max_bytes"`
	ReadBackoffMin int    `mapstructure:"read_backoff_min"`
	ReadBackoffMax int    `mapstructure:"read_backoff_max"`
}

// WriterConfig durations are expressed in milliseconds
type WriterConfig struct {
	BatchSize    int  `mapstructure:"batch_size"`
	BatchBytes   int  `mapstructure:"batch_bytes"`
	BatchTimeout int  `mapstructure:"batch_timeout"`
	Async        bool `mapstructure:"async"`
}

// KafkaConsumer reads messages with explicit commits
type KafkaConsumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer publishes messages on a single topic
type KafkaProducer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func tlsConfig(useTLS bool) *tls.Config {
	if !useTLS {
		return nil
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

// NewKafkaConsumer creates a consumer group reader for the given topic
func NewKafkaConsumer(cfg ReaderConfig, brokers []string, useTLS bool, topic string) KafkaConsumer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS:       tlsConfig(useTLS),
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		Dialer:         dialer,
		QueueCapacity:  cfg.QueueCapacity,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        time.Duration(cfg.MaxWait) * time.Millisecond,
		ReadBackoffMin: time.Duration(cfg.ReadBackoffMin) * time.Millisecond,
		ReadBackoffMax: time.Duration(cfg.ReadBackoffMax) * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
	})
}

// NewKafkaProducer creates a writer publishing on topic
func NewKafkaProducer(cfg WriterConfig, brokers []string, useTLS bool, topic string) KafkaProducer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: time.Duration(cfg.BatchTimeout) * time.Millisecond,
		Async:        cfg.Async,
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			TLS: tlsConfig(useTLS),
		},
	}
}
