package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/sms-forwarder/internal/config"
	"github.com/segmentio/kafka-go"
)

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

// NewConsumer reads cfg.Topic as part of consumer group cfg.GroupID.
func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: brokers, topic and group_id are required")
	}

	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1 << 10 // 1KB
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10MB
	}
	ci := time.Duration(cfg.CommitInterval) * time.Millisecond
	if ci <= 0 {
		ci = time.Second
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: ci,
		MaxWait:        50 * time.Millisecond,
	})

	return &Consumer{r: r}, nil
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
