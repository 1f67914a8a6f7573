package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerTopic = "event-topic"

// KafkaBus writes every event to one Kafka topic, keyed by event key, and reads it back in a
// consumer group. The event's own topic travels in a header. Offsets are committed only after
// the handler succeeds.
type KafkaBus struct {
	writer  *kafka.Writer
	reader  *kafka.Reader
	backoff time.Duration
	logger  *zap.Logger
}

// NewKafkaBus creates a writer and a group reader for topic
func NewKafkaBus(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		reader:  kafka.NewReader(readerConfig(brokers, topic, groupID)),
		backoff: 2 * time.Second,
		logger:  logger,
	}
}

// readerConfig returns a fetch as soon as one event is available; the topic carries
// occasional small events.
func readerConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
}

// Publish writes msg. Messages with the same key land on the same partition.
func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: []kafka.Header{{Key: headerTopic, Value: []byte(msg.Topic)}},
		Time:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Subscribe reads until ctx is done. A failing message is retried in place so that its
// offset is not committed before it has been handled.
func (b *KafkaBus) Subscribe(ctx context.Context, h Handler) error {
	for {
		m, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("Kafka read error", zap.Error(err))
			if !sleep(ctx, b.backoff) {
				return nil
			}
			continue
		}

		if !b.handle(ctx, h, m) {
			return nil
		}

		if err := b.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			b.logger.Warn("Kafka commit error", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handle retries until the handler succeeds or rejects the message as malformed.
// It returns false when ctx ends first.
func (b *KafkaBus) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	msg := Message{Topic: topicHeader(m), Key: string(m.Key), Payload: m.Value}

	for attempt := 1; ; attempt++ {
		err := h.Handle(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrMalformed) {
			b.logger.Error("Dropping malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
			return true
		}

		b.logger.Warn("Handler error, retrying",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !sleep(ctx, b.backoff) {
			return false
		}
	}
}

func topicHeader(m kafka.Message) string {
	for _, header := range m.Headers {
		if header.Key == headerTopic {
			return string(header.Value)
		}
	}
	return m.Topic
}

// Close flushes the writer and leaves the consumer group
func (b *KafkaBus) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
