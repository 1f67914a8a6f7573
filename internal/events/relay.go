package events

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/repository"

	"go.uber.org/zap"
)

// Relay publishes committed outbox events and marks them sent. An event is published at
// least once: a crash between publish and mark resends it on the next pass.
type Relay struct {
	outbox    repository.OutboxRepository
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewRelay creates a Relay polling every interval for up to batchSize events
func NewRelay(outbox repository.OutboxRepository, publisher Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run polls until ctx is done
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Outbox relay pass failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch in insertion order and returns how many events were sent.
// It stops at the first publish failure so that later events never overtake earlier ones.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, event := range pending {
		msg := Message{Topic: event.Topic, Key: event.Key, Payload: event.Payload}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			metrics.OutboxPublished.WithLabelValues(event.Topic, "error").Inc()
			return sent, fmt.Errorf("failed to publish outbox event %d: %w", event.ID, err)
		}
		metrics.OutboxPublished.WithLabelValues(event.Topic, "ok").Inc()

		if err := r.outbox.MarkSent(ctx, event.ID, time.Now().UTC()); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		r.logger.Debug("Outbox events published", zap.Int("count", sent))
	}
	return sent, nil
}
