package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TopicProductDeleted carries ProductDeleted events
const TopicProductDeleted = "product.deleted"

// ProductDeleted announces that a product left the catalog
type ProductDeleted struct {
	EventID    uuid.UUID `json:"event_id"`
	ProductID  uuid.UUID `json:"product_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OutboxEvent is an event persisted in the same transaction as the change that produced it
type OutboxEvent struct {
	ID        int64           `json:"id"`
	EventID   uuid.UUID       `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// NewProductDeletedEvent builds the outbox record announcing the deletion of productID
func NewProductDeletedEvent(productID uuid.UUID, now time.Time) (*OutboxEvent, error) {
	ev := ProductDeleted{
		EventID:    uuid.New(),
		ProductID:  productID,
		OccurredAt: now.UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		EventID:   ev.EventID,
		Topic:     TopicProductDeleted,
		Key:       productID.String(),
		Payload:   payload,
		CreatedAt: ev.OccurredAt,
	}, nil
}
