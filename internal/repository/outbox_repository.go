package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace/internal/domain"
)

// OutboxRepository stores events that must be published after their transaction commits
type OutboxRepository interface {
	Insert(ctx context.Context, event *domain.OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
}

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new instance of OutboxRepository
func NewOutboxRepository(db *sql.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Insert appends an event. Call it inside the transaction that makes the change.
func (r *outboxRepository) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	query := `
		INSERT INTO outbox (event_id, topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := executor(ctx, r.db).QueryRowContext(
		ctx,
		query,
		event.EventID,
		event.Topic,
		event.Key,
		[]byte(event.Payload),
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// FetchPending returns unsent events in insertion order
func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, event_id, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
	`

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending outbox events: %w", err)
	}
	defer rows.Close()

	events := []*domain.OutboxEvent{}
	for rows.Next() {
		var (
			event   domain.OutboxEvent
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&event.ID, &event.EventID, &event.Topic, &event.Key, &payload, &event.CreatedAt, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		event.Payload = payload
		if sentAt.Valid {
			event.SentAt = &sentAt.Time
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}

	return events, nil
}

// MarkSent records that the event reached the broker
func (r *outboxRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	_, err := executor(ctx, r.db).ExecContext(ctx, `UPDATE outbox SET sent_at = $2 WHERE id = $1`, id, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}
