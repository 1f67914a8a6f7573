package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdempotencyStore remembers the outcome of keyed requests
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Unlock(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// PaymentService pays for carts, deduplicating retries that carry the same idempotency key
type PaymentService struct {
	orders OrderService
	store  IdempotencyStore
	logger *zap.Logger
}

// NewPaymentService creates a PaymentService. A nil store disables deduplication.
func NewPaymentService(orders OrderService, store IdempotencyStore, logger *zap.Logger) *PaymentService {
	return &PaymentService{orders: orders, store: store, logger: logger}
}

// Pay pays for the actor's cart. When key was already used successfully by the same actor the
// order paid then is returned and nothing is charged again. A request still running with the
// same key fails with domain.ErrRequestInProgress.
func (p *PaymentService) Pay(ctx context.Context, actor domain.Actor, key, address string) (*domain.Order, error) {
	if key == "" || p.store == nil {
		return p.orders.PayForOrder(ctx, actor, address)
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	scope := "pay:" + actor.ID.String()

	if orderID, ok, err := p.store.Recall(ctx, scope, key); err != nil {
		return nil, fmt.Errorf("failed to recall idempotency key: %w", err)
	} else if ok {
		return p.replay(ctx, actor, orderID)
	}

	locked, err := p.store.TryLock(ctx, scope, key)
	if err != nil {
		return nil, fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	if !locked {
		return nil, domain.ErrRequestInProgress
	}

	order, err := p.orders.PayForOrder(ctx, actor, address)
	if err != nil {
		// a failed payment may be retried with the same key
		if unlockErr := p.store.Unlock(ctx, scope, key); unlockErr != nil {
			p.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(unlockErr))
		}
		return nil, err
	}

	if err := p.store.Remember(ctx, scope, key, order.ID.String()); err != nil {
		p.logger.Warn("Failed to remember idempotency key", zap.String("key", key), zap.Error(err))
	}
	return order, nil
}

func (p *PaymentService) replay(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("corrupt idempotency record %q: %w", orderID, err)
	}

	order, err := p.orders.FindOrder(ctx, actor, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: the order paid with this key no longer exists", domain.ErrOrderNotFound)
		}
		return nil, err
	}

	p.logger.Debug("Replayed payment", zap.String("order_id", order.ID.String()))
	return order, nil
}
