package events

import (
	"context"
	"fmt"

	"marketplace/internal/domain"
	"marketplace/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProductDeletedHandler is the order-side reaction to a catalog deletion
type ProductDeletedHandler interface {
	HandleProductDeleted(ctx context.Context, productID uuid.UUID) error
}

// NewProductDeletedConsumer builds the handler that cascades product deletions into open orders
func NewProductDeletedConsumer(orders ProductDeletedHandler, logger *zap.Logger) Handler {
	return JSONHandler[domain.ProductDeleted]{
		HandleFunc: func(ctx context.Context, ev domain.ProductDeleted) error {
			if ev.ProductID == uuid.Nil {
				return fmt.Errorf("%w: product id is missing", ErrMalformed)
			}
			if err := orders.HandleProductDeleted(ctx, ev.ProductID); err != nil {
				return err
			}
			logger.Debug("Product deletion handled",
				zap.String("event_id", ev.EventID.String()),
				zap.String("product_id", ev.ProductID.String()),
			)
			return nil
		},
	}
}

// Instrument counts handled deliveries per topic and result
func Instrument(h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		err := h.Handle(ctx, msg)
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.EventsConsumed.WithLabelValues(msg.Topic, result).Inc()
		return err
	})
}
