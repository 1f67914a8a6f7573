package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// allowedTransitions lists the status changes reachable through an order update.
// COMPLETED is only reachable by paying for the order.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusCreated: {
		OrderStatusInProgress: true,
		OrderStatusCancelled:  true,
	},
	OrderStatusInProgress: {
		OrderStatusCancelled: true,
	},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsFinal reports whether the status freezes the order
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an update may move an order from s to next
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return allowedTransitions[s][next]
}

// Order is a set of products owned by a user. An IN_PROGRESS order is that user's cart.
type Order struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	OwnerID    uuid.UUID        `json:"owner_id" db:"owner_id"`
	ProductIDs []uuid.UUID      `json:"product_ids" db:"-"`
	Address    string           `json:"address" db:"address"`
	Status     OrderStatus      `json:"status" db:"status"`
	Total      *decimal.Decimal `json:"total,omitempty" db:"total"`
	Version    int64            `json:"version" db:"version"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}

// IsMutable reports whether products and fields of the order may still change
func (o *Order) IsMutable() bool {
	return !o.Status.IsFinal()
}

// HasProduct reports whether the product is part of the order
func (o *Order) HasProduct(productID uuid.UUID) bool {
	for _, id := range o.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// AddProduct adds the product once. It returns false if it was already present.
func (o *Order) AddProduct(productID uuid.UUID) bool {
	if o.HasProduct(productID) {
		return false
	}
	o.ProductIDs = append(o.ProductIDs, productID)
	return true
}

// RemoveProduct drops the product. It returns false if it was not present.
func (o *Order) RemoveProduct(productID uuid.UUID) bool {
	for i, id := range o.ProductIDs {
		if id == productID {
			o.ProductIDs = append(o.ProductIDs[:i], o.ProductIDs[i+1:]...)
			return true
		}
	}
	return false
}

// IsEmpty reports whether the order holds no products
func (o *Order) IsEmpty() bool {
	return len(o.ProductIDs) == 0
}
