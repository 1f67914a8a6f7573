package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a listing in the catalog
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OwnerID     uuid.UUID       `json:"owner_id" db:"owner_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Amount      int             `json:"amount" db:"amount"`
	Active      bool            `json:"active" db:"active"`
	PhotoURL    string          `json:"photo_url,omitempty" db:"photo_url"`
	Version     int64           `json:"version" db:"version"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// IsPurchasable reports whether the product has stock and is listed as active
func (p *Product) IsPurchasable() bool {
	return p.Amount > 0 && p.Active
}

// SetAmount changes the stock count. A product with no stock is never active.
func (p *Product) SetAmount(amount int) {
	p.Amount = amount
	if amount == 0 {
		p.Active = false
	}
}

// SetActive changes the active flag. Activating a product without stock is a no-op.
func (p *Product) SetActive(active bool) {
	p.Active = active && p.Amount > 0
}

// DecrementStock takes one unit out of stock. It refuses to go below zero.
func (p *Product) DecrementStock() error {
	if p.Amount <= 0 {
		return &ProductNotAvailableError{ProductID: p.ID}
	}
	p.SetAmount(p.Amount - 1)
	return nil
}
