package transport

import (
	"time"

	"marketplace/internal/domain"
)

// UserProfile represents user profile data
type UserProfile struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      domain.Role `json:"role"`
}

func newUserProfile(u *domain.User) UserProfile {
	return UserProfile{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// ProductResponse is the public view of a product. Prices are decimal strings.
type ProductResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       string    `json:"price"`
	Amount      int       `json:"amount"`
	Active      bool      `json:"active"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProductResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID.String(),
		OwnerID:     p.OwnerID.String(),
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Amount:      p.Amount,
		Active:      p.Active,
		PhotoURL:    p.PhotoURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ProductPage is one page of a product listing
type ProductPage struct {
	Items    []ProductResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// OrderResponse is the public view of an order
type OrderResponse struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	ProductIDs []string           `json:"product_ids"`
	Address    string             `json:"address"`
	Status     domain.OrderStatus `json:"status"`
	Total      *string            `json:"total,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	ids := make([]string, len(o.ProductIDs))
	for i, id := range o.ProductIDs {
		ids[i] = id.String()
	}

	resp := OrderResponse{
		ID:         o.ID.String(),
		OwnerID:    o.OwnerID.String(),
		ProductIDs: ids,
		Address:    o.Address,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	if o.Total != nil {
		total := o.Total.StringFixed(2)
		resp.Total = &total
	}
	return resp
}

func newOrderResponses(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i, o := range orders {
		out[i] = newOrderResponse(o)
	}
	return out
}
