package transport

import (
	"net/http"
	"strings"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayRequest carries an optional delivery address that replaces the cart's one
type PayRequest struct {
	Address string `json:"address" validate:"max=500"`
}

// CreateOrderRequest lets an administrator open an order for a user
type CreateOrderRequest struct {
	OwnerID    string   `json:"owner_id" validate:"required,uuid"`
	Address    string   `json:"address" validate:"max=500"`
	ProductIDs []string `json:"product_ids" validate:"required,min=1,dive,uuid"`
}

// UpdateOrderRequest represents a partial order update
type UpdateOrderRequest struct {
	Address *string `json:"address" validate:"omitempty,max=500"`
	Status  *string `json:"status" validate:"omitempty,oneof=CREATED IN_PROGRESS COMPLETED CANCELLED"`
}

// OrderHandler handles HTTP requests for carts and orders
type OrderHandler struct {
	orderService service.OrderService
	payments     *service.PaymentService
	logger       *zap.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(orderService service.OrderService, payments *service.PaymentService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
		payments:     payments,
		logger:       logger,
	}
}

// RegisterRoutes registers the cart and order routes. Every route requires authentication.
func (h *OrderHandler) RegisterRoutes(r chi.Router, authMiddleware, adminMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.GetCart)
		r.Post("/products/{productID}", h.AddProduct)
		r.Delete("/products/{productID}", h.RemoveProduct)
		r.Post("/pay", h.Pay)
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Patch("/{id}", h.UpdateOrder)
		r.Delete("/{id}", h.DeleteOrder)
		r.With(adminMiddleware).Post("/", h.CreateOrder)
	})
}

// GetCart returns the caller's IN_PROGRESS order
func (h *OrderHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	cart, err := h.orderService.FindCart(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(cart))
}

// AddProduct puts a product in the caller's cart, opening one when needed
func (h *OrderHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	productID, ok := pathUUID(w, r, "productID")
	if !ok {
		return
	}

	cart, err := h.orderService.AddProductToOrder(r.Context(), actor, productID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(cart))
}

// RemoveProduct takes a product out of the cart. Emptying the cart deletes it and answers 204.
func (h *OrderHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	productID, ok := pathUUID(w, r, "productID")
	if !ok {
		return
	}

	cart, err := h.orderService.RemoveProductFromOrder(r.Context(), actor, productID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if cart == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(cart))
}

// Pay completes the caller's cart. Retries carrying the same Idempotency-Key header
// return the first result instead of paying twice.
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	var req PayRequest
	if r.ContentLength != 0 {
		if err := middleware.DecodeAndValidate(r, &req); err != nil {
			middleware.RespondWithDecodeError(w, err)
			return
		}
	}

	key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
	if len(key) > 255 {
		middleware.RespondWithError(w, http.StatusBadRequest, "idempotency key is too long")
		return
	}

	order, err := h.payments.Pay(r.Context(), actor, key, req.Address)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(order))
}

// ListOrders returns the caller's orders, or all orders for an administrator
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	orders, err := h.orderService.ListOrders(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponses(orders))
}

// GetOrder returns one order visible to the caller
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.orderService.FindOrder(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(order))
}

// UpdateOrder changes the address or status of an order
func (h *OrderHandler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateOrderRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	patch := service.OrderPatch{Address: req.Address}
	if req.Status != nil {
		status := domain.OrderStatus(*req.Status)
		patch.Status = &status
	}

	order, err := h.orderService.UpdateOrder(r.Context(), actor, id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newOrderResponse(order))
}

// DeleteOrder removes an order that is not final
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.orderService.DeleteOrder(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateOrder opens an order on behalf of a user
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	var req CreateOrderRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	input := service.CreateOrderInput{
		OwnerID:    uuid.MustParse(req.OwnerID),
		Address:    req.Address,
		ProductIDs: make([]uuid.UUID, len(req.ProductIDs)),
	}
	for i, id := range req.ProductIDs {
		input.ProductIDs[i] = uuid.MustParse(id)
	}

	order, err := h.orderService.CreateOrder(r.Context(), actor, input)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, newOrderResponse(order))
}
