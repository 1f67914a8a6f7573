package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/metrics"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// cascadeAttempts bounds retries of a single order cleanup that lost a version race
const cascadeAttempts = 3

// OrderPatch holds the order fields an update may change. Nil fields are left untouched.
type OrderPatch struct {
	Address *string
	Status  *domain.OrderStatus
}

// CreateOrderInput describes an order created explicitly by an administrator
type CreateOrderInput struct {
	OwnerID    uuid.UUID
	Address    string
	ProductIDs []uuid.UUID
}

// OrderService defines the interface for the order lifecycle
type OrderService interface {
	AddProductToOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error)
	RemoveProductFromOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error)
	PayForOrder(ctx context.Context, actor domain.Actor, address string) (*domain.Order, error)
	CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.Order, error)
	UpdateOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, patch OrderPatch) (*domain.Order, error)
	DeleteOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error
	FindOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error)
	FindCart(ctx context.Context, actor domain.Actor) (*domain.Order, error)
	ListOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error)
	HandleProductDeleted(ctx context.Context, productID uuid.UUID) error
}

type orderService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	tx          repository.Transactor
	logger      *zap.Logger
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	tx repository.Transactor,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		tx:          tx,
		logger:      logger,
	}
}

// AddProductToOrder puts a purchasable product into the actor's cart, opening one if needed.
// Adding a product that is already in the cart leaves the cart unchanged.
func (s *orderService) AddProductToOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		product, err := s.productRepo.FindByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := ValidateProduct(product); err != nil {
			return err
		}

		now := time.Now().UTC()

		order, err = s.orderRepo.FindByOwnerAndStatus(ctx, actor.ID, domain.OrderStatusInProgress)
		if errors.Is(err, domain.ErrOrderNotFound) {
			order = &domain.Order{
				ID:         uuid.New(),
				OwnerID:    actor.ID,
				ProductIDs: []uuid.UUID{productID},
				Status:     domain.OrderStatusInProgress,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			return s.orderRepo.Create(ctx, order)
		}
		if err != nil {
			return err
		}

		if !order.AddProduct(productID) {
			return nil
		}
		order.UpdatedAt = now
		return s.orderRepo.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	metrics.CartOperations.WithLabelValues("add").Inc()
	s.logger.Debug("Product added to cart",
		zap.String("order_id", order.ID.String()),
		zap.String("product_id", productID.String()),
	)
	return order, nil
}

// RemoveProductFromOrder takes a product out of the actor's cart. Removing an absent product
// is a no-op. When the last product goes the cart is deleted and a nil order is returned.
func (s *orderService) RemoveProductFromOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.orderRepo.FindByOwnerAndStatus(ctx, actor.ID, domain.OrderStatusInProgress)
		if err != nil {
			return err
		}

		if !cart.RemoveProduct(productID) {
			order = cart
			return nil
		}

		if cart.IsEmpty() {
			return s.orderRepo.Delete(ctx, cart.ID)
		}

		cart.UpdatedAt = time.Now().UTC()
		if err := s.orderRepo.Update(ctx, cart); err != nil {
			return err
		}
		order = cart
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CartOperations.WithLabelValues("remove").Inc()
	return order, nil
}

// PayForOrder completes the actor's cart. Every product must be purchasable; stock of each is
// decremented by one and the total is the sum of current prices. Products and order are written
// in one transaction and nothing changes if any step fails. A non-empty address replaces the stored one.
func (s *orderService) PayForOrder(ctx context.Context, actor domain.Actor, address string) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.orderRepo.FindByOwnerAndStatus(ctx, actor.ID, domain.OrderStatusInProgress)
		if err != nil {
			return err
		}

		if address = strings.TrimSpace(address); address != "" {
			cart.Address = address
		}
		if strings.TrimSpace(cart.Address) == "" {
			return domain.ErrAddressRequired
		}

		products, err := s.orderedProducts(ctx, cart.ProductIDs)
		if err != nil {
			return err
		}

		// Validate everything before touching any stock
		if err := ValidateAll(products); err != nil {
			return err
		}

		total := decimal.Zero
		for _, product := range products {
			if err := product.DecrementStock(); err != nil {
				return err
			}
			total = total.Add(product.Price)
		}

		now := time.Now().UTC()
		for _, product := range products {
			product.UpdatedAt = now
			if err := s.productRepo.Update(ctx, product); err != nil {
				return fmt.Errorf("failed to update stock of product %s: %w", product.ID, err)
			}
		}

		cart.Status = domain.OrderStatusCompleted
		cart.Total = &total
		cart.UpdatedAt = now
		if err := s.orderRepo.Update(ctx, cart); err != nil {
			return err
		}

		order = cart
		return nil
	})
	if err != nil {
		s.logger.Debug("Payment refused", zap.String("user_id", actor.ID.String()), zap.Error(err))
		return nil, err
	}

	metrics.OrdersPaid.Inc()
	s.logger.Info("Order paid",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", actor.ID.String()),
		zap.String("total", order.Total.StringFixed(2)),
	)
	return order, nil
}

// orderedProducts loads products in the order of ids. A product that no longer exists
// cannot be bought and is reported as not available.
func (s *orderService) orderedProducts(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	found, err := s.productRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*domain.Product, len(found))
	for _, product := range found {
		byID[product.ID] = product
	}

	products := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		product, ok := byID[id]
		if !ok {
			return nil, &domain.ProductNotAvailableError{ProductID: id}
		}
		products = append(products, product)
	}
	return products, nil
}

// CreateOrder lets an administrator open an order in status CREATED on behalf of a user
func (s *orderService) CreateOrder(ctx context.Context, actor domain.Actor, input CreateOrderInput) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, domain.ErrAccessDenied
	}
	if input.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:         uuid.New(),
		OwnerID:    input.OwnerID,
		ProductIDs: []uuid.UUID{},
		Address:    strings.TrimSpace(input.Address),
		Status:     domain.OrderStatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, id := range input.ProductIDs {
		order.AddProduct(id)
	}
	if order.IsEmpty() {
		return nil, fmt.Errorf("%w: an order needs at least one product", domain.ErrInvalidInput)
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		products, err := s.productRepo.FindByIDs(ctx, order.ProductIDs)
		if err != nil {
			return err
		}
		if len(products) != len(order.ProductIDs) {
			return domain.ErrProductNotFound
		}
		if err := ValidateAll(products); err != nil {
			return err
		}
		return s.orderRepo.Create(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("owner_id", order.OwnerID.String()),
		zap.String("created_by", actor.ID.String()),
	)
	return order, nil
}

// UpdateOrder applies the fields present in patch. Final orders are immutable and status
// changes must follow the order state machine.
func (s *orderService) UpdateOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, patch OrderPatch) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.findVisible(ctx, actor, orderID)
		if err != nil {
			return err
		}
		if !existing.IsMutable() {
			return domain.ErrOrderImmutable
		}

		if patch.Address != nil {
			existing.Address = strings.TrimSpace(*patch.Address)
		}

		if patch.Status != nil && *patch.Status != existing.Status {
			if err := s.checkTransition(ctx, existing, *patch.Status); err != nil {
				return err
			}
			existing.Status = *patch.Status
		}

		existing.UpdatedAt = time.Now().UTC()
		if err := s.orderRepo.Update(ctx, existing); err != nil {
			return err
		}
		order = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (s *orderService) checkTransition(ctx context.Context, order *domain.Order, next domain.OrderStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next)
	}
	if !order.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidStatusTransition, order.Status, next)
	}

	if next == domain.OrderStatusInProgress {
		cart, err := s.orderRepo.FindByOwnerAndStatus(ctx, order.OwnerID, domain.OrderStatusInProgress)
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return err
		}
		if cart != nil && cart.ID != order.ID {
			return fmt.Errorf("%w: owner already has an order in progress", domain.ErrInvalidStatusTransition)
		}
	}
	return nil
}

// DeleteOrder removes an order the actor owns, or any order for an administrator
func (s *orderService) DeleteOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.findVisible(ctx, actor, orderID); err != nil {
			return err
		}
		return s.orderRepo.Delete(ctx, orderID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order deleted",
		zap.String("order_id", orderID.String()),
		zap.String("deleted_by", actor.ID.String()),
	)
	return nil
}

// FindOrder returns the order if the actor owns it or is an administrator
func (s *orderService) FindOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.findVisible(ctx, actor, orderID)
}

// FindCart returns the actor's IN_PROGRESS order
func (s *orderService) FindCart(ctx context.Context, actor domain.Actor) (*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	return s.orderRepo.FindByOwnerAndStatus(ctx, actor.ID, domain.OrderStatusInProgress)
}

// ListOrders returns the actor's orders, or every order for an administrator
func (s *orderService) ListOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return s.orderRepo.List(ctx, nil)
	}
	return s.orderRepo.List(ctx, &actor.ID)
}

// HandleProductDeleted removes a deleted product from every CREATED or IN_PROGRESS order.
// Orders left empty are deleted. Completed and cancelled orders keep the reference.
// Running it again for the same product changes nothing.
func (s *orderService) HandleProductDeleted(ctx context.Context, productID uuid.UUID) error {
	orders, err := s.orderRepo.FindOpenContaining(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to find orders containing product: %w", err)
	}

	for _, order := range orders {
		var cleanErr error
		for attempt := 0; attempt < cascadeAttempts; attempt++ {
			cleanErr = s.removeDeletedProduct(ctx, order.ID, productID)
			if !errors.Is(cleanErr, domain.ErrConcurrentModification) {
				break
			}
		}
		if cleanErr != nil {
			return fmt.Errorf("failed to remove product %s from order %s: %w", productID, order.ID, cleanErr)
		}
	}

	s.logger.Info("Product removed from open orders",
		zap.String("product_id", productID.String()),
		zap.Int("orders", len(orders)),
	)
	return nil
}

func (s *orderService) removeDeletedProduct(ctx context.Context, orderID, productID uuid.UUID) error {
	return s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err := s.orderRepo.FindByID(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if !order.IsMutable() || !order.RemoveProduct(productID) {
			return nil
		}
		metrics.CascadeRemovals.Inc()

		if order.IsEmpty() {
			err := s.orderRepo.Delete(ctx, order.ID)
			if errors.Is(err, domain.ErrOrderNotFound) {
				return nil
			}
			return err
		}

		order.UpdatedAt = time.Now().UTC()
		return s.orderRepo.Update(ctx, order)
	})
}

// findVisible loads an order and applies the owner-or-admin rule
func (s *orderService) findVisible(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !domain.IsOwnerOrAdmin(actor, order.OwnerID) {
		return nil, domain.ErrAccessDenied
	}
	return order, nil
}

func requireActor(actor domain.Actor) error {
	if actor.ID == uuid.Nil {
		return domain.ErrUnauthenticated
	}
	return nil
}
