package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	Update(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByOwnerAndStatus(ctx context.Context, ownerID uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	FindOpenContaining(ctx context.Context, productID uuid.UUID) ([]*domain.Order, error)
	List(ctx context.Context, ownerID *uuid.UUID) ([]*domain.Order, error)
}

type orderRepository struct {
	db *sql.DB
	tx Transactor
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db, tx: NewTransactor(db)}
}

const orderColumns = `id, owner_id, address, status, total, version, created_at, updated_at`

// Create inserts the order row and its product set
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		q := executor(ctx, r.db)

		query := `
			INSERT INTO orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := q.ExecContext(
			ctx,
			query,
			order.ID,
			order.OwnerID,
			order.Address,
			string(order.Status),
			nullDecimal(order.Total),
			order.Version,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			// orders_one_cart_per_owner: a concurrent request opened the cart first
			if isUniqueViolation(err) {
				return domain.ErrConcurrentModification
			}
			return fmt.Errorf("failed to create order: %w", err)
		}

		return r.insertProducts(ctx, q, order)
	})
}

// Update writes the order and replaces its product set if the version still matches.
// On success the in-memory version is advanced.
func (r *orderRepository) Update(ctx context.Context, order *domain.Order) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		q := executor(ctx, r.db)

		query := `
			UPDATE orders
			SET address = $2, status = $3, total = $4, updated_at = $5, version = version + 1
			WHERE id = $1 AND version = $6
		`
		result, err := q.ExecContext(
			ctx,
			query,
			order.ID,
			order.Address,
			string(order.Status),
			nullDecimal(order.Total),
			order.UpdatedAt,
			order.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConcurrentModification
			}
			return fmt.Errorf("failed to update order: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return r.missingOrConflict(ctx, q, order.ID)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM order_products WHERE order_id = $1`, order.ID); err != nil {
			return fmt.Errorf("failed to clear order products: %w", err)
		}
		if err := r.insertProducts(ctx, q, order); err != nil {
			return err
		}

		order.Version++
		return nil
	})
}

func (r *orderRepository) missingOrConflict(ctx context.Context, q DBTX, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check order existence: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrConcurrentModification
}

func (r *orderRepository) insertProducts(ctx context.Context, q DBTX, order *domain.Order) error {
	for position, productID := range order.ProductIDs {
		_, err := q.ExecContext(
			ctx,
			`INSERT INTO order_products (order_id, product_id, position) VALUES ($1, $2, $3)`,
			order.ID,
			productID,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order product: %w", err)
		}
	}
	return nil
}

// Delete removes an order together with its product set
func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := executor(ctx, r.db).ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return domain.ErrOrderNotFound
	}

	return nil
}

// FindByID retrieves an order by ID
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	q := executor(ctx, r.db)

	order, err := scanOrder(q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by ID: %w", err)
	}

	if err := r.loadProducts(ctx, q, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// FindByOwnerAndStatus retrieves the most recent order of ownerID in the given status
func (r *orderRepository) FindByOwnerAndStatus(ctx context.Context, ownerID uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	q := executor(ctx, r.db)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE owner_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	order, err := scanOrder(q.QueryRowContext(ctx, query, ownerID, string(status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by owner and status: %w", err)
	}

	if err := r.loadProducts(ctx, q, []*domain.Order{order}); err != nil {
		return nil, err
	}

	return order, nil
}

// FindOpenContaining retrieves CREATED and IN_PROGRESS orders that hold productID
func (r *orderRepository) FindOpenContaining(ctx context.Context, productID uuid.UUID) ([]*domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		WHERE o.status IN ($2, $3)
		  AND EXISTS (SELECT 1 FROM order_products op WHERE op.order_id = o.id AND op.product_id = $1)
		ORDER BY o.created_at
	`

	return r.query(ctx, query, productID, string(domain.OrderStatusCreated), string(domain.OrderStatusInProgress))
}

// List retrieves all orders, or only those of ownerID when it is set
func (r *orderRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]*domain.Order, error) {
	if ownerID != nil {
		return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`, *ownerID)
	}
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *orderRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	q := executor(ctx, r.db)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	if err := r.loadProducts(ctx, q, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// loadProducts fills ProductIDs of every order with a single query
func (r *orderRepository) loadProducts(ctx context.Context, q DBTX, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	ids := make([]uuid.UUID, 0, len(orders))
	for _, order := range orders {
		order.ProductIDs = []uuid.UUID{}
		byID[order.ID] = order
		ids = append(ids, order.ID)
	}

	rows, err := q.QueryContext(
		ctx,
		`SELECT order_id, product_id FROM order_products WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`,
		uuidStrings(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to load order products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, productID uuid.UUID
		if err := rows.Scan(&orderID, &productID); err != nil {
			return fmt.Errorf("failed to scan order product: %w", err)
		}
		if order, ok := byID[orderID]; ok {
			order.ProductIDs = append(order.ProductIDs, productID)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating order products: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	order := &domain.Order{}
	var (
		status string
		total  decimal.NullDecimal
	)
	err := row.Scan(
		&order.ID,
		&order.OwnerID,
		&order.Address,
		&status,
		&total,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	order.Status = domain.OrderStatus(status)
	if total.Valid {
		order.Total = &total.Decimal
	}
	return order, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
