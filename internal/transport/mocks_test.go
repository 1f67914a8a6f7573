package transport

import (
	"context"
	"io"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/google/uuid"
)

// memUsers and memTokens back a real UserService in handler tests

type memUsers struct {
	byEmail map[string]*domain.User
}

func (m *memUsers) Create(ctx context.Context, user *domain.User) error {
	if _, taken := m.byEmail[user.Email]; taken {
		return domain.ErrAlreadyExists
	}
	m.byEmail[user.Email] = user
	return nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if u, ok := m.byEmail[email]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *memUsers) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

type memTokens struct {
	byHash map[string]*domain.RefreshToken
}

func (m *memTokens) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.byHash[token.TokenHash] = token
	return nil
}

func (m *memTokens) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	if t, ok := m.byHash[hash]; ok {
		c := *t
		return &c, nil
	}
	return nil, repository.ErrRefreshTokenNotFound
}

func (m *memTokens) Revoke(ctx context.Context, hash string, at time.Time) error {
	t, ok := m.byHash[hash]
	if !ok || t.RevokedAt != nil {
		return repository.ErrRefreshTokenNotFound
	}
	t.RevokedAt = &at
	return nil
}

func (m *memTokens) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	for _, t := range m.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

// stubOrderService records the calls it receives and answers with the configured order or error
type stubOrderService struct {
	service.OrderService

	order   *domain.Order
	orders  []*domain.Order
	err     error
	calls   []string
	actor   domain.Actor
	address string
	patch   service.OrderPatch
	input   service.CreateOrderInput
}

func (s *stubOrderService) record(name string, actor domain.Actor) {
	s.calls = append(s.calls, name)
	s.actor = actor
}

func (s *stubOrderService) AddProductToOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error) {
	s.record("add", actor)
	return s.order, s.err
}

func (s *stubOrderService) RemoveProductFromOrder(ctx context.Context, actor domain.Actor, productID uuid.UUID) (*domain.Order, error) {
	s.record("remove", actor)
	return s.order, s.err
}

func (s *stubOrderService) PayForOrder(ctx context.Context, actor domain.Actor, address string) (*domain.Order, error) {
	s.record("pay", actor)
	s.address = address
	return s.order, s.err
}

func (s *stubOrderService) CreateOrder(ctx context.Context, actor domain.Actor, input service.CreateOrderInput) (*domain.Order, error) {
	s.record("create", actor)
	s.input = input
	return s.order, s.err
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, patch service.OrderPatch) (*domain.Order, error) {
	s.record("update", actor)
	s.patch = patch
	return s.order, s.err
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) error {
	s.record("delete", actor)
	return s.err
}

func (s *stubOrderService) FindOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	s.record("find", actor)
	return s.order, s.err
}

func (s *stubOrderService) FindCart(ctx context.Context, actor domain.Actor) (*domain.Order, error) {
	s.record("cart", actor)
	return s.order, s.err
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor domain.Actor) ([]*domain.Order, error) {
	s.record("list", actor)
	return s.orders, s.err
}

// stubProductService answers with the configured product or error
type stubProductService struct {
	service.ProductService

	product  *domain.Product
	products []*domain.Product
	err      error
	input    service.ProductInput
	patch    service.ProductPatch
	filter   repository.ProductFilter
	filename string
	photo    []byte
}

func (s *stubProductService) CreateProduct(ctx context.Context, actor domain.Actor, input service.ProductInput) (*domain.Product, error) {
	s.input = input
	return s.product, s.err
}

func (s *stubProductService) UpdateProduct(ctx context.Context, actor domain.Actor, id uuid.UUID, patch service.ProductPatch) (*domain.Product, error) {
	s.patch = patch
	return s.product, s.err
}

func (s *stubProductService) DeleteProduct(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	return s.err
}

func (s *stubProductService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.product, s.err
}

func (s *stubProductService) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error) {
	s.filter = filter
	return s.products, len(s.products), s.err
}

func (s *stubProductService) UploadPhoto(ctx context.Context, actor domain.Actor, id uuid.UUID, filename string, content io.Reader) (*domain.Product, error) {
	s.filename = filename
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	s.photo = data
	return s.product, s.err
}
