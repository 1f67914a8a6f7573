package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/google/uuid"
)

// Mock repositories for testing. They store copies so callers only see
// their changes after a successful write, like a real database.

type mockUserRepository struct {
	users map[string]*domain.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, exists := m.users[user.Email]; exists {
		return domain.ErrAlreadyExists
	}
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, exists := m.users[email]
	if !exists {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

type mockRefreshTokenRepository struct {
	tokens map[string]*domain.RefreshToken
	// revokeErr makes every revoke fail
	revokeErr error
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{
		tokens: make(map[string]*domain.RefreshToken),
	}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	if _, exists := m.tokens[token.TokenHash]; exists {
		return domain.ErrAlreadyExists
	}
	m.tokens[token.TokenHash] = token
	return nil
}

func (m *mockRefreshTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	token, exists := m.tokens[hash]
	if !exists {
		return nil, repository.ErrRefreshTokenNotFound
	}
	c := *token
	return &c, nil
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, hash string, at time.Time) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	token, exists := m.tokens[hash]
	if !exists || token.RevokedAt != nil {
		return repository.ErrRefreshTokenNotFound
	}
	token.RevokedAt = &at
	return nil
}

func (m *mockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	var n int64
	for _, token := range m.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			token.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

// live counts the tokens of userID that can still be exchanged
func (m *mockRefreshTokenRepository) live(userID uuid.UUID) int {
	n := 0
	for _, token := range m.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			n++
		}
	}
	return n
}

type mockProductRepository struct {
	products map[uuid.UUID]*domain.Product
	// failUpdate makes Update fail for the given product
	failUpdate map[uuid.UUID]error
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products:   make(map[uuid.UUID]*domain.Product),
		failUpdate: make(map[uuid.UUID]error),
	}
}

func copyProduct(p *domain.Product) *domain.Product {
	c := *p
	return &c
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	if _, exists := m.products[product.ID]; exists {
		return domain.ErrAlreadyExists
	}
	m.products[product.ID] = copyProduct(product)
	return nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product) error {
	if err := m.failUpdate[product.ID]; err != nil {
		return err
	}
	stored, exists := m.products[product.ID]
	if !exists {
		return domain.ErrProductNotFound
	}
	if stored.Version != product.Version {
		return domain.ErrConcurrentModification
	}
	product.Version++
	m.products[product.ID] = copyProduct(product)
	return nil
}

func (m *mockProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, exists := m.products[id]; !exists {
		return domain.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, exists := m.products[id]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return copyProduct(product), nil
}

func (m *mockProductRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Product, error) {
	out := []*domain.Product{}
	for _, id := range ids {
		if product, exists := m.products[id]; exists {
			out = append(out, copyProduct(product))
		}
	}
	return out, nil
}

func (m *mockProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error) {
	out := []*domain.Product{}
	for _, product := range m.products {
		if filter.OwnerID != nil && product.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.ActiveOnly && !product.Active {
			continue
		}
		out = append(out, copyProduct(product))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

type mockOrderRepository struct {
	orders map[uuid.UUID]*domain.Order
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[uuid.UUID]*domain.Order),
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.ProductIDs = append([]uuid.UUID{}, o.ProductIDs...)
	if o.Total != nil {
		total := *o.Total
		c.Total = &total
	}
	return &c
}

// hasOtherCart mirrors the one-cart-per-owner unique index
func (m *mockOrderRepository) hasOtherCart(order *domain.Order) bool {
	if order.Status != domain.OrderStatusInProgress {
		return false
	}
	for _, o := range m.orders {
		if o.ID != order.ID && o.OwnerID == order.OwnerID && o.Status == domain.OrderStatusInProgress {
			return true
		}
	}
	return false
}

func (m *mockOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	if m.hasOtherCart(order) {
		return domain.ErrConcurrentModification
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *mockOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	stored, exists := m.orders[order.ID]
	if !exists {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrConcurrentModification
	}
	if m.hasOtherCart(order) {
		return domain.ErrConcurrentModification
	}
	order.Version++
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *mockOrderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, exists := m.orders[id]; !exists {
		return domain.ErrOrderNotFound
	}
	delete(m.orders, id)
	return nil
}

func (m *mockOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, exists := m.orders[id]
	if !exists {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (m *mockOrderRepository) FindByOwnerAndStatus(ctx context.Context, ownerID uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	var found *domain.Order
	for _, order := range m.orders {
		if order.OwnerID != ownerID || order.Status != status {
			continue
		}
		if found == nil || order.CreatedAt.After(found.CreatedAt) {
			found = order
		}
	}
	if found == nil {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(found), nil
}

func (m *mockOrderRepository) FindOpenContaining(ctx context.Context, productID uuid.UUID) ([]*domain.Order, error) {
	out := []*domain.Order{}
	for _, order := range m.orders {
		if order.Status.IsFinal() || !order.HasProduct(productID) {
			continue
		}
		out = append(out, copyOrder(order))
	}
	return out, nil
}

func (m *mockOrderRepository) List(ctx context.Context, ownerID *uuid.UUID) ([]*domain.Order, error) {
	out := []*domain.Order{}
	for _, order := range m.orders {
		if ownerID != nil && order.OwnerID != *ownerID {
			continue
		}
		out = append(out, copyOrder(order))
	}
	return out, nil
}

type mockOutboxRepository struct {
	events []*domain.OutboxEvent
	err    error
}

func (m *mockOutboxRepository) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	if m.err != nil {
		return m.err
	}
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *mockOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	out := []*domain.OutboxEvent{}
	for _, event := range m.events {
		if event.SentAt == nil && len(out) < limit {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *mockOutboxRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	for _, event := range m.events {
		if event.ID == id {
			event.SentAt = &sentAt
		}
	}
	return nil
}

// fakeTransactor snapshots the mock stores and restores them when the unit of work fails
type fakeTransactor struct {
	products *mockProductRepository
	orders   *mockOrderRepository
	outbox   *mockOutboxRepository
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	products := make(map[uuid.UUID]*domain.Product, len(f.products.products))
	for id, p := range f.products.products {
		products[id] = copyProduct(p)
	}
	orders := make(map[uuid.UUID]*domain.Order, len(f.orders.orders))
	for id, o := range f.orders.orders {
		orders[id] = copyOrder(o)
	}
	var events []*domain.OutboxEvent
	if f.outbox != nil {
		events = append(events, f.outbox.events...)
	}

	if err := fn(ctx); err != nil {
		f.products.products = products
		f.orders.orders = orders
		if f.outbox != nil {
			f.outbox.events = events
		}
		return err
	}
	return nil
}

type mockPhotoStorage struct {
	uploads map[string]string
	err     error
}

func (m *mockPhotoStorage) Upload(ctx context.Context, name string, content io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	url := "/uploads/" + strings.ToLower(name)
	m.uploads[url] = string(data)
	return url, nil
}

func (m *mockPhotoStorage) Remove(ctx context.Context, url string) error {
	delete(m.uploads, url)
	return nil
}

var errStorageDown = errors.New("storage unavailable")
