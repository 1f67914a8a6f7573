package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxPrice is the first value that no longer fits a NUMERIC(12,2) column
var maxPrice = decimal.New(1, 10)

// PhotoStorage stores product photos and returns their public URL
type PhotoStorage interface {
	Upload(ctx context.Context, name string, content io.Reader) (string, error)
	Remove(ctx context.Context, url string) error
}

// ExtensionValidator rejects file names the photo storage does not accept
type ExtensionValidator func(name string) error

// ProductInput describes a new product. Active defaults to true.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Amount      int
	Active      *bool
}

// ProductPatch holds the product fields an update may change. Nil fields are left untouched.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Amount      *int
	Active      *bool
}

// ProductService defines the interface for catalog management
type ProductService interface {
	CreateProduct(ctx context.Context, actor domain.Actor, input ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, actor domain.Actor, id uuid.UUID, patch ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, actor domain.Actor, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error)
	UploadPhoto(ctx context.Context, actor domain.Actor, id uuid.UUID, filename string, content io.Reader) (*domain.Product, error)
}

type productService struct {
	productRepo       repository.ProductRepository
	outboxRepo        repository.OutboxRepository
	tx                repository.Transactor
	photos            PhotoStorage
	validateExtension ExtensionValidator
	logger            *zap.Logger
}

// NewProductService creates a new instance of ProductService
func NewProductService(
	productRepo repository.ProductRepository,
	outboxRepo repository.OutboxRepository,
	tx repository.Transactor,
	photos PhotoStorage,
	validateExtension ExtensionValidator,
	logger *zap.Logger,
) ProductService {
	return &productService{
		productRepo:       productRepo,
		outboxRepo:        outboxRepo,
		tx:                tx,
		photos:            photos,
		validateExtension: validateExtension,
		logger:            logger,
	}
}

// CreateProduct lists a new product owned by the actor
func (s *productService) CreateProduct(ctx context.Context, actor domain.Actor, input ProductInput) (*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if err := validateProductFields(name, input.Price, input.Amount); err != nil {
		return nil, err
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}

	now := time.Now().UTC()
	product := &domain.Product{
		ID:          uuid.New(),
		OwnerID:     actor.ID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Price:       input.Price,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	product.SetAmount(input.Amount)
	product.SetActive(active)

	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, err
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("owner_id", actor.ID.String()),
	)
	return product, nil
}

// UpdateProduct applies the fields present in patch. The product stays inactive while it has no stock.
func (s *productService) UpdateProduct(ctx context.Context, actor domain.Actor, id uuid.UUID, patch ProductPatch) (*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	product, err := s.findEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	name := product.Name
	if patch.Name != nil {
		name = strings.TrimSpace(*patch.Name)
	}
	price := product.Price
	if patch.Price != nil {
		price = *patch.Price
	}
	amount := product.Amount
	if patch.Amount != nil {
		amount = *patch.Amount
	}
	if err := validateProductFields(name, price, amount); err != nil {
		return nil, err
	}

	product.Name = name
	product.Price = price
	if patch.Description != nil {
		product.Description = strings.TrimSpace(*patch.Description)
	}
	product.SetAmount(amount)
	if patch.Active != nil {
		product.SetActive(*patch.Active)
	}
	product.UpdatedAt = time.Now().UTC()

	if err := s.productRepo.Update(ctx, product); err != nil {
		return nil, err
	}

	return product, nil
}

// DeleteProduct removes the product and records a product-deleted event in the same
// transaction. Open orders are cleaned up when the event is consumed.
func (s *productService) DeleteProduct(ctx context.Context, actor domain.Actor, id uuid.UUID) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.findEditable(ctx, actor, id); err != nil {
			return err
		}

		event, err := domain.NewProductDeletedEvent(id, time.Now())
		if err != nil {
			return fmt.Errorf("failed to build product deleted event: %w", err)
		}
		if err := s.outboxRepo.Insert(ctx, event); err != nil {
			return err
		}

		return s.productRepo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Product deleted",
		zap.String("product_id", id.String()),
		zap.String("deleted_by", actor.ID.String()),
	)
	return nil
}

// GetProduct retrieves a product by ID
func (s *productService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.productRepo.FindByID(ctx, id)
}

// ListProducts retrieves a page of products
func (s *productService) ListProducts(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error) {
	return s.productRepo.List(ctx, filter)
}

// UploadPhoto stores a new photo for the product. The file name is checked before anything is uploaded.
func (s *productService) UploadPhoto(ctx context.Context, actor domain.Actor, id uuid.UUID, filename string, content io.Reader) (*domain.Product, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	product, err := s.findEditable(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if err := s.validateExtension(filename); err != nil {
		return nil, err
	}

	url, err := s.photos.Upload(ctx, filename, content)
	if err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}

	product.PhotoURL = url
	product.UpdatedAt = time.Now().UTC()
	if err := s.productRepo.Update(ctx, product); err != nil {
		if rmErr := s.photos.Remove(ctx, url); rmErr != nil {
			s.logger.Error("Failed to remove orphaned photo",
				zap.String("product_id", product.ID.String()),
				zap.String("photo_url", url),
				zap.Error(rmErr),
			)
		}
		return nil, err
	}

	s.logger.Info("Product photo uploaded",
		zap.String("product_id", product.ID.String()),
		zap.String("photo_url", url),
	)
	return product, nil
}

func (s *productService) findEditable(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.IsOwnerOrAdmin(actor, product.OwnerID) {
		return nil, domain.ErrAccessDenied
	}
	return product, nil
}

func validateProductFields(name string, price decimal.Decimal, amount int) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrInvalidInput)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidInput)
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return fmt.Errorf("%w: price is too large", domain.ErrInvalidInput)
	}
	if !price.Equal(price.Round(2)) {
		return fmt.Errorf("%w: price has more than two decimal places", domain.ErrInvalidInput)
	}
	if amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", domain.ErrInvalidInput)
	}
	return nil
}
