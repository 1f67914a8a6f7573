package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"marketplace/internal/domain"
	"marketplace/internal/repository"
	"marketplace/internal/storage"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type productFixture struct {
	products *mockProductRepository
	outbox   *mockOutboxRepository
	photos   *mockPhotoStorage
	service  ProductService
}

func newProductFixture() *productFixture {
	products := newMockProductRepository()
	outbox := &mockOutboxRepository{}
	photos := &mockPhotoStorage{uploads: map[string]string{}}
	tx := &fakeTransactor{products: products, orders: newMockOrderRepository(), outbox: outbox}
	return &productFixture{
		products: products,
		outbox:   outbox,
		photos:   photos,
		service:  NewProductService(products, outbox, tx, photos, storage.ValidateExtension, zap.NewNop()),
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

// Feature: marketplace, Property 12: Created and updated products are inactive without stock
func TestProperty_ProductWithoutStockIsInactive(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("create and update never leave an active product with amount 0", prop.ForAll(
		func(amount int, active bool, newAmount int, newActive bool) bool {
			f := newProductFixture()
			actor := userActor()
			ctx := context.Background()

			product, err := f.service.CreateProduct(ctx, actor, ProductInput{
				Name:   "Lamp",
				Price:  decimal.RequireFromString("12.50"),
				Amount: amount,
				Active: boolPtr(active),
			})
			if err != nil {
				return false
			}
			if product.Amount == 0 && product.Active {
				return false
			}

			updated, err := f.service.UpdateProduct(ctx, actor, product.ID, ProductPatch{
				Amount: intPtr(newAmount),
				Active: boolPtr(newActive),
			})
			if err != nil {
				return false
			}
			stored := f.products.products[product.ID]
			return !(updated.Amount == 0 && updated.Active) && !(stored.Amount == 0 && stored.Active)
		},
		gen.IntRange(0, 5),
		gen.Bool(),
		gen.IntRange(0, 5),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCreateProduct(t *testing.T) {
	f := newProductFixture()
	actor := userActor()

	product, err := f.service.CreateProduct(context.Background(), actor, ProductInput{
		Name:   "  Chair ",
		Price:  decimal.RequireFromString("49.90"),
		Amount: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, actor.ID, product.OwnerID)
	assert.Equal(t, "Chair", product.Name)
	assert.True(t, product.Active)
	assert.Contains(t, f.products.products, product.ID)
}

func TestCreateProductValidation(t *testing.T) {
	tests := []struct {
		name  string
		input ProductInput
	}{
		{"empty name", ProductInput{Name: " ", Price: decimal.NewFromInt(1), Amount: 1}},
		{"negative price", ProductInput{Name: "x", Price: decimal.NewFromInt(-1), Amount: 1}},
		{"three decimals", ProductInput{Name: "x", Price: decimal.RequireFromString("1.005"), Amount: 1}},
		{"price too large", ProductInput{Name: "x", Price: decimal.New(1, 10), Amount: 1}},
		{"negative amount", ProductInput{Name: "x", Price: decimal.NewFromInt(1), Amount: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProductFixture()
			_, err := f.service.CreateProduct(context.Background(), userActor(), tt.input)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, f.products.products)
		})
	}
}

func TestUpdateProductAccess(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(100), Amount: 1})
	require.NoError(t, err)

	name := "Stolen desk"
	_, err = f.service.UpdateProduct(ctx, userActor(), product.ID, ProductPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	updated, err := f.service.UpdateProduct(ctx, adminActor(), product.ID, ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(100)))

	_, err = f.service.UpdateProduct(ctx, owner, uuid.New(), ProductPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestUpdateProductDetectsStaleVersion(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(100), Amount: 1})
	require.NoError(t, err)
	f.products.products[product.ID].Version = 5

	_, err = f.service.UpdateProduct(ctx, owner, product.ID, ProductPatch{Amount: intPtr(2)})
	assert.NoError(t, err, "update reads the current version before writing")

	f.products.failUpdate[product.ID] = domain.ErrConcurrentModification
	_, err = f.service.UpdateProduct(ctx, owner, product.ID, ProductPatch{Amount: intPtr(3)})
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
}

func TestDeleteProductWritesOutboxEvent(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(1), Amount: 1})
	require.NoError(t, err)

	err = f.service.DeleteProduct(ctx, userActor(), product.ID)
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, f.outbox.events)

	require.NoError(t, f.service.DeleteProduct(ctx, owner, product.ID))
	assert.NotContains(t, f.products.products, product.ID)
	require.Len(t, f.outbox.events, 1)

	event := f.outbox.events[0]
	assert.Equal(t, domain.TopicProductDeleted, event.Topic)

	var payload domain.ProductDeleted
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, product.ID, payload.ProductID)
}

func TestDeleteProductRollsBackWhenOutboxFails(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(1), Amount: 1})
	require.NoError(t, err)

	f.outbox.err = errStorageDown
	err = f.service.DeleteProduct(ctx, owner, product.ID)
	assert.ErrorIs(t, err, errStorageDown)
	assert.Contains(t, f.products.products, product.ID)
}

func TestUploadPhoto(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(1), Amount: 1})
	require.NoError(t, err)

	_, err = f.service.UploadPhoto(ctx, owner, product.ID, "desk.bmp", strings.NewReader("bytes"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedMediaType)
	assert.Empty(t, f.photos.uploads)

	_, err = f.service.UploadPhoto(ctx, userActor(), product.ID, "desk.png", strings.NewReader("bytes"))
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Empty(t, f.photos.uploads)

	updated, err := f.service.UploadPhoto(ctx, owner, product.ID, "Desk.JPG", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/uploads/desk.jpg", updated.PhotoURL)
	assert.Equal(t, "/uploads/desk.jpg", f.products.products[product.ID].PhotoURL)

	f.photos.err = errStorageDown
	_, err = f.service.UploadPhoto(ctx, owner, product.ID, "desk.gif", strings.NewReader("bytes"))
	assert.ErrorIs(t, err, errStorageDown)
}

func TestUploadPhotoRemovesFileWhenSaveFails(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	product, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: "Desk", Price: decimal.NewFromInt(1), Amount: 1})
	require.NoError(t, err)
	f.products.failUpdate[product.ID] = domain.ErrConcurrentModification

	_, err = f.service.UploadPhoto(ctx, owner, product.ID, "desk.png", strings.NewReader("bytes"))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Empty(t, f.photos.uploads)
	assert.Empty(t, f.products.products[product.ID].PhotoURL)
}

func TestListProductsFiltersByOwner(t *testing.T) {
	f := newProductFixture()
	owner := userActor()
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		_, err := f.service.CreateProduct(ctx, owner, ProductInput{Name: name, Price: decimal.NewFromInt(1), Amount: 1})
		require.NoError(t, err)
	}
	_, err := f.service.CreateProduct(ctx, userActor(), ProductInput{Name: "c", Price: decimal.NewFromInt(1), Amount: 1})
	require.NoError(t, err)

	products, total, err := f.service.ListProducts(ctx, repository.ProductFilter{OwnerID: &owner.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "a", products[0].Name)

	found, err := f.service.GetProduct(ctx, products[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "a", found.Name)
}
