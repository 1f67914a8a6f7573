package transport

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxPageSize = 100

// CreateProductRequest represents the product creation payload
type CreateProductRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=4000"`
	Price       string `json:"price" validate:"required,price"`
	Amount      *int   `json:"amount" validate:"required,gte=0"`
	Active      *bool  `json:"active"`
}

// UpdateProductRequest represents a partial product update. Absent fields are left untouched.
type UpdateProductRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=4000"`
	Price       *string `json:"price" validate:"omitempty,price"`
	Amount      *int    `json:"amount" validate:"omitempty,gte=0"`
	Active      *bool   `json:"active"`
}

// ProductHandler handles HTTP requests for the catalog
type ProductHandler struct {
	productService service.ProductService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(productService service.ProductService, maxUploadBytes int64, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		productService: productService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes registers all product routes
func (h *ProductHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/", h.CreateProduct)
			r.Patch("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/{id}/photo", h.UploadPhoto)
		})
	})
}

// ListProducts returns a page of products. Query parameters: page, page_size, sort_by,
// order (asc|desc), owner_id and active.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.ProductFilter{
		Page:      atoiOr(q.Get("page"), 1),
		PageSize:  min(atoiOr(q.Get("page_size"), 20), maxPageSize),
		SortBy:    q.Get("sort_by"),
		SortOrder: repository.SortOrder(strings.ToUpper(q.Get("order"))),
	}
	if owner := q.Get("owner_id"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid owner_id")
			return
		}
		filter.OwnerID = &id
	}
	if active := q.Get("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		filter.ActiveOnly = v
	}

	products, total, err := h.productService.ListProducts(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	items := make([]ProductResponse, len(products))
	for i, p := range products {
		items[i] = newProductResponse(p)
	}

	middleware.RespondWithJSON(w, http.StatusOK, ProductPage{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	})
}

// GetProduct returns a single product
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	product, err := h.productService.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newProductResponse(product))
}

// CreateProduct lists a new product owned by the caller
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	var req CreateProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	product, err := h.productService.CreateProduct(r.Context(), actor, service.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       decimal.RequireFromString(req.Price),
		Amount:      *req.Amount,
		Active:      req.Active,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, newProductResponse(product))
}

// UpdateProduct applies a partial update. Only the owner or an administrator may edit.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	patch := service.ProductPatch{
		Name:        req.Name,
		Description: req.Description,
		Amount:      req.Amount,
		Active:      req.Active,
	}
	if req.Price != nil {
		price := decimal.RequireFromString(*req.Price)
		patch.Price = &price
	}

	product, err := h.productService.UpdateProduct(r.Context(), actor, id, patch)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newProductResponse(product))
}

// DeleteProduct removes a product. Open orders drop it asynchronously.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.productService.DeleteProduct(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadPhoto stores the multipart "file" part as the product photo
func (h *ProductHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	actor, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	// leave room for the multipart envelope around the file
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}

	product, err := h.productService.UploadPhoto(r.Context(), actor, id, header.Filename, file)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, newProductResponse(product))
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
