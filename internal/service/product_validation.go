package service

import "marketplace/internal/domain"

// IsPurchasable reports whether the product has stock and is active
func IsPurchasable(product *domain.Product) bool {
	return product != nil && product.IsPurchasable()
}

// ValidateProduct fails with a *domain.ProductNotAvailableError if the product cannot be bought
func ValidateProduct(product *domain.Product) error {
	if product == nil {
		return domain.ErrProductNotAvailable
	}
	if !product.IsPurchasable() {
		return &domain.ProductNotAvailableError{ProductID: product.ID}
	}
	return nil
}

// ValidateAll checks that every product is purchasable and names the first one that is not.
// An order is payable only when this returns nil.
func ValidateAll(products []*domain.Product) error {
	for _, product := range products {
		if err := ValidateProduct(product); err != nil {
			return err
		}
	}
	return nil
}
