package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrAccessDenied            = errors.New("access denied")
	ErrProductNotAvailable     = errors.New("product is not available")
	ErrOrderImmutable          = errors.New("order can no longer be modified")
	ErrAlreadyExists           = errors.New("resource already exists")
	ErrUnauthenticated         = errors.New("authentication required")
	ErrUnsupportedMediaType    = errors.New("unsupported media type")
	ErrConcurrentModification  = errors.New("resource was modified concurrently")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrAddressRequired         = errors.New("address is required to complete an order")
	ErrInvalidInput            = errors.New("invalid input")
	ErrRequestInProgress       = errors.New("a request with this idempotency key is already being processed")
)

// ProductNotAvailableError names the product that failed validation.
// It matches ErrProductNotAvailable with errors.Is.
type ProductNotAvailableError struct {
	ProductID uuid.UUID
}

func (e *ProductNotAvailableError) Error() string {
	return fmt.Sprintf("product %s is not available", e.ProductID)
}

func (e *ProductNotAvailableError) Is(target error) bool {
	return target == ErrProductNotAvailable
}
