package transport

import (
	"errors"
	"net/http"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/service"
	"marketplace/internal/storage"

	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	kind   string
}

// serviceErrors maps service failures to HTTP answers. The first match wins.
var serviceErrors = []errorMapping{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "token_expired"},
	{service.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{domain.ErrAccessDenied, http.StatusForbidden, "access_denied"},
	{domain.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domain.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{domain.ErrProductNotAvailable, http.StatusConflict, "product_not_available"},
	{domain.ErrOrderImmutable, http.StatusConflict, "order_immutable"},
	{domain.ErrInvalidStatusTransition, http.StatusConflict, "invalid_status_transition"},
	{domain.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrRequestInProgress, http.StatusConflict, "request_in_progress"},
	{domain.ErrUnsupportedMediaType, http.StatusUnsupportedMediaType, "unsupported_media_type"},
	{storage.ErrTooLarge, http.StatusRequestEntityTooLarge, "file_too_large"},
	{domain.ErrAddressRequired, http.StatusUnprocessableEntity, "address_required"},
	{domain.ErrInvalidInput, http.StatusUnprocessableEntity, "invalid_input"},
}

// writeServiceError answers err with the status its kind maps to. Unknown errors are
// logged and reported as 500 without leaking their text.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			logger.Debug("Request failed", zap.String("kind", m.kind), zap.Error(err))
			middleware.RespondWithErrorKind(w, r, m.status, m.kind, err.Error())
			return
		}
	}

	logger.Error("Unexpected error",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	middleware.RespondWithErrorKind(w, r, http.StatusInternalServerError, "internal", "internal server error")
}
