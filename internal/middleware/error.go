package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse is the envelope of every error body
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure. Code is the HTTP status text; Kind names the
// failure class so clients can branch without parsing Message.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Kind      string         `json:"kind,omitempty"`
	Message   string         `json:"message"`
	Path      string         `json:"path,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func RespondWithError(w http.ResponseWriter, status int, message string) {
	writeError(w, status, ErrorDetail{Message: message})
}

func RespondWithErrorDetails(w http.ResponseWriter, status int, message string, details map[string]any) {
	writeError(w, status, ErrorDetail{Message: message, Details: details})
}

// RespondWithErrorKind also records the failure kind, the request path and the request ID
func RespondWithErrorKind(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	writeError(w, status, ErrorDetail{
		Kind:      kind,
		Message:   message,
		Path:      r.URL.Path,
		RequestID: chimw.GetReqID(r.Context()),
	})
}

// RespondWithValidationErrors answers 400 listing every rejected field
func RespondWithValidationErrors(w http.ResponseWriter, errs []ValidationError) {
	writeError(w, http.StatusBadRequest, ErrorDetail{
		Kind:    "validation_failed",
		Message: "validation failed",
		Details: map[string]any{"validation_errors": errs},
	})
}

func writeError(w http.ResponseWriter, status int, detail ErrorDetail) {
	detail.Code = http.StatusText(status)
	detail.Timestamp = time.Now().UTC().Format(time.RFC3339)
	RespondWithJSON(w, status, ErrorResponse{Error: detail})
}

// ErrorHandlingMiddleware turns a panicking handler into a 500 answer.
// http.ErrAbortHandler is re-raised so the server can drop the connection.
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("Handler panicked",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.Stack("stack"),
				)
				RespondWithErrorKind(w, r, http.StatusInternalServerError, "internal", "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RespondWithJSON writes payload as the JSON body with the given status
func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
