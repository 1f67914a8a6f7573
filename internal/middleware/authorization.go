package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RequireAdmin lets only ADMIN actors through. It must run after AuthMiddleware.
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := ActorFromContext(r.Context())
			switch {
			case err != nil:
				RespondWithErrorKind(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
			case !actor.IsAdmin():
				logger.Warn("Admin route refused",
					zap.String("user_id", actor.ID.String()),
					zap.String("path", r.URL.Path),
				)
				RespondWithErrorKind(w, r, http.StatusForbidden, "access_denied", "admin role required")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
