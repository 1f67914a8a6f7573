package middleware

import (
	"context"
	"net/http"
	"strings"

	"marketplace/internal/domain"

	"go.uber.org/zap"
)

type actorKey struct{}

// Authenticator turns a bearer token into the actor it was issued to
type Authenticator interface {
	Authenticate(token string) (domain.Actor, error)
}

// AuthMiddleware requires a valid "Authorization: Bearer <token>" header and puts
// the authenticated actor into the request context
func AuthMiddleware(auth Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				challenge(w, r, "unauthenticated", "missing authorization header")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				challenge(w, r, "unauthenticated", "authorization header must use the Bearer scheme")
				return
			}

			actor, err := auth.Authenticate(strings.TrimSpace(token))
			if err != nil {
				logger.Debug("Rejected access token", zap.String("path", r.URL.Path), zap.Error(err))
				challenge(w, r, "invalid_token", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func challenge(w http.ResponseWriter, r *http.Request, kind, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="marketplace"`)
	RespondWithErrorKind(w, r, http.StatusUnauthorized, kind, message)
}

// WithActor returns a copy of ctx carrying actor
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the authenticated actor, or domain.ErrUnauthenticated when there is none
func ActorFromContext(ctx context.Context) (domain.Actor, error) {
	if actor, ok := ctx.Value(actorKey{}).(domain.Actor); ok {
		return actor, nil
	}
	return domain.Actor{}, domain.ErrUnauthenticated
}
