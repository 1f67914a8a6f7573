package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/metrics"
	custommiddleware "marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/internal/storage"
	"marketplace/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client

	// Orders handles product-deleted events coming back from the broker
	Orders service.OrderService
	// Outbox is drained by the relay
	Outbox repository.OutboxRepository
}

func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, rdb *redis.Client) (*Server, error) {
	photos, err := storage.NewLocalStorage(cfg.Storage.Dir, cfg.Storage.BaseURL, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	// Repositories
	userRepo := repository.NewUserRepository(db.DB())
	refreshTokenRepo := repository.NewRefreshTokenRepository(db.DB())
	productRepo := repository.NewProductRepository(db.DB())
	orderRepo := repository.NewOrderRepository(db.DB())
	outboxRepo := repository.NewOutboxRepository(db.DB())
	tx := repository.NewTransactor(db.DB())

	// Services
	userService := service.NewUserService(userRepo, refreshTokenRepo, cfg.JWT, cfg.AdminEmails, logger)
	productService := service.NewProductService(productRepo, outboxRepo, tx, photos, storage.ValidateExtension, logger)
	orderService := service.NewOrderService(orderRepo, productRepo, tx, logger)
	payments := service.NewPaymentService(orderService, cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL), logger)

	// Middleware
	authenticate := custommiddleware.AuthMiddleware(userService, logger)
	perUserLimit := custommiddleware.RateLimitMiddleware(rdb, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		Window:            cfg.RateLimit.Window,
		KeyPrefix:         "ratelimit:user",
	}, logger)
	authMiddleware := func(next http.Handler) http.Handler {
		return authenticate(perUserLimit(next))
	}
	adminMiddleware := custommiddleware.RequireAdmin(logger)

	router := chi.NewRouter()
	for _, mw := range custommiddleware.DefaultMiddlewareStack() {
		router.Use(mw)
	}
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(metrics.Middleware)
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.IsDevelopment()))

	router.Get("/health", healthHandler(db, rdb))
	router.Handle("/metrics", metrics.Handler())
	router.Handle(cfg.Storage.BaseURL+"/*", http.StripPrefix(cfg.Storage.BaseURL, http.FileServer(http.Dir(photos.Dir()))))

	router.Group(func(r chi.Router) {
		r.Use(custommiddleware.RateLimitMiddleware(rdb, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.Requests,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         "ratelimit:ip",
		}, logger))

		transport.NewUserHandler(userService, logger).RegisterRoutes(r, authMiddleware)
		transport.NewProductHandler(productService, cfg.Storage.MaxUploadBytes, logger).RegisterRoutes(r, authMiddleware)
		transport.NewOrderHandler(orderService, payments, logger).RegisterRoutes(r, authMiddleware, adminMiddleware)
	})

	return &Server{
		Server: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:           router,
			IdleTimeout:       time.Minute,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  rdb,
		Orders: orderService,
		Outbox: outboxRepo,
	}, nil
}

// dbHealth is the part of database.Service the health check needs
type dbHealth interface {
	Health(ctx context.Context) map[string]string
}

// healthHandler answers 200 when postgres and redis respond and 503 otherwise
func healthHandler(db dbHealth, rdb redis.Cmdable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{"status": "ok"}

		dbStats := db.Health(r.Context())
		body["database"] = dbStats
		if dbStats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			body["redis"] = map[string]string{"status": "down", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			body["redis"] = map[string]string{"status": "up"}
		}

		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		custommiddleware.RespondWithJSON(w, status, body)
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database connection", zap.Error(err))
	}

	return nil
}
