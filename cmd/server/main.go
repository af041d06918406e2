package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/booklend/lending-engine/internal/config"
	"github.com/booklend/lending-engine/internal/gateway"
	"github.com/booklend/lending-engine/internal/handler"
	"github.com/booklend/lending-engine/internal/lock"
	"github.com/booklend/lending-engine/internal/notifier"
	"github.com/booklend/lending-engine/internal/repository"
	"github.com/booklend/lending-engine/internal/service"
	"github.com/booklend/lending-engine/pkg/logger"
	"github.com/booklend/lending-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	// Repositories
	borrowingRepo := repository.NewBorrowingRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	bookRepo := repository.NewBookRepository(db)
	userRepo := repository.NewUserRepository(db)

	// External collaborators
	stripeGateway := gateway.NewStripeGateway(cfg)
	var dispatcher notifier.Dispatcher = notifier.NoopDispatcher{}
	if cfg.Telegram.BotToken != "" {
		dispatcher = notifier.NewTelegramDispatcher(cfg, logg)
	}
	locker := lock.NewRedisLocker(redisClient)

	// Services
	lifecycleService := service.NewLifecycleService(
		borrowingRepo, paymentRepo, bookRepo, userRepo,
		stripeGateway, dispatcher, cfg, logg, time.Now,
	)
	webhookService := service.NewWebhookService(
		paymentRepo, borrowingRepo, userRepo,
		stripeGateway, dispatcher, locker, logg,
	)

	// Handlers
	borrowingHandler := handler.NewBorrowingHandler(lifecycleService)
	paymentHandler := handler.NewPaymentHandler(lifecycleService)
	webhookHandler := handler.NewWebhookHandler(webhookService, logg)
	healthHandler := handler.NewHealthHandler(db, redisClient, cfg.GetHealthTimeout())

	router := setupRoutes(cfg, borrowingHandler, paymentHandler, webhookHandler, healthHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logg.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logg.Info("server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(
	cfg *config.Config,
	borrowingHandler *handler.BorrowingHandler,
	paymentHandler *handler.PaymentHandler,
	webhookHandler *handler.WebhookHandler,
	healthHandler *handler.HealthHandler,
) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware)

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// Signed but unauthenticated processor callback
	router.HandleFunc("/webhooks/stripe", webhookHandler.StripeWebhook).Methods("POST")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(handler.AuthMiddleware(cfg.Auth.JWTSecret))

	api.HandleFunc("/borrowings", borrowingHandler.CreateBorrowing).Methods("POST")
	api.HandleFunc("/borrowings", borrowingHandler.ListBorrowings).Methods("GET")
	api.HandleFunc("/borrowings/{borrowingId}", borrowingHandler.GetBorrowing).Methods("GET")
	api.HandleFunc("/borrowings/{borrowingId}/return", borrowingHandler.ReturnBorrowing).Methods("POST")

	api.HandleFunc("/payments", paymentHandler.ListPayments).Methods("GET")
	api.HandleFunc("/payments/success", paymentHandler.PaymentSuccess).Methods("GET")
	api.HandleFunc("/payments/cancel", paymentHandler.PaymentCancel).Methods("GET")
	api.HandleFunc("/payments/{paymentId}", paymentHandler.GetPayment).Methods("GET")
	api.HandleFunc("/payments/{paymentId}/renew", paymentHandler.RenewPayment).Methods("POST")

	return router
}
