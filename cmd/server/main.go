package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/botmeter/backend/docs"
	"github.com/botmeter/backend/internal/config"
	"github.com/botmeter/backend/internal/database"
	"github.com/botmeter/backend/internal/handlers"
	mW "github.com/botmeter/backend/internal/middleware"
	"github.com/botmeter/backend/internal/services"
)

// @title Credit Billing Ledger API
// @version 1.0
// @description Token-usage metering and credit debit engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("api.key_hash", "API_KEY_HASH")
	viper.BindEnv("api.key_salt", "API_KEY_SALT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	billingCfg := config.LoadBillingConfig()

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Credit Billing Ledger API"
	docs.SwaggerInfo.Description = "Token-usage metering and credit debit engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to apply database schema: %v", err)
	}

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	notifier := services.NewQueueNotifier(redisClient, billingCfg.EventsQueue)
	calculator := services.NewCreditCalculator(billingCfg.TokensPerCredit, billingCfg.TokenFloor,
		billingCfg.CreditFloor, billingCfg.EstimateOverhead)
	ledgerService := services.NewLedgerService(db)
	walletService := services.NewWalletService(db, ledgerService, billingCfg.InitialWalletBalance)
	reservationService := services.NewReservationService(db, walletService, ledgerService,
		billingCfg.ReservationTTL, nil)
	billingService := services.NewBillingService(db, walletService, reservationService,
		ledgerService, calculator, notifier, billingCfg)
	reconciliationService := services.NewReconciliationService(db, walletService, ledgerService, notifier)
	billingHandler := handlers.NewBillingHandler(billingService, walletService, ledgerService, reconciliationService)

	// Background jobs: expired-reservation sweep and scheduled reconciliation
	jobCtx, stopJobs := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(billingCfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if swept, err := reservationService.SweepExpired(jobCtx); err != nil {
					log.Printf("[SWEEP] Failed: %v", err)
				} else if swept > 0 {
					log.Printf("[SWEEP] Released %d expired reservations", swept)
				}
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(billingCfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if _, err := reconciliationService.ReconcileAll(jobCtx); err != nil {
					log.Printf("[RECONCILE] Scheduled run failed: %v", err)
				}
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/billing/balance", billingHandler.GetBalance)
			r.Post("/billing/usage", billingHandler.BillUsage)
			r.Get("/billing/transactions", billingHandler.ListTransactions)
			r.Post("/billing/topup", billingHandler.TopUp)
			r.Post("/billing/reconcile", billingHandler.Reconcile)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
