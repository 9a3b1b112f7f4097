package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"nftsale/internal/handler"
	"nftsale/internal/middleware"
	"nftsale/internal/repository/postgres"
	"nftsale/internal/sale"
	"nftsale/internal/token"
	"nftsale/internal/ws"
	"nftsale/pkg/config"
	"nftsale/pkg/logger"
	"nftsale/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.New("sale-service")

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Sale Service", map[string]interface{}{
		"port": cfg.Server.Port,
	})

	// Database connection
	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	log.Info("Database connected", nil)

	// Redis connection
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Redis connected", nil)

	// Collaborator token services. The deployment simulates the asset and
	// currency registries in process; a production deployment swaps in
	// adapters for the real ownership and currency systems.
	assets := token.NewAssetRegistry()
	currency := token.NewCurrency()

	store := postgres.NewStore(db)
	hub := ws.NewHub(log)

	adminID := uuid.MustParse(cfg.Market.AdminID)
	engineID := uuid.MustParse(cfg.Market.EngineID)

	engine := sale.NewService(engineID, assets, currency, store, hub, log)
	if err := engine.Initialize(context.Background(), adminID,
		cfg.Market.PlatformSharePercent, cfg.Market.PartnerSharePercent); err != nil {
		log.Fatal("Failed to initialize sale engine", map[string]interface{}{
			"error": err.Error(),
		})
	}

	state, err := store.Load(context.Background())
	if err != nil {
		log.Fatal("Failed to load persisted state", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := engine.Restore(state); err != nil {
		log.Fatal("Failed to restore sale engine", map[string]interface{}{
			"error": err.Error(),
		})
	}
	log.Info("Engine state restored", map[string]interface{}{
		"listings": len(state.Listings),
		"grants":   len(state.Grants),
	})

	// Initialize handlers
	val := validator.New()
	saleHandler := handler.NewSaleHandler(engine, val, log)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(redisClient, 120, time.Minute).Limit)

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	idemMW := middleware.NewIdempotencyMiddleware(redisClient, 24*time.Hour)

	// Routes
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ready", readyCheck(db)).Methods("GET")
	r.HandleFunc("/ws", hub.HandleWS)

	// Read-only queries
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/listings/{assetID}", saleHandler.GetListing).Methods("GET")
	api.HandleFunc("/shares/config", saleHandler.GetShareConfig).Methods("GET")
	api.HandleFunc("/shares/balances", saleHandler.GetBalances).Methods("GET")
	api.HandleFunc("/roles/{capability}/{principal}", saleHandler.HasCapability).Methods("GET")

	// Mutating surface, behind auth and idempotency keys
	mutating := api.NewRoute().Subrouter()
	mutating.Use(authMW.Authenticate)
	mutating.Use(idemMW.Require)
	mutating.HandleFunc("/listings", saleHandler.CreateListing).Methods("POST")
	mutating.HandleFunc("/purchases", saleHandler.Purchase).Methods("POST")
	mutating.HandleFunc("/withdrawals/platform", saleHandler.WithdrawPlatformShare).Methods("POST")
	mutating.HandleFunc("/withdrawals/partner", saleHandler.WithdrawPartnerShare).Methods("POST")
	mutating.HandleFunc("/roles/grant", saleHandler.GrantRole).Methods("POST")
	mutating.HandleFunc("/roles/revoke", saleHandler.RevokeRole).Methods("POST")

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	log.Info("Sale Service started", map[string]interface{}{
		"addr": srv.Addr,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}

	log.Info("Server stopped", nil)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func readyCheck(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
