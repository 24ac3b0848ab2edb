package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/stockcast/internal/billing"
	"github.com/quantleap/stockcast/internal/config"
	"github.com/quantleap/stockcast/internal/handlers"
	"github.com/quantleap/stockcast/internal/keystore"
	"github.com/quantleap/stockcast/internal/predictor"
	"github.com/quantleap/stockcast/internal/quota"
	"github.com/quantleap/stockcast/internal/training"
	"github.com/quantleap/stockcast/pkg/database"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("environment", cfg.Environment).Msg("Starting Stockcast API")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Redis (quota counters + training queue)
	redisClient, err := newRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redisClient.Close()

	// Select the keystore backend once at startup
	var store keystore.Store
	switch cfg.KeystoreBackend {
	case "memory":
		log.Warn().Msg("Using in-memory keystore; data is lost on restart")
		store = keystore.NewMemory()
	default:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		log.Info().Msg("Running database migrations...")
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Migrations completed successfully")

		store = keystore.NewPostgres(db, cfg.EncryptionKey)
	}

	// Select the quota ledger backend once at startup
	var ledger quota.Ledger
	switch cfg.QuotaBackend {
	case "memory":
		// Single-process degradation only; replicas would count separately.
		log.Warn().Msg("Using in-memory quota ledger; not safe for multi-instance deployments")
		ledger = quota.NewMemory()
	default:
		ledger = quota.NewRedis(redisClient)
	}

	// Initialize collaborators
	catalog := billing.DefaultCatalog()
	billingClient := billing.NewHTTPClient(cfg.BillingAPIURL, cfg.BillingAPIKey, cfg.BillingTimeout)
	reconciler := billing.NewReconciler(store, catalog, billingClient, cfg.BillingTimeout)
	predictorClient := predictor.NewHTTPClient(cfg.PredictorURL, cfg.PredictorTimeout)
	trainingQueue := training.NewRedisQueue(redisClient, cfg.TrainingQueue)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(store, cfg)
	keyHandler := handlers.NewKeyHandler(store, reconciler)
	forecastHandler := handlers.NewForecastHandler(store, ledger, catalog, predictorClient, cfg.FreeMinuteLimit, cfg.FreeDayLimit)
	webhookHandler := handlers.NewWebhookHandler(billing.NewHMACVerifier(cfg.WebhookSecret), reconciler)
	adminHandler := handlers.NewAdminHandler(trainingQueue)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public Routes
		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/login", authHandler.Login)

		// Metered forecast endpoint, authenticated by API key secret
		r.Get("/forecast/{symbol}", forecastHandler.Forecast)

		// Management surface, authenticated by session token
		r.Group(func(r chi.Router) {
			r.Use(handlers.SessionAuth(cfg.JWTSecret))

			r.Get("/auth/me", authHandler.GetMe)

			r.Route("/keys", func(r chi.Router) {
				r.Get("/", keyHandler.ListKeys)
				r.Put("/{id}", keyHandler.RenameKey)
				r.Post("/{id}/rotate", keyHandler.RotateKey)
				r.Post("/{id}/reveal", keyHandler.RevealKey)
				r.Delete("/{id}", keyHandler.DeleteKey)
			})

			r.Post("/admin/retrain", adminHandler.Retrain)
		})
	})

	// Webhook endpoint (separate from versioned API)
	r.Post("/api/webhook/billing", webhookHandler.HandleBillingEvent)

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Server stopped")
}

func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
