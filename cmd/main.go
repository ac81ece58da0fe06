/**
 * @description
 * This is the main entry point for the payment-service. It is responsible for
 * initializing all components of the service, including configuration, database connection,
 * the card gateway client, message brokers, repositories, the core application service,
 * and the HTTP server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/gateway: The configured card gateway variant (PayFast or Stripe).
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/oddjobs/payment-service/internal/api"
	"github.com/oddjobs/payment-service/internal/app"
	"github.com/oddjobs/payment-service/internal/config"
	"github.com/oddjobs/payment-service/internal/domain"
	"github.com/oddjobs/payment-service/internal/store"
	"github.com/oddjobs/payment-service/pkg/gateway"
	"github.com/oddjobs/payment-service/pkg/gateway/payfast"
	"github.com/oddjobs/payment-service/pkg/gateway/stripe"
	rmrabbit "github.com/oddjobs/payment-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file when present. In deployed environments the
	// variables come from the orchestrator.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-service\" port=%s provider=%s", cfg.ServerPort, cfg.PaymentProvider)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish events. A broker outage
	// degrades to the no-op fallback rather than blocking payments.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Select the card gateway variant once, from configuration.
	var paymentGateway gateway.Gateway
	switch cfg.PaymentProvider {
	case "stripe":
		paymentGateway = stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookKey)
	case "payfast":
		paymentGateway = payfast.New(payfast.Config{
			MerchantID:  cfg.PayfastMerchantID,
			MerchantKey: cfg.PayfastMerchantKey,
			Passphrase:  cfg.PayfastPassphrase,
			Mode:        cfg.PayfastMode,
			ReturnURL:   cfg.CallbackBaseURL + "/payments/return",
			CancelURL:   cfg.CallbackBaseURL + "/payments/cancel",
			NotifyURL:   cfg.CallbackBaseURL + "/payments/notify/payfast",
		})
	default:
		log.Fatalf("level=fatal component=bootstrap msg=\"unknown payment provider\" provider=%s", cfg.PaymentProvider)
	}

	// Optional Redis connection for notification replay suppression.
	var dedup app.Deduper
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; notification dedup disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; notification dedup disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; notification dedup disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				dedup = app.NewRedisEventDeduper(redisClient, cfg.NotifyDedupPrefix, time.Duration(cfg.NotifyDedupTTLMinutes)*time.Minute)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	feePolicy := domain.NewFeePolicy(cfg.PlatformFeePercent, cfg.FreeTrialDays)
	paymentService := app.NewService(
		repository,
		paymentGateway,
		publisher,
		dedup,
		feePolicy,
		cfg.CallbackBaseURL,
	)

	// Start the stale-payment reconciliation sweep.
	reconciler := app.NewReconciler(
		paymentService,
		cfg.ReconcileSchedule,
		time.Duration(cfg.PendingPaymentTTLHrs)*time.Hour,
	)
	reconciler.Start()

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(paymentHandlers, cfg.JWTSecret, cfg.ClientOrigin))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	// Stop the sweep first so no new ledger mutations start mid-shutdown.
	<-reconciler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
