/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration,
 * selects the storage backend, connects Redis and RabbitMQ, starts the outbox
 * dispatcher, the approval decision consumer and the maintenance scheduler,
 * and serves the HTTP API until it receives SIGINT or SIGTERM.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Transfer rate limiting.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/ledger-service/internal/api"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	rmrabbit "github.com/transfa/ledger-service/pkg/rabbitmq"
)

// ledgerStore is implemented by both storage backends.
type ledgerStore interface {
	store.Repository
	store.OutboxRepository
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"starting ledger-service\" port=%s store=%s", cfg.ServerPort, cfg.StoreDriver)

	ctx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var repository ledgerStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		repository = openMemoryStore(cfg)
	default:
		dbpool := openPostgres(ctx, cfg)
		defer dbpool.Close()
		repository = store.NewPostgresRepository(dbpool)
	}

	ledgerService := app.NewService(repository, cfg.EventsExchange)

	if cfg.TransferRateLimitPerMinute > 0 {
		if redisClient := openRedis(cfg); redisClient != nil {
			defer redisClient.Close()
			ledgerService.SetTransferRateLimiter(app.NewRedisTransferRateLimiter(
				redisClient, cfg.RedisRateLimitPrefix, cfg.TransferRateLimitPerMinute, time.Minute,
			))
		}
	}

	dispatcher, err := app.NewOutboxDispatcher(app.OutboxDispatcherConfig{
		Repo:         repository,
		NewPublisher: publisherFactory(cfg.RabbitMQURL),
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval(),
	})
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"outbox dispatcher init failed\" err=%v", err)
	}
	go dispatcher.Run(ctx)

	if cfg.RabbitMQURL != "" {
		rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; staff decisions only via HTTP\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			decisions := ledgerService.ApprovalDecisionConsumer()
			bindings := map[string]rmrabbit.Handler{
				domain.RoutingKeyStaffAccountDecision: decisions.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.ApprovalDecisionQueue, bindings); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"approval decision consumer start failed\" err=%v", err)
			}
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	jobs := app.NewJobs(repository, repository, cfg.EventsExchange, cfg.OutboxRetention(), logger)
	scheduler := app.NewScheduler(jobs, logger, cfg.ReconcileJobSchedule, cfg.OutboxPruneSchedule)
	scheduler.Start()

	ledgerHandlers := api.NewLedgerHandlers(ledgerService)

	router := chi.NewRouter()
	router.Mount("/ledger", api.LedgerRoutes(ledgerHandlers, api.RouterConfig{
		Verifier:       api.NewTokenVerifier(cfg.JWTSecret, cfg.ClerkJWKSURL, cfg.JWTIssuer),
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-scheduler.Stop().Done()
	stopRun()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

func openPostgres(ctx context.Context, cfg config.Config) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	if cfg.RunMigrations {
		if err := store.Migrate(ctx, dbpool); err != nil {
			dbpool.Close()
			log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	}
	return dbpool
}

func openMemoryStore(cfg config.Config) *store.MemoryRepository {
	if cfg.MemorySeedPath == "" {
		log.Println("level=warn component=bootstrap msg=\"memory store without seed; ledger starts empty\"")
		return store.NewMemoryRepository()
	}
	repository, err := store.LoadMemorySeed(cfg.MemorySeedPath)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"memory seed load failed\" path=%s err=%v", cfg.MemorySeedPath, err)
	}
	log.Printf("level=info component=bootstrap msg=\"memory store seeded\" path=%s", cfg.MemorySeedPath)
	return repository
}

// openRedis returns nil when Redis is not configured or unreachable; transfers
// are then not rate limited.
func openRedis(cfg config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; transfer rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; transfer rate limiting disabled\" err=%v", err)
		return nil
	}

	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; transfer rate limiting disabled\" err=%v", err)
		redisClient.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return redisClient
}

func publisherFactory(amqpURL string) func() (rmrabbit.Publisher, error) {
	if amqpURL == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; events stay in the outbox log only\" env=RABBITMQ_URL")
		return func() (rmrabbit.Publisher, error) {
			return &rmrabbit.EventProducerFallback{}, nil
		}
	}
	return func() (rmrabbit.Publisher, error) {
		producer, err := rmrabbit.NewEventProducer(amqpURL)
		if err != nil {
			return nil, err
		}
		return producer, nil
	}
}
