// Command ingestd starts the batch document ingestion HTTP service.
//
// The service accepts crawler batches via POST /api/v1/docs/batch, deduplicates
// documents by (url, contentHash, version), persists accepted documents to
// PostgreSQL with a full audit trail, and hands each persisted document off to
// the downstream indexer via Kafka. Read models for operations and the audit
// log are exposed under /api/v1, health probes under /health.
//
// Usage:
//
//	go run ./cmd/ingestd [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/internal/ingest/audit"
	"github.com/docpull/ingest/internal/ingest/coordinator"
	"github.com/docpull/ingest/internal/ingest/dedup"
	"github.com/docpull/ingest/internal/ingest/handler"
	"github.com/docpull/ingest/internal/ingest/indexer"
	"github.com/docpull/ingest/internal/ingest/operation"
	"github.com/docpull/ingest/internal/ingest/store"
	"github.com/docpull/ingest/internal/ingest/validator"
	"github.com/docpull/ingest/pkg/config"
	"github.com/docpull/ingest/pkg/health"
	"github.com/docpull/ingest/pkg/kafka"
	"github.com/docpull/ingest/pkg/logger"
	"github.com/docpull/ingest/pkg/metrics"
	"github.com/docpull/ingest/pkg/middleware"
	"github.com/docpull/ingest/pkg/postgres"
	"github.com/docpull/ingest/pkg/redis"
)

// main loads configuration, connects to PostgreSQL (running migrations), Redis,
// and Kafka, wires the ingestion pipeline, and starts the HTTP server. Graceful
// shutdown is triggered by SIGINT/SIGTERM and waits for in-flight index
// triggers.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := ingest.Migrate(context.Background(), db.DB); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	var dedupCache dedup.Cache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			// The cache is a fast path only; the service degrades to
			// database-backed dedup when Redis is unavailable.
			slog.Warn("redis unavailable, dedup cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			dedupCache = redisClient
			slog.Info("connected to redis", "addr", cfg.Redis.Addr)
		}
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIndex)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentIndex)

	m := metrics.New()

	auditRecorder := audit.NewRecorder(db)
	docStore := store.New(db, auditRecorder)
	detector := dedup.New(auditRecorder, docStore, dedupCache, dedup.Config{
		PendingGrace: cfg.Ingestion.PendingGrace,
		CacheTTL:     cfg.Ingestion.DedupCacheTTL,
	})
	tracker := operation.NewTracker(db)
	trigger := indexer.New(producer, m)
	coord := coordinator.New(
		coordinator.Config{
			Concurrency: cfg.Ingestion.Concurrency,
			IOTimeout:   cfg.Ingestion.IOTimeout,
		},
		validator.New(validator.Config{
			MaxBatchSize:   cfg.Ingestion.MaxBatchSize,
			ServerChunking: cfg.Ingestion.ServerChunking,
		}),
		detector, auditRecorder, docStore, tracker, trigger, m,
	)
	h := handler.New(coord, operation.NewReader(db), audit.NewReader(db))

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("kafka", func(ctx context.Context) health.ComponentHealth {
		if err := kafka.Ping(ctx, cfg.Kafka.Brokers); err != nil {
			// Degraded: ingestion still persists documents; only the index
			// hand-off is at risk while the broker is away.
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if err := redisClient.Ping(ctx); err != nil {
				// Degraded, not down: dedup falls back to the database.
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var root http.Handler = mux
	root = middleware.Timeout(cfg.Server.RequestTimeout)(root)
	root = middleware.Metrics(m)(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Queued index hand-offs publish on detached contexts; give them a bounded
	// window to drain before the producer closes.
	drained := make(chan struct{})
	go func() {
		trigger.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.Server.ShutdownTimeout):
		slog.Warn("index trigger drain timed out")
	}
	slog.Info("ingestion service stopped")
}
