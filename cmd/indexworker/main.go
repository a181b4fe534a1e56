// Command indexworker consumes index tasks from Kafka and settles the index
// status of persisted documents. It is the consumer side of the ingestion
// service's fire-and-forget index hand-off.
//
// Usage:
//
//	go run ./cmd/indexworker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/docpull/ingest/internal/indexworker"
	"github.com/docpull/ingest/internal/ingest/audit"
	"github.com/docpull/ingest/internal/ingest/store"
	"github.com/docpull/ingest/pkg/config"
	"github.com/docpull/ingest/pkg/kafka"
	"github.com/docpull/ingest/pkg/logger"
	"github.com/docpull/ingest/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index worker",
		"topic", cfg.Kafka.Topics.DocumentIndex,
		"group", cfg.Kafka.ConsumerGroup,
	)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	worker := indexworker.New(indexworker.NewLogIndexer(), store.New(db, audit.NewRecorder(db)))
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIndex, worker.Handle)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("index worker ready, consuming from kafka")
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("index worker stopped")
}
