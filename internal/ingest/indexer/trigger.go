// Package indexer hands persisted documents off to the downstream indexing
// service via Kafka. The hand-off is fire-and-forget: a publish failure is
// logged and counted but never changes the document's ingestion outcome, and
// retry semantics belong to the consumer side.
package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/pkg/kafka"
	"github.com/docpull/ingest/pkg/metrics"
	"github.com/docpull/ingest/pkg/resilience"
)

// publishTimeout bounds a single trigger publish so a wedged broker cannot
// leak goroutines indefinitely.
const publishTimeout = 10 * time.Second

// Producer is the Kafka publish surface the trigger needs.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Trigger publishes index tasks for freshly persisted documents.
type Trigger struct {
	producer Producer
	breaker  *resilience.CircuitBreaker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// New creates a Trigger. The circuit breaker stops hammering a broker that
// is already failing; while it is open, triggers are dropped (and logged)
// immediately.
func New(producer Producer, m *metrics.Metrics) *Trigger {
	return &Trigger{
		producer: producer,
		breaker:  resilience.NewCircuitBreaker("index-trigger", resilience.CircuitBreakerConfig{}),
		metrics:  m,
		logger:   slog.Default().With("component", "index-trigger"),
	}
}

// Trigger publishes the task asynchronously and returns immediately. The
// publish uses a detached context so it is not cut short when the batch
// request that spawned it completes.
func (t *Trigger) Trigger(task ingest.IndexTask) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		err := t.breaker.Execute(func() error {
			return t.producer.Publish(ctx, kafka.Event{
				Key:   task.DocumentID,
				Value: task,
			})
		})
		if err != nil {
			t.logger.Error("index trigger failed, document stays pending",
				"doc_id", task.DocumentID,
				"error", err,
			)
			if t.metrics != nil {
				t.metrics.IndexTriggersTotal.WithLabelValues("error").Inc()
			}
			return
		}
		t.logger.Debug("index task published", "doc_id", task.DocumentID)
		if t.metrics != nil {
			t.metrics.IndexTriggersTotal.WithLabelValues("ok").Inc()
		}
	}()
}

// Wait blocks until all in-flight trigger publishes have settled. Used
// during shutdown so queued hand-offs are not dropped.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
