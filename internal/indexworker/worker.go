// Package indexworker consumes index tasks published by the ingestion service
// and settles each document's index status. The worker is intentionally thin:
// it validates and acknowledges tasks, delegates the content to the search
// indexer, and records the resulting status transition on the document row.
package indexworker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docpull/ingest/internal/ingest"
	apperrors "github.com/docpull/ingest/pkg/errors"
	"github.com/docpull/ingest/pkg/kafka"
)

// Indexer pushes document content into the search index.
type Indexer interface {
	Index(ctx context.Context, task ingest.IndexTask) error
}

// StatusSetter records a document's index status transition.
type StatusSetter interface {
	SetIndexStatus(ctx context.Context, docID, status string) error
}

// Worker processes index tasks from Kafka.
type Worker struct {
	indexer Indexer
	docs    StatusSetter
	logger  *slog.Logger
}

// New creates a Worker.
func New(indexer Indexer, docs StatusSetter) *Worker {
	return &Worker{
		indexer: indexer,
		docs:    docs,
		logger:  slog.Default().With("component", "index-worker"),
	}
}

// Handle is the Kafka message handler. A malformed payload is dropped (there
// is no useful retry for it); an indexing failure marks the document failed
// and is swallowed so the offset still commits, because the ingestion side
// treats indexing as best-effort and operators re-drive via the audit trail.
func (w *Worker) Handle(ctx context.Context, key []byte, value []byte) error {
	task, err := kafka.DecodeJSON[ingest.IndexTask](value)
	if err != nil {
		w.logger.Error("dropping malformed index task", "key", string(key), "error", err)
		return nil
	}
	if task.DocumentID == "" {
		w.logger.Error("dropping index task without document id", "key", string(key))
		return nil
	}

	if err := w.indexer.Index(ctx, task); err != nil {
		w.logger.Error("indexing failed", "doc_id", task.DocumentID, "error", err)
		w.setStatus(ctx, task.DocumentID, ingest.IndexFailed)
		return nil
	}

	w.setStatus(ctx, task.DocumentID, ingest.IndexDone)
	w.logger.Debug("document indexed", "doc_id", task.DocumentID)
	return nil
}

func (w *Worker) setStatus(ctx context.Context, docID, status string) {
	if err := w.docs.SetIndexStatus(ctx, docID, status); err != nil {
		w.logger.Error("updating index status failed",
			"doc_id", docID,
			"status", status,
			"error", err,
		)
	}
}

// LogIndexer is the default Indexer used until a search backend is attached:
// it validates the task and logs it, which keeps the status machinery and the
// consumer loop exercised end to end.
type LogIndexer struct {
	logger *slog.Logger
}

// NewLogIndexer creates a LogIndexer.
func NewLogIndexer() *LogIndexer {
	return &LogIndexer{logger: slog.Default().With("component", "log-indexer")}
}

// Index validates and logs the task.
func (l *LogIndexer) Index(_ context.Context, task ingest.IndexTask) error {
	if task.Content == "" {
		return fmt.Errorf("%w: index task %s has no content", apperrors.ErrInvalidRequest, task.DocumentID)
	}
	l.logger.Info("index task received",
		"doc_id", task.DocumentID,
		"source_id", task.Meta.SourceID,
		"content_hash", task.Meta.Fingerprint,
		"content_size", len(task.Content),
		"lang", task.Lang,
	)
	return nil
}
