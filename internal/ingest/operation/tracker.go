// Package operation tracks batch ingestion operations: one aggregate record
// per batch call plus one outcome row per document attempt. The coordinator
// exclusively owns the operation lifecycle; counters are written once at
// close after all per-document results have been aggregated serially.
package operation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/pkg/postgres"
)

// Tracker persists operations and their per-document outcomes.
type Tracker struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(db *postgres.Client) *Tracker {
	return &Tracker{
		db:     db,
		logger: slog.Default().With("component", "operation-tracker"),
	}
}

// Open creates a pending operation sized to the batch and returns its id.
func (t *Tracker) Open(ctx context.Context, sourceID string, totalDocs int, crawlerVersion string) (string, error) {
	operationID := "op_batch_" + uuid.NewString()
	_, err := t.db.DB.ExecContext(ctx, `
		INSERT INTO operations (operation_id, source_id, status, docs_count, failed_count, crawler_version)
		VALUES ($1, $2, $3, $4, 0, $5)`,
		operationID, sourceID, ingest.OperationPending, totalDocs,
		postgres.NullString(crawlerVersion),
	)
	if err != nil {
		return "", fmt.Errorf("creating operation: %w", err)
	}
	t.logger.Info("operation opened",
		"operation_id", operationID,
		"source_id", sourceID,
		"total_docs", totalDocs,
	)
	return operationID, nil
}

// RecordDocumentOutcome appends the settled outcome of one document attempt.
// documentID is empty when the attempt never reached persistence.
func (t *Tracker) RecordDocumentOutcome(ctx context.Context, operationID, documentID, outcome string, errDetail *ingest.ErrorDetail) error {
	var code, message string
	if errDetail != nil {
		code = errDetail.Code
		message = errDetail.Message
	}
	_, err := t.db.DB.ExecContext(ctx, `
		INSERT INTO operation_documents (operation_id, doc_id, status, error_code, error_message)
		VALUES ($1, $2, $3, $4, $5)`,
		operationID, postgres.NullString(documentID), outcome,
		postgres.NullString(code), postgres.NullString(message),
	)
	if err != nil {
		return fmt.Errorf("recording document outcome: %w", err)
	}
	return nil
}

// Close finalizes the operation with its counters and derived status, and
// returns that status. It must be called exactly once, after every
// per-document task has settled.
func (t *Tracker) Close(ctx context.Context, operationID string, processed, failed int) (string, error) {
	status := FinalStatus(processed, failed)
	_, err := t.db.DB.ExecContext(ctx, `
		UPDATE operations
		SET status = $2, failed_count = $3, completed_at = $4
		WHERE operation_id = $1`,
		operationID, status, failed, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("closing operation: %w", err)
	}
	t.logger.Info("operation closed",
		"operation_id", operationID,
		"status", status,
		"processed", processed,
		"failed", failed,
	)
	return status, nil
}

// FinalStatus derives the three-way batch status: success when nothing
// failed, failed when nothing succeeded, partial otherwise.
func FinalStatus(processed, failed int) string {
	switch {
	case failed == 0:
		return ingest.OperationSuccess
	case processed == 0:
		return ingest.OperationFailed
	default:
		return ingest.OperationPartial
	}
}
