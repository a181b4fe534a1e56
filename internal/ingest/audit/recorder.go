// Package audit maintains the append-only upload history. Every document
// attempt leaves a pending record at intake and exactly one terminal record
// (success, failed, or rejected) on completion; records are never updated in
// place, so the log doubles as the duplicate detector's history source and
// the operators' incident-investigation trail.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/pkg/postgres"
	"github.com/docpull/ingest/pkg/resilience"
)

// Recorder writes audit log rows.
type Recorder struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(db *postgres.Client) *Recorder {
	return &Recorder{
		db:     db,
		logger: slog.Default().With("component", "audit-recorder"),
	}
}

const insertSQL = `
	INSERT INTO ingest_audit_log
		(url, content_hash, version, title, source_id, lang, status,
		 rejection_reason, operation_id, doc_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id`

// RecordPending appends a pending record marking the start of a persistence
// attempt and returns its id.
func (r *Recorder) RecordPending(ctx context.Context, entry ingest.AuditEntry) (int64, error) {
	entry.Status = ingest.AuditPending
	entry.RejectionReason = ""
	return r.insert(ctx, entry)
}

// RecordTerminal appends the terminal record for a document attempt. The
// write is retried with backoff: an attempt must never be reported as
// success while its audit trail is incomplete, so the terminal write is the
// compensating action when it cannot ride in the persistence transaction.
func (r *Recorder) RecordTerminal(ctx context.Context, entry ingest.AuditEntry) error {
	err := resilience.Retry(ctx, "audit-terminal-write", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		_, insertErr := r.insert(ctx, entry)
		return insertErr
	})
	if err != nil {
		return fmt.Errorf("recording terminal audit entry: %w", err)
	}
	return nil
}

// RecordTerminalTx appends the terminal record inside an existing
// transaction, so a document and its success record commit atomically.
func (r *Recorder) RecordTerminalTx(ctx context.Context, tx *sql.Tx, entry ingest.AuditEntry) error {
	var id int64
	if err := tx.QueryRowContext(ctx, insertSQL,
		entry.URL, entry.Fingerprint, entry.Version, entry.Title,
		entry.SourceID, entry.Lang, entry.Status,
		postgres.NullString(entry.RejectionReason),
		postgres.NullString(entry.OperationID),
		postgres.NullString(entry.DocumentID),
	).Scan(&id); err != nil {
		return fmt.Errorf("inserting audit entry in tx: %w", err)
	}
	return nil
}

// LatestAttempt returns the most recent audit entry for the dedup key, or
// nil when the key has never been seen. This is the duplicate detector's
// history source.
func (r *Recorder) LatestAttempt(ctx context.Context, url, fingerprint, version string) (*ingest.AuditRecord, error) {
	row := r.db.DB.QueryRowContext(ctx, `
		SELECT id, url, content_hash, version, title, source_id, lang, status,
		       COALESCE(rejection_reason, ''), COALESCE(operation_id, ''),
		       COALESCE(doc_id, ''), uploaded_at
		FROM ingest_audit_log
		WHERE url = $1 AND content_hash = $2 AND version = $3
		ORDER BY uploaded_at DESC, id DESC
		LIMIT 1`, url, fingerprint, version)

	var rec ingest.AuditRecord
	err := row.Scan(&rec.ID, &rec.URL, &rec.Fingerprint, &rec.Version,
		&rec.Title, &rec.SourceID, &rec.Lang, &rec.Status,
		&rec.RejectionReason, &rec.OperationID, &rec.DocumentID,
		&rec.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest attempt: %w", err)
	}
	return &rec, nil
}

func (r *Recorder) insert(ctx context.Context, entry ingest.AuditEntry) (int64, error) {
	var id int64
	err := r.db.DB.QueryRowContext(ctx, insertSQL,
		entry.URL, entry.Fingerprint, entry.Version, entry.Title,
		entry.SourceID, entry.Lang, entry.Status,
		postgres.NullString(entry.RejectionReason),
		postgres.NullString(entry.OperationID),
		postgres.NullString(entry.DocumentID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting audit entry: %w", err)
	}
	r.logger.Debug("audit entry recorded",
		"id", id,
		"url", entry.URL,
		"status", entry.Status,
	)
	return id, nil
}
