// Package store persists accepted documents. Inserts go through a
// transaction that also writes the success audit record, so a document can
// never be persisted with an incomplete audit trail. The unique index on
// (url, content_hash, version) is the authoritative dedup guard; a
// constraint violation surfaces as a duplicate rejection, not an internal
// error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/internal/ingest/audit"
	"github.com/docpull/ingest/internal/ingest/dedup"
	apperrors "github.com/docpull/ingest/pkg/errors"
	"github.com/docpull/ingest/pkg/postgres"
)

// Store persists documents.
type Store struct {
	db     *postgres.Client
	audit  *audit.Recorder
	logger *slog.Logger
}

// New creates a Store.
func New(db *postgres.Client, auditRecorder *audit.Recorder) *Store {
	return &Store{
		db:     db,
		audit:  auditRecorder,
		logger: slog.Default().With("component", "document-store"),
	}
}

// Insert persists the document with a generated id and pending index status,
// writing the terminal success audit record in the same transaction. On a
// unique-constraint hit it returns a DUPLICATE_DOCUMENT error carrying the
// id of the already-persisted document.
func (s *Store) Insert(ctx context.Context, doc *ingest.Document, operationID string) (string, error) {
	docID := "doc_" + uuid.NewString()

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents
				(doc_id, url, title, content, content_hash, version, lang,
				 source_id, doc_type, index_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			docID, doc.URL, doc.Title, doc.Content, doc.Fingerprint,
			doc.Version, doc.Lang, doc.SourceID,
			postgres.NullString(doc.DocType), ingest.IndexPending,
		)
		if err != nil {
			return err
		}
		return s.audit.RecordTerminalTx(ctx, tx, ingest.AuditEntry{
			URL:         doc.URL,
			Fingerprint: doc.Fingerprint,
			Version:     doc.Version,
			Title:       doc.Title,
			SourceID:    doc.SourceID,
			Lang:        doc.Lang,
			Status:      ingest.AuditSuccess,
			OperationID: operationID,
			DocumentID:  docID,
		})
	})
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			existingID := s.existingID(ctx, doc.URL, doc.Fingerprint, doc.Version)
			s.logger.Info("insert lost dedup race to concurrent writer",
				"url", doc.URL,
				"existing_id", existingID,
			)
			return "", apperrors.Duplicate(dedup.ReasonStore, existingID)
		}
		return "", fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("document persisted", "doc_id", docID, "url", doc.URL)
	return docID, nil
}

// FindByKey returns the document persisted under the dedup key, or nil when
// none exists.
func (s *Store) FindByKey(ctx context.Context, url, fingerprint, version string) (*ingest.Document, error) {
	row := s.db.DB.QueryRowContext(ctx, `
		SELECT doc_id, url, title, content_hash, version, lang, source_id,
		       COALESCE(doc_type, ''), index_status, created_at
		FROM documents
		WHERE url = $1 AND content_hash = $2 AND version = $3`,
		url, fingerprint, version)

	var doc ingest.Document
	err := row.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.Fingerprint,
		&doc.Version, &doc.Lang, &doc.SourceID, &doc.DocType,
		&doc.IndexStatus, &doc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying document by key: %w", err)
	}
	return &doc, nil
}

// SetIndexStatus updates a document's index status. Used by the index worker
// when the downstream indexer reports back; the ingestion pipeline itself
// only ever writes the initial pending status.
func (s *Store) SetIndexStatus(ctx context.Context, docID, status string) error {
	result, err := s.db.DB.ExecContext(ctx, `
		UPDATE documents SET index_status = $2, updated_at = now()
		WHERE doc_id = $1`, docID, status)
	if err != nil {
		return fmt.Errorf("updating index status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "document %s not found", docID)
	}
	return nil
}

// existingID is a best-effort lookup of the document that won the insert
// race; "" when it cannot be determined.
func (s *Store) existingID(ctx context.Context, url, fingerprint, version string) string {
	existing, err := s.FindByKey(ctx, url, fingerprint, version)
	if err != nil || existing == nil {
		return ""
	}
	return existing.ID
}
