package audit

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/pkg/postgres"
)

// Filter narrows an audit log query. Zero-value fields are ignored.
type Filter struct {
	URL         string
	Fingerprint string
	Version     string
	OperationID string
	Status      string
	Limit       uint64
	Offset      uint64
}

// Reader serves the operator-facing audit read model. It is not used by the
// ingestion pipeline at runtime beyond the duplicate detector's history
// check.
type Reader struct {
	db *postgres.Client
}

// NewReader creates a Reader.
func NewReader(db *postgres.Client) *Reader {
	return &Reader{db: db}
}

// Query returns audit records matching the filter, newest first.
func (r *Reader) Query(ctx context.Context, f Filter) ([]ingest.AuditRecord, error) {
	if f.Limit == 0 || f.Limit > 200 {
		f.Limit = 50
	}
	builder := sq.Select(
		"id", "url", "content_hash", "version", "title", "source_id", "lang",
		"status", "COALESCE(rejection_reason, '')", "COALESCE(operation_id, '')",
		"COALESCE(doc_id, '')", "uploaded_at",
	).
		From("ingest_audit_log").
		OrderBy("uploaded_at DESC", "id DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		PlaceholderFormat(sq.Dollar)

	if f.URL != "" {
		builder = builder.Where(sq.Eq{"url": f.URL})
	}
	if f.Fingerprint != "" {
		builder = builder.Where(sq.Eq{"content_hash": f.Fingerprint})
	}
	if f.Version != "" {
		builder = builder.Where(sq.Eq{"version": f.Version})
	}
	if f.OperationID != "" {
		builder = builder.Where(sq.Eq{"operation_id": f.OperationID})
	}
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": f.Status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	records := make([]ingest.AuditRecord, 0)
	for rows.Next() {
		var rec ingest.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.URL, &rec.Fingerprint, &rec.Version,
			&rec.Title, &rec.SourceID, &rec.Lang, &rec.Status,
			&rec.RejectionReason, &rec.OperationID, &rec.DocumentID,
			&rec.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return records, nil
}
