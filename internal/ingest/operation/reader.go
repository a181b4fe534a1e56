package operation

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/docpull/ingest/internal/ingest"
	apperrors "github.com/docpull/ingest/pkg/errors"
	"github.com/docpull/ingest/pkg/postgres"
)

// Filter narrows an operation listing. Zero-value fields are ignored.
type Filter struct {
	SourceID string
	Status   string
	Limit    uint64
	Offset   uint64
}

// Detail is an operation together with its per-document outcome rows.
type Detail struct {
	ingest.Operation
	Documents []ingest.OperationDocument `json:"documents"`
}

// Reader serves the operator-facing operations read model.
type Reader struct {
	db *postgres.Client
}

// NewReader creates a Reader.
func NewReader(db *postgres.Client) *Reader {
	return &Reader{db: db}
}

// List returns operations matching the filter, newest first.
func (r *Reader) List(ctx context.Context, f Filter) ([]ingest.Operation, error) {
	if f.Limit == 0 || f.Limit > 100 {
		f.Limit = 20
	}
	builder := sq.Select(
		"operation_id", "source_id", "status", "docs_count", "failed_count",
		"COALESCE(crawler_version, '')", "created_at", "completed_at",
	).
		From("operations").
		OrderBy("created_at DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		PlaceholderFormat(sq.Dollar)

	if f.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.Status != "" {
		builder = builder.Where(sq.Eq{"status": f.Status})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building operations query: %w", err)
	}

	rows, err := r.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying operations: %w", err)
	}
	defer rows.Close()

	ops := make([]ingest.Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation rows: %w", err)
	}
	return ops, nil
}

// Get returns one operation with its per-document outcomes.
func (r *Reader) Get(ctx context.Context, operationID string) (*Detail, error) {
	row := r.db.DB.QueryRowContext(ctx, `
		SELECT operation_id, source_id, status, docs_count, failed_count,
		       COALESCE(crawler_version, ''), created_at, completed_at
		FROM operations
		WHERE operation_id = $1`, operationID)

	op, err := scanOperation(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", operationID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.DB.QueryContext(ctx, `
		SELECT operation_id, COALESCE(doc_id, ''), status,
		       COALESCE(error_code, ''), COALESCE(error_message, '')
		FROM operation_documents
		WHERE operation_id = $1
		ORDER BY id`, operationID)
	if err != nil {
		return nil, fmt.Errorf("querying operation documents: %w", err)
	}
	defer rows.Close()

	detail := &Detail{Operation: op, Documents: make([]ingest.OperationDocument, 0)}
	for rows.Next() {
		var doc ingest.OperationDocument
		var code, message string
		if err := rows.Scan(&doc.OperationID, &doc.DocumentID, &doc.Status, &code, &message); err != nil {
			return nil, fmt.Errorf("scanning operation document row: %w", err)
		}
		if code != "" {
			doc.Error = &ingest.ErrorDetail{Code: code, Message: message}
		}
		detail.Documents = append(detail.Documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operation document rows: %w", err)
	}
	return detail, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (ingest.Operation, error) {
	var op ingest.Operation
	var completedAt sql.NullTime
	err := row.Scan(&op.ID, &op.SourceID, &op.Status, &op.DocsCount,
		&op.FailedCount, &op.CrawlerVersion, &op.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return op, err
	}
	if err != nil {
		return op, fmt.Errorf("scanning operation row: %w", err)
	}
	if completedAt.Valid {
		op.CompletedAt = &completedAt.Time
	}
	return op, nil
}
