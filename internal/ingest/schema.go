package ingest

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema statements are idempotent so the service can apply them at startup.
// The unique index on documents (url, content_hash, version) is the
// authoritative dedup guard: the application-level checks are fast paths and
// a constraint violation at insert time is converted into a duplicate
// rejection, never surfaced as an internal error.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		doc_id       TEXT PRIMARY KEY,
		url          TEXT NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		version      TEXT NOT NULL,
		lang         TEXT NOT NULL DEFAULT '',
		source_id    TEXT NOT NULL,
		doc_type     TEXT,
		index_status TEXT NOT NULL DEFAULT 'pending',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS documents_url_hash_version_key
		ON documents (url, content_hash, version)`,
	`CREATE TABLE IF NOT EXISTS ingest_audit_log (
		id               BIGSERIAL PRIMARY KEY,
		url              TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		version          TEXT NOT NULL,
		title            TEXT NOT NULL DEFAULT '',
		source_id        TEXT NOT NULL,
		lang             TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		rejection_reason TEXT,
		operation_id     TEXT,
		doc_id           TEXT,
		uploaded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS ingest_audit_log_key_idx
		ON ingest_audit_log (url, content_hash, version, uploaded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS ingest_audit_log_operation_idx
		ON ingest_audit_log (operation_id)`,
	`CREATE TABLE IF NOT EXISTS operations (
		operation_id    TEXT PRIMARY KEY,
		source_id       TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		docs_count      INTEGER NOT NULL,
		failed_count    INTEGER NOT NULL DEFAULT 0,
		crawler_version TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS operations_source_idx
		ON operations (source_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS operation_documents (
		id            BIGSERIAL PRIMARY KEY,
		operation_id  TEXT NOT NULL REFERENCES operations (operation_id),
		doc_id        TEXT,
		status        TEXT NOT NULL,
		error_code    TEXT,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS operation_documents_operation_idx
		ON operation_documents (operation_id)`,
}

// Migrate applies the ingestion schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema statement: %w", err)
		}
	}
	return nil
}
