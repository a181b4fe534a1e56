// Package ingest defines the request/response types, persisted records, and
// Kafka payloads of the batch document ingestion pipeline.
package ingest

import "time"

// Per-document outcomes inside a batch.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Operation lifecycle statuses. An operation is pending while the batch is in
// flight and closes exactly once with one of the three terminal statuses.
const (
	OperationPending = "pending"
	OperationSuccess = "success"
	OperationPartial = "partial"
	OperationFailed  = "failed"
)

// Audit record statuses. A document attempt writes one pending record at
// intake and exactly one terminal record on completion; rejections write a
// single rejected record.
const (
	AuditPending  = "pending"
	AuditSuccess  = "success"
	AuditFailed   = "failed"
	AuditRejected = "rejected"
)

// Index statuses of a persisted document. The ingestion pipeline always
// persists with IndexPending; the downstream indexer owns the transitions.
const (
	IndexPending = "pending"
	IndexDone    = "indexed"
	IndexFailed  = "failed"
)

// ChunkMeta is the crawler-supplied chunk metadata of one document.
// ChunkIndex is zero-based; a document is pre-chunked when ChunkIndex,
// TotalChunks, and ContentHash are all present.
type ChunkMeta struct {
	SourceID    string `json:"sourceId"`
	Type        string `json:"type,omitempty"`
	ChunkIndex  *int   `json:"chunkIndex,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
}

// DocumentInput is one raw document inside a batch request.
type DocumentInput struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Version string    `json:"version"`
	Lang    string    `json:"lang"`
	Meta    ChunkMeta `json:"meta"`
}

// BatchMetadata is optional crawler-side bookkeeping attached to a batch.
type BatchMetadata struct {
	TotalDocs      int       `json:"totalDocs"`
	CrawledAt      time.Time `json:"crawledAt"`
	CrawlerVersion string    `json:"crawlerVersion"`
}

// BatchRequest is the JSON body accepted by the batch ingestion endpoint.
type BatchRequest struct {
	SourceID      string          `json:"sourceId"`
	Docs          []DocumentInput `json:"docs"`
	BatchMetadata *BatchMetadata  `json:"batchMetadata,omitempty"`
}

// ErrorDetail is the typed error attached to a failed item.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ItemResult is the outcome of one document, positioned by its index in the
// request so callers can correlate result[i] with docs[i].
type ItemResult struct {
	Index      int          `json:"index"`
	DocumentID string       `json:"documentId,omitempty"`
	Status     string       `json:"status"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// BatchResult is the aggregate outcome of one batch call.
type BatchResult struct {
	Processed   int          `json:"processed"`
	Failed      int          `json:"failed"`
	OperationID string       `json:"operationId"`
	Results     []ItemResult `json:"results"`
}

// Document is a persisted, accepted document. The tuple
// (URL, Fingerprint, Version) is unique across all documents.
type Document struct {
	ID          string    `json:"docId"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	Fingerprint string    `json:"contentHash"`
	Version     string    `json:"version"`
	Lang        string    `json:"lang"`
	SourceID    string    `json:"sourceId"`
	DocType     string    `json:"docType,omitempty"`
	IndexStatus string    `json:"indexStatus"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditEntry is the write model for one append-only audit log row.
type AuditEntry struct {
	URL             string `json:"url"`
	Fingerprint     string `json:"contentHash"`
	Version         string `json:"version"`
	Title           string `json:"title,omitempty"`
	SourceID        string `json:"sourceId"`
	Lang            string `json:"lang,omitempty"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejectionReason,omitempty"`
	OperationID     string `json:"operationId,omitempty"`
	DocumentID      string `json:"documentId,omitempty"`
}

// AuditRecord is a persisted audit log row.
type AuditRecord struct {
	ID int64 `json:"id"`
	AuditEntry
	UploadedAt time.Time `json:"uploadedAt"`
}

// Operation is the aggregate record of one batch ingestion call.
type Operation struct {
	ID             string     `json:"operationId"`
	SourceID       string     `json:"sourceId"`
	Status         string     `json:"status"`
	DocsCount      int        `json:"docsCount"`
	FailedCount    int        `json:"failedCount"`
	CrawlerVersion string     `json:"crawlerVersion,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// OperationDocument records the settled outcome of one document attempt
// within an operation. DocumentID is empty when the attempt never reached
// persistence.
type OperationDocument struct {
	OperationID string       `json:"operationId"`
	DocumentID  string       `json:"documentId,omitempty"`
	Status      string       `json:"status"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// IndexTask is the Kafka payload handed off to the downstream indexer after
// a document is persisted.
type IndexTask struct {
	DocumentID string        `json:"documentId"`
	Content    string        `json:"content"`
	Lang       string        `json:"lang"`
	Meta       IndexTaskMeta `json:"meta"`
}

// IndexTaskMeta identifies the source and content of an index task.
type IndexTaskMeta struct {
	SourceID    string `json:"sourceId"`
	Fingerprint string `json:"contentHash"`
}
