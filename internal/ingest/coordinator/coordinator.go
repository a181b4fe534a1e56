// Package coordinator orchestrates one batch ingestion call: it validates
// the batch envelope, opens an operation, fans the per-document pipeline out
// over the worker pool, aggregates the settled results serially, closes the
// operation, and assembles the response.
//
// Failures are per-document: every error inside a document's pipeline is
// converted into a typed failure for that index and can never abort the
// batch. Only a malformed envelope fails the request before any worker
// starts.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/internal/ingest/dedup"
	"github.com/docpull/ingest/internal/ingest/hasher"
	"github.com/docpull/ingest/internal/ingest/pool"
	"github.com/docpull/ingest/internal/ingest/validator"
	apperrors "github.com/docpull/ingest/pkg/errors"
	"github.com/docpull/ingest/pkg/metrics"
	"github.com/docpull/ingest/pkg/resilience"
)

// DuplicateChecker is the two-tier duplicate check.
type DuplicateChecker interface {
	Check(ctx context.Context, url, fingerprint, version string) (*dedup.Rejection, error)
	MarkPersisted(ctx context.Context, url, fingerprint, version, docID string)
}

// AuditRecorder appends upload-history records.
type AuditRecorder interface {
	RecordPending(ctx context.Context, entry ingest.AuditEntry) (int64, error)
	RecordTerminal(ctx context.Context, entry ingest.AuditEntry) error
}

// DocumentStore persists accepted documents. Insert writes the terminal
// success audit record atomically with the document.
type DocumentStore interface {
	Insert(ctx context.Context, doc *ingest.Document, operationID string) (string, error)
}

// OperationTracker owns the operation lifecycle.
type OperationTracker interface {
	Open(ctx context.Context, sourceID string, totalDocs int, crawlerVersion string) (string, error)
	RecordDocumentOutcome(ctx context.Context, operationID, documentID, outcome string, errDetail *ingest.ErrorDetail) error
	Close(ctx context.Context, operationID string, processed, failed int) (string, error)
}

// IndexTrigger hands a persisted document off to the downstream indexer.
type IndexTrigger interface {
	Trigger(task ingest.IndexTask)
}

// Config holds the coordinator tunables.
type Config struct {
	// Concurrency bounds simultaneously in-flight documents.
	Concurrency int
	// IOTimeout applies to each store/audit call inside a document's
	// pipeline so one slow dependency cannot stall the pool indefinitely.
	IOTimeout time.Duration
}

// Coordinator runs batch ingestion.
type Coordinator struct {
	cfg       Config
	validator *validator.Validator
	dedup     DuplicateChecker
	audit     AuditRecorder
	docs      DocumentStore
	ops       OperationTracker
	trigger   IndexTrigger
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Coordinator. m may be nil (tests).
func New(cfg Config, v *validator.Validator, dup DuplicateChecker, auditRec AuditRecorder,
	docs DocumentStore, ops OperationTracker, trigger IndexTrigger, m *metrics.Metrics) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Coordinator{
		cfg:       cfg,
		validator: v,
		dedup:     dup,
		audit:     auditRec,
		docs:      docs,
		ops:       ops,
		trigger:   trigger,
		metrics:   m,
		logger:    slog.Default().With("component", "batch-coordinator"),
	}
}

// Ingest processes one batch request. The returned error is non-nil only for
// request-level failures (malformed envelope, operation bookkeeping failure);
// per-document failures are reported inside the BatchResult.
func (c *Coordinator) Ingest(ctx context.Context, req *ingest.BatchRequest) (*ingest.BatchResult, error) {
	if err := c.validator.ValidateEnvelope(req); err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidRequest, err.Error())
	}

	start := time.Now()
	var crawlerVersion string
	if req.BatchMetadata != nil {
		crawlerVersion = req.BatchMetadata.CrawlerVersion
	}
	operationID, err := c.ops.Open(ctx, req.SourceID, len(req.Docs), crawlerVersion)
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInternal, "opening operation: %v", err)
	}

	c.logger.Info("batch started",
		"operation_id", operationID,
		"source_id", req.SourceID,
		"total_docs", len(req.Docs),
	)

	tasks := make([]pool.Task[ingest.ItemResult], len(req.Docs))
	for i := range req.Docs {
		i, doc := i, req.Docs[i]
		tasks[i] = func(ctx context.Context) ingest.ItemResult {
			return c.processDocument(ctx, operationID, i, doc)
		}
	}
	results := pool.Run(ctx, c.cfg.Concurrency, tasks, func(index int, cause any) ingest.ItemResult {
		return failure(index, "", apperrors.Newf(apperrors.ErrInternal, "unexpected failure: %v", cause))
	})

	// Single-writer aggregation: counters and outcome rows are applied
	// serially after fan-in, so concurrent workers never race on them.
	processed, failed := 0, 0
	for _, res := range results {
		if res.Status == ingest.OutcomeSuccess {
			processed++
		} else {
			failed++
		}
		if err := c.ops.RecordDocumentOutcome(ctx, operationID, res.DocumentID, res.Status, res.Error); err != nil {
			c.logger.Error("recording document outcome failed",
				"operation_id", operationID,
				"index", res.Index,
				"error", err,
			)
		}
		c.countDocument(res)
	}

	finalStatus, err := c.ops.Close(ctx, operationID, processed, failed)
	if err != nil {
		c.logger.Error("closing operation failed", "operation_id", operationID, "error", err)
		finalStatus = ingest.OperationFailed
	}

	if c.metrics != nil {
		c.metrics.BatchesTotal.WithLabelValues(finalStatus).Inc()
		c.metrics.BatchSize.Observe(float64(len(req.Docs)))
		c.metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}
	c.logger.Info("batch completed",
		"operation_id", operationID,
		"status", finalStatus,
		"processed", processed,
		"failed", failed,
		"duration", time.Since(start),
	)

	return &ingest.BatchResult{
		Processed:   processed,
		Failed:      failed,
		OperationID: operationID,
		Results:     results,
	}, nil
}

// processDocument runs the per-document pipeline. Every error is converted
// into a failed ItemResult for this index; nothing escapes to the pool.
func (c *Coordinator) processDocument(ctx context.Context, operationID string, index int, doc ingest.DocumentInput) ingest.ItemResult {
	if c.metrics != nil {
		c.metrics.DocumentsInFlight.Inc()
		defer c.metrics.DocumentsInFlight.Dec()
	}

	// 1. Structural validation.
	if err := c.validator.ValidateDocument(&doc); err != nil {
		return failure(index, "", apperrors.New(apperrors.ErrInvalidRequest, err.Error()))
	}

	// 2. Verify a supplied fingerprint, then compute the canonical one.
	if doc.Meta.ContentHash != "" && !hasher.Verify(doc.Content, doc.Meta.ContentHash) {
		return failure(index, "", apperrors.New(apperrors.ErrInvalidRequest, "content hash mismatch"))
	}
	fingerprint := hasher.Fingerprint(doc.Content)

	// 3. Duplicate check; a hit is audited as rejected and fails the item.
	var rejection *dedup.Rejection
	err := c.io(ctx, "dedup-check", func(ctx context.Context) error {
		var checkErr error
		rejection, checkErr = c.dedup.Check(ctx, doc.URL, fingerprint, doc.Version)
		return checkErr
	})
	if err != nil {
		return failure(index, "", internal(err))
	}
	if rejection != nil {
		return c.rejectDuplicate(ctx, index, doc, fingerprint, operationID, rejection)
	}

	// 4. Pending audit record. A document whose audit trail cannot be
	// started is not persisted.
	err = c.io(ctx, "audit-pending", func(ctx context.Context) error {
		_, pendingErr := c.audit.RecordPending(ctx, c.entry(doc, fingerprint, operationID))
		return pendingErr
	})
	if err != nil {
		c.recordFailed(ctx, doc, fingerprint, operationID, err)
		return failure(index, "", internal(err))
	}
	if c.metrics != nil {
		c.metrics.AuditWritesTotal.WithLabelValues(ingest.AuditPending).Inc()
	}

	// 5-6. Persist, with the terminal success audit record in the same
	// transaction. A unique-constraint hit here is the authoritative
	// duplicate signal from a concurrent writer.
	var docID string
	err = c.io(ctx, "document-insert", func(ctx context.Context) error {
		var insertErr error
		docID, insertErr = c.docs.Insert(ctx, &ingest.Document{
			URL:         doc.URL,
			Title:       doc.Title,
			Content:     doc.Content,
			Fingerprint: fingerprint,
			Version:     doc.Version,
			Lang:        doc.Lang,
			SourceID:    doc.Meta.SourceID,
			DocType:     doc.Meta.Type,
		}, operationID)
		return insertErr
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateDocument) {
			return c.rejectDuplicate(ctx, index, doc, fingerprint, operationID, &dedup.Rejection{
				Reason:        apperrors.Message(err),
				Tier:          dedup.TierConstraint,
				ExistingDocID: apperrors.ExistingDocID(err),
			})
		}
		c.recordFailed(ctx, doc, fingerprint, operationID, err)
		return failure(index, "", internal(err))
	}
	if c.metrics != nil {
		c.metrics.AuditWritesTotal.WithLabelValues(ingest.AuditSuccess).Inc()
	}

	// 7. Fire-and-forget hand-off to the indexer; its failure never changes
	// this document's outcome.
	c.dedup.MarkPersisted(ctx, doc.URL, fingerprint, doc.Version, docID)
	c.trigger.Trigger(ingest.IndexTask{
		DocumentID: docID,
		Content:    doc.Content,
		Lang:       doc.Lang,
		Meta: ingest.IndexTaskMeta{
			SourceID:    doc.Meta.SourceID,
			Fingerprint: fingerprint,
		},
	})

	return ingest.ItemResult{Index: index, DocumentID: docID, Status: ingest.OutcomeSuccess}
}

// rejectDuplicate audits a duplicate hit as rejected and builds the failed
// result carrying the rejection reason and any colliding document id.
func (c *Coordinator) rejectDuplicate(ctx context.Context, index int, doc ingest.DocumentInput, fingerprint, operationID string, rejection *dedup.Rejection) ingest.ItemResult {
	entry := c.entry(doc, fingerprint, operationID)
	entry.Status = ingest.AuditRejected
	entry.RejectionReason = rejection.Reason
	entry.DocumentID = rejection.ExistingDocID
	err := c.io(ctx, "audit-rejected", func(ctx context.Context) error {
		return c.audit.RecordTerminal(ctx, entry)
	})
	if err != nil {
		c.logger.Error("recording rejection failed", "url", doc.URL, "error", err)
	}
	if c.metrics != nil {
		c.metrics.AuditWritesTotal.WithLabelValues(ingest.AuditRejected).Inc()
		c.metrics.DuplicatesTotal.WithLabelValues(rejection.Tier).Inc()
	}
	return failure(index, rejection.ExistingDocID, apperrors.Duplicate(rejection.Reason, rejection.ExistingDocID))
}

// recordFailed writes the terminal failed audit record after an unexpected
// persistence error. Best effort; the item already failed.
func (c *Coordinator) recordFailed(ctx context.Context, doc ingest.DocumentInput, fingerprint, operationID string, cause error) {
	entry := c.entry(doc, fingerprint, operationID)
	entry.Status = ingest.AuditFailed
	entry.RejectionReason = describe(cause)
	err := c.io(ctx, "audit-failed", func(ctx context.Context) error {
		return c.audit.RecordTerminal(ctx, entry)
	})
	if err != nil {
		c.logger.Error("recording failure audit entry failed", "url", doc.URL, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.AuditWritesTotal.WithLabelValues(ingest.AuditFailed).Inc()
	}
}

func (c *Coordinator) entry(doc ingest.DocumentInput, fingerprint, operationID string) ingest.AuditEntry {
	return ingest.AuditEntry{
		URL:         doc.URL,
		Fingerprint: fingerprint,
		Version:     doc.Version,
		Title:       doc.Title,
		SourceID:    doc.Meta.SourceID,
		Lang:        doc.Lang,
		OperationID: operationID,
	}
}

// io applies the per-call timeout to one blocking dependency call.
func (c *Coordinator) io(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return resilience.WithTimeout(ctx, c.cfg.IOTimeout, name, fn)
}

// countDocument records the per-document outcome metric.
func (c *Coordinator) countDocument(res ingest.ItemResult) {
	if c.metrics == nil {
		return
	}
	outcome := ingest.OutcomeSuccess
	if res.Status != ingest.OutcomeSuccess {
		outcome = apperrors.CodeInternalError
		if res.Error != nil {
			outcome = res.Error.Code
		}
		outcome = strings.ToLower(outcome)
	}
	c.metrics.DocumentsTotal.WithLabelValues(outcome).Inc()
}

func failure(index int, docID string, err error) ingest.ItemResult {
	return ingest.ItemResult{
		Index:      index,
		DocumentID: docID,
		Status:     ingest.OutcomeFailed,
		Error: &ingest.ErrorDetail{
			Code:    apperrors.Code(err),
			Message: apperrors.Message(err),
		},
	}
}

func internal(err error) error {
	return apperrors.New(apperrors.ErrInternal, describe(err))
}

// describe keeps timeout failures recognisable without leaking dependency
// internals into caller-visible messages.
func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}
