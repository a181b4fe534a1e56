package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpull/ingest/internal/ingest"
	"github.com/docpull/ingest/internal/ingest/dedup"
	"github.com/docpull/ingest/internal/ingest/operation"
	"github.com/docpull/ingest/internal/ingest/validator"
	apperrors "github.com/docpull/ingest/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeDedup struct {
	mu         sync.Mutex
	rejections map[string]*dedup.Rejection
	persisted  []string
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{rejections: make(map[string]*dedup.Rejection)}
}

func (f *fakeDedup) Check(_ context.Context, url, _, _ string) (*dedup.Rejection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejections[url], nil
}

func (f *fakeDedup) MarkPersisted(_ context.Context, _, _, _, docID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, docID)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []ingest.AuditEntry
}

func (f *fakeAudit) RecordPending(_ context.Context, entry ingest.AuditEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.Status = ingest.AuditPending
	f.entries = append(f.entries, entry)
	return int64(len(f.entries)), nil
}

func (f *fakeAudit) RecordTerminal(_ context.Context, entry ingest.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) byStatus(status string) []ingest.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ingest.AuditEntry
	for _, e := range f.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	mu       sync.Mutex
	inserted []*ingest.Document
	nextID   int
	errByURL map[string]error
	panicURL string
}

func newFakeStore() *fakeStore {
	return &fakeStore{errByURL: make(map[string]error)}
}

func (f *fakeStore) Insert(_ context.Context, doc *ingest.Document, _ string) (string, error) {
	if doc.URL == f.panicURL {
		panic("store exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errByURL[doc.URL]; err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("doc_%04d", f.nextID)
	doc.ID = id
	f.inserted = append(f.inserted, doc)
	return id, nil
}

type fakeTracker struct {
	mu          sync.Mutex
	opened      int
	outcomes    []ingest.OperationDocument
	closed      int
	closedProc  int
	closedFail  int
	finalStatus string
}

func (f *fakeTracker) Open(_ context.Context, _ string, _ int, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return "op_batch_test", nil
}

func (f *fakeTracker) RecordDocumentOutcome(_ context.Context, operationID, documentID, outcome string, errDetail *ingest.ErrorDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, ingest.OperationDocument{
		OperationID: operationID,
		DocumentID:  documentID,
		Status:      outcome,
		Error:       errDetail,
	})
	return nil
}

func (f *fakeTracker) Close(_ context.Context, _ string, processed, failed int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.closedProc = processed
	f.closedFail = failed
	f.finalStatus = operation.FinalStatus(processed, failed)
	return f.finalStatus, nil
}

type fakeTrigger struct {
	mu    sync.Mutex
	tasks []ingest.IndexTask
}

func (f *fakeTrigger) Trigger(task ingest.IndexTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	coord   *Coordinator
	dedup   *fakeDedup
	audit   *fakeAudit
	store   *fakeStore
	tracker *fakeTracker
	trigger *fakeTrigger
}

func newFixture() *fixture {
	f := &fixture{
		dedup:   newFakeDedup(),
		audit:   &fakeAudit{},
		store:   newFakeStore(),
		tracker: &fakeTracker{},
		trigger: &fakeTrigger{},
	}
	f.coord = New(
		Config{Concurrency: 4, IOTimeout: time.Second},
		validator.New(validator.Config{MaxBatchSize: 100, ServerChunking: true}),
		f.dedup, f.audit, f.store, f.tracker, f.trigger, nil,
	)
	return f
}

func doc(n int) ingest.DocumentInput {
	return ingest.DocumentInput{
		Title:   fmt.Sprintf("Page %d", n),
		URL:     fmt.Sprintf("https://docs.example.com/page-%d", n),
		Content: fmt.Sprintf("Body of page %d with enough text to matter.", n),
		Version: "v1",
		Lang:    "en",
		Meta:    ingest.ChunkMeta{SourceID: "docs.example.com"},
	}
}

func batch(docs ...ingest.DocumentInput) *ingest.BatchRequest {
	return &ingest.BatchRequest{SourceID: "docs.example.com", Docs: docs}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestIngestAllSuccess(t *testing.T) {
	f := newFixture()

	result, err := f.coord.Ingest(context.Background(), batch(doc(1), doc(2), doc(3)))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "op_batch_test", result.OperationID)
	require.Len(t, result.Results, 3)
	for i, item := range result.Results {
		assert.Equal(t, i, item.Index)
		assert.Equal(t, ingest.OutcomeSuccess, item.Status)
		assert.NotEmpty(t, item.DocumentID)
		assert.Nil(t, item.Error)
	}

	assert.Equal(t, 1, f.tracker.opened)
	assert.Equal(t, 1, f.tracker.closed)
	assert.Equal(t, ingest.OperationSuccess, f.tracker.finalStatus)
	assert.Len(t, f.tracker.outcomes, 3)
	assert.Len(t, f.store.inserted, 3)
	assert.Len(t, f.trigger.tasks, 3, "every persisted document is handed to the indexer")
	assert.Len(t, f.dedup.persisted, 3)
	assert.Len(t, f.audit.byStatus(ingest.AuditPending), 3)

	for _, task := range f.trigger.tasks {
		assert.NotEmpty(t, task.DocumentID)
		assert.NotEmpty(t, task.Content)
		assert.Equal(t, "docs.example.com", task.Meta.SourceID)
		assert.NotEmpty(t, task.Meta.Fingerprint)
	}
}

func TestIngestRejectsOversizeBatch(t *testing.T) {
	f := newFixture()

	docs := make([]ingest.DocumentInput, 101)
	for i := range docs {
		docs[i] = doc(i)
	}
	_, err := f.coord.Ingest(context.Background(), batch(docs...))

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.Code(err))
	assert.Contains(t, apperrors.Message(err), "exceeds maximum of 100")
	assert.Zero(t, f.tracker.opened, "no operation may be opened for a rejected envelope")
	assert.Empty(t, f.store.inserted)
}

func TestIngestRejectsEmptyEnvelope(t *testing.T) {
	f := newFixture()

	_, err := f.coord.Ingest(context.Background(), &ingest.BatchRequest{SourceID: "docs.example.com"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidRequest, apperrors.Code(err))
}

func TestIngestDuplicateIsPartialBatch(t *testing.T) {
	f := newFixture()
	dup := doc(2)
	f.dedup.rejections[dup.URL] = &dedup.Rejection{
		Reason:        dedup.ReasonHistory,
		Tier:          dedup.TierHistory,
		ExistingDocID: "doc_prior",
	}

	result, err := f.coord.Ingest(context.Background(), batch(doc(1), dup, doc(3)))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)

	failed := result.Results[1]
	assert.Equal(t, ingest.OutcomeFailed, failed.Status)
	assert.Equal(t, "doc_prior", failed.DocumentID)
	require.NotNil(t, failed.Error)
	assert.Equal(t, apperrors.CodeDuplicateDocument, failed.Error.Code)
	assert.Equal(t, dedup.ReasonHistory, failed.Error.Message)

	assert.Equal(t, ingest.OperationPartial, f.tracker.finalStatus)
	assert.Len(t, f.store.inserted, 2, "the duplicate never reaches the store")
	assert.Len(t, f.trigger.tasks, 2)

	rejected := f.audit.byStatus(ingest.AuditRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, dup.URL, rejected[0].URL)
	assert.Equal(t, dedup.ReasonHistory, rejected[0].RejectionReason)
	assert.Equal(t, "doc_prior", rejected[0].DocumentID)
}

func TestIngestIsolatesInvalidDocument(t *testing.T) {
	f := newFixture()

	docs := make([]ingest.DocumentInput, 10)
	for i := range docs {
		docs[i] = doc(i)
	}
	docs[4].Content = ""

	result, err := f.coord.Ingest(context.Background(), batch(docs...))
	require.NoError(t, err)

	assert.Equal(t, 9, result.Processed)
	assert.Equal(t, 1, result.Failed)

	failed := result.Results[4]
	assert.Equal(t, ingest.OutcomeFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, apperrors.CodeInvalidRequest, failed.Error.Code)
	assert.Contains(t, failed.Error.Message, "content is required")

	assert.Len(t, f.store.inserted, 9)
	assert.Equal(t, ingest.OperationPartial, f.tracker.finalStatus)
	// Validation failures never leave audit records; only the nine attempts
	// that reached persistence wrote pending entries.
	assert.Len(t, f.audit.byStatus(ingest.AuditPending), 9)
}

func TestIngestRejectsContentHashMismatch(t *testing.T) {
	f := newFixture()
	bad := doc(1)
	bad.Meta.ContentHash = "deadbeef"

	result, err := f.coord.Ingest(context.Background(), batch(bad))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	require.NotNil(t, result.Results[0].Error)
	assert.Equal(t, apperrors.CodeInvalidRequest, result.Results[0].Error.Code)
	assert.Contains(t, result.Results[0].Error.Message, "content hash mismatch")
}

func TestIngestConstraintRaceIsDuplicate(t *testing.T) {
	f := newFixture()
	racy := doc(1)
	f.store.errByURL[racy.URL] = apperrors.Duplicate(dedup.ReasonStore, "doc_winner")

	result, err := f.coord.Ingest(context.Background(), batch(racy))
	require.NoError(t, err)

	failed := result.Results[0]
	assert.Equal(t, ingest.OutcomeFailed, failed.Status)
	assert.Equal(t, "doc_winner", failed.DocumentID)
	require.NotNil(t, failed.Error)
	assert.Equal(t, apperrors.CodeDuplicateDocument, failed.Error.Code)
	assert.Equal(t, dedup.ReasonStore, failed.Error.Message)

	rejected := f.audit.byStatus(ingest.AuditRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, "doc_winner", rejected[0].DocumentID)
}

func TestIngestStoreFailureIsInternalError(t *testing.T) {
	f := newFixture()
	broken := doc(1)
	f.store.errByURL[broken.URL] = errors.New("disk full")

	result, err := f.coord.Ingest(context.Background(), batch(broken, doc(2)))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)
	failed := result.Results[0]
	require.NotNil(t, failed.Error)
	assert.Equal(t, apperrors.CodeInternalError, failed.Error.Code)
	assert.Contains(t, failed.Error.Message, "disk full")

	// The unexpected failure still leaves a terminal failed audit record.
	failedEntries := f.audit.byStatus(ingest.AuditFailed)
	require.Len(t, failedEntries, 1)
	assert.Equal(t, broken.URL, failedEntries[0].URL)
}

func TestIngestSurvivesPanic(t *testing.T) {
	f := newFixture()
	docs := []ingest.DocumentInput{doc(1), doc(2), doc(3)}
	f.store.panicURL = docs[1].URL

	result, err := f.coord.Ingest(context.Background(), batch(docs...))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	failed := result.Results[1]
	assert.Equal(t, ingest.OutcomeFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, apperrors.CodeInternalError, failed.Error.Code)
}

func TestIngestCounterInvariant(t *testing.T) {
	f := newFixture()
	docs := make([]ingest.DocumentInput, 20)
	for i := range docs {
		docs[i] = doc(i)
	}
	docs[3].URL = ""                                                      // invalid
	f.dedup.rejections[docs[7].URL] = &dedup.Rejection{Reason: dedup.ReasonStore, Tier: dedup.TierStore} // duplicate
	f.store.errByURL[docs[11].URL] = errors.New("connection reset")       // internal

	result, err := f.coord.Ingest(context.Background(), batch(docs...))
	require.NoError(t, err)

	assert.Equal(t, len(docs), result.Processed+result.Failed)
	assert.Equal(t, len(docs), len(result.Results))
	assert.Equal(t, 17, result.Processed)
	assert.Equal(t, 3, result.Failed)
	assert.Equal(t, result.Processed, f.tracker.closedProc)
	assert.Equal(t, result.Failed, f.tracker.closedFail)
	assert.Len(t, f.tracker.outcomes, len(docs), "every attempt settles exactly one outcome row")
}
