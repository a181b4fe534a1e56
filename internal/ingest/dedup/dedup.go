// Package dedup implements the two-tier duplicate check that makes batch
// ingestion idempotent. A document is keyed by (url, fingerprint, version);
// the upload history is consulted first, then the document store. The store's
// unique constraint remains the authoritative guard — everything here is a
// fast path that turns most replays into cheap rejections before the insert.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docpull/ingest/internal/ingest"
)

// Reasons attached to duplicate rejections.
const (
	ReasonHistory = "duplicate per upload history"
	ReasonStore   = "document already exists"
)

// Detection tiers, used for logging and metrics labels.
const (
	TierCache      = "cache"
	TierHistory    = "history"
	TierStore      = "store"
	TierConstraint = "constraint"
)

// HistoryStore looks up the most recent audit entry for a dedup key.
type HistoryStore interface {
	LatestAttempt(ctx context.Context, url, fingerprint, version string) (*ingest.AuditRecord, error)
}

// DocumentFinder looks up a persisted document by its dedup key.
type DocumentFinder interface {
	FindByKey(ctx context.Context, url, fingerprint, version string) (*ingest.Document, error)
}

// Cache is the optional fast-path key cache (Redis in production). A Get
// error of any kind is treated as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Rejection describes a duplicate hit. ExistingDocID is set when the
// collision is against a persisted document, so the caller can see what it
// collided with.
type Rejection struct {
	Reason        string
	Tier          string
	ExistingDocID string
}

// Config holds the detector tunables.
type Config struct {
	// PendingGrace is how long a prior pending history entry blocks a new
	// attempt before it is treated as abandoned.
	PendingGrace time.Duration
	// CacheTTL is the lifetime of fast-path cache entries.
	CacheTTL time.Duration
}

// Detector performs the duplicate checks.
type Detector struct {
	history HistoryStore
	docs    DocumentFinder
	cache   Cache
	cfg     Config
	logger  *slog.Logger
}

// New creates a Detector. cache may be nil, in which case the fast path is
// skipped entirely.
func New(history HistoryStore, docs DocumentFinder, cache Cache, cfg Config) *Detector {
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = 15 * time.Minute
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Detector{
		history: history,
		docs:    docs,
		cache:   cache,
		cfg:     cfg,
		logger:  slog.Default().With("component", "dedup"),
	}
}

// Check runs the duplicate checks in order (cache, history, store) and
// short-circuits on the first hit. A nil Rejection means the document may
// proceed to persistence.
func (d *Detector) Check(ctx context.Context, url, fingerprint, version string) (*Rejection, error) {
	if d.cache != nil {
		if docID, err := d.cache.Get(ctx, cacheKey(url, fingerprint, version)); err == nil && docID != "" {
			d.logger.Debug("duplicate via cache", "url", url, "doc_id", docID)
			return &Rejection{Reason: ReasonStore, Tier: TierCache, ExistingDocID: docID}, nil
		}
	}

	prior, err := d.history.LatestAttempt(ctx, url, fingerprint, version)
	if err != nil {
		return nil, fmt.Errorf("querying upload history: %w", err)
	}
	if prior != nil && d.blocks(prior) {
		d.logger.Debug("duplicate via upload history",
			"url", url,
			"prior_status", prior.Status,
			"uploaded_at", prior.UploadedAt,
		)
		return &Rejection{Reason: ReasonHistory, Tier: TierHistory, ExistingDocID: prior.DocumentID}, nil
	}

	existing, err := d.docs.FindByKey(ctx, url, fingerprint, version)
	if err != nil {
		return nil, fmt.Errorf("querying document store: %w", err)
	}
	if existing != nil {
		d.MarkPersisted(ctx, url, fingerprint, version, existing.ID)
		return &Rejection{Reason: ReasonStore, Tier: TierStore, ExistingDocID: existing.ID}, nil
	}
	return nil, nil
}

// blocks decides whether a prior history entry blocks a new attempt. A
// successful prior upload always blocks. A pending entry blocks only while
// it is fresh; older pending entries are presumed abandoned. Failed and
// rejected entries never block, so a previously failed upload can be
// retried.
func (d *Detector) blocks(prior *ingest.AuditRecord) bool {
	switch prior.Status {
	case ingest.AuditSuccess:
		return true
	case ingest.AuditPending:
		return time.Since(prior.UploadedAt) < d.cfg.PendingGrace
	default:
		return false
	}
}

// MarkPersisted records a freshly persisted document in the fast-path cache
// so rapid-fire resubmissions are rejected without touching the database.
// Best effort: cache failures are logged and ignored.
func (d *Detector) MarkPersisted(ctx context.Context, url, fingerprint, version, docID string) {
	if d.cache == nil || docID == "" {
		return
	}
	if err := d.cache.Set(ctx, cacheKey(url, fingerprint, version), docID, d.cfg.CacheTTL); err != nil {
		d.logger.Debug("dedup cache set failed", "url", url, "error", err)
	}
}

func cacheKey(url, fingerprint, version string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", fingerprint, version, url)
}
