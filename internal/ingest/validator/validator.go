// Package validator provides structural validation for batch envelopes and
// individual documents, including the chunk-metadata policy. Validation is
// pure: no I/O, no side effects.
package validator

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/docpull/ingest/internal/ingest"
)

const (
	maxTitleLength    = 500
	maxURLLength      = 1000
	maxContentLength  = 1 << 20
	maxVersionLength  = 50
	maxSourceIDLength = 100
	maxLangLength     = 16
)

// Config holds the tunables the validator needs.
type Config struct {
	// MaxBatchSize caps the number of documents per batch envelope.
	MaxBatchSize int
	// ServerChunking accepts documents that do not declare themselves
	// pre-chunked by the crawler.
	ServerChunking bool
}

// Validator checks batch envelopes and documents against the input contract.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	return &Validator{cfg: cfg}
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateEnvelope checks the batch-level contract: a source id and a
// non-empty document list within the configured maximum. It does not touch
// individual documents.
func (v *Validator) ValidateEnvelope(req *ingest.BatchRequest) error {
	errs := make(map[string]string)

	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		errs["sourceId"] = "source id is required"
	} else if len(sourceID) > maxSourceIDLength {
		errs["sourceId"] = fmt.Sprintf("source id must be at most %d characters", maxSourceIDLength)
	}
	if len(req.Docs) == 0 {
		errs["docs"] = "at least one document is required"
	} else if len(req.Docs) > v.cfg.MaxBatchSize {
		errs["docs"] = fmt.Sprintf("batch exceeds maximum of %d documents", v.cfg.MaxBatchSize)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateDocument checks one document: required fields, length caps, URL
// shape, chunk metadata, and the pre-chunking policy.
func (v *Validator) ValidateDocument(doc *ingest.DocumentInput) error {
	errs := make(map[string]string)

	if strings.TrimSpace(doc.URL) == "" {
		errs["url"] = "url is required"
	} else if len(doc.URL) > maxURLLength {
		errs["url"] = fmt.Sprintf("url must be at most %d characters", maxURLLength)
	} else if u, err := url.Parse(doc.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs["url"] = "url must be absolute"
	}
	if doc.Content == "" {
		errs["content"] = "content is required and must not be empty"
	} else if len(doc.Content) > maxContentLength {
		errs["content"] = fmt.Sprintf("content must be at most %d bytes", maxContentLength)
	}
	if strings.TrimSpace(doc.Version) == "" {
		errs["version"] = "version is required"
	} else if len(doc.Version) > maxVersionLength {
		errs["version"] = fmt.Sprintf("version must be at most %d characters", maxVersionLength)
	}
	if strings.TrimSpace(doc.Meta.SourceID) == "" {
		errs["meta.sourceId"] = "source id is required"
	} else if len(doc.Meta.SourceID) > maxSourceIDLength {
		errs["meta.sourceId"] = fmt.Sprintf("source id must be at most %d characters", maxSourceIDLength)
	}
	if len(doc.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(doc.Lang) > maxLangLength {
		errs["lang"] = fmt.Sprintf("lang must be at most %d characters", maxLangLength)
	}

	v.validateChunkMeta(&doc.Meta, errs)

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}

	if !PreChunked(&doc.Meta) && !v.cfg.ServerChunking {
		return &ValidationError{Fields: map[string]string{
			"meta": "document must be pre-chunked by the crawler or server-side chunking must be enabled",
		}}
	}
	return nil
}

// validateChunkMeta checks chunk index bounds when chunk metadata is
// declared. Indexes are zero-based.
func (v *Validator) validateChunkMeta(meta *ingest.ChunkMeta, errs map[string]string) {
	if meta.ChunkIndex == nil && meta.TotalChunks == nil {
		return
	}
	if meta.ChunkIndex == nil || meta.TotalChunks == nil {
		errs["meta"] = "chunkIndex and totalChunks must be supplied together"
		return
	}
	if *meta.ChunkIndex < 0 {
		errs["meta.chunkIndex"] = "chunkIndex must be zero or greater"
	}
	if *meta.TotalChunks < 1 {
		errs["meta.totalChunks"] = "totalChunks must be at least 1"
	} else if *meta.ChunkIndex >= *meta.TotalChunks {
		errs["meta.chunkIndex"] = "chunkIndex must be less than totalChunks"
	}
}

// PreChunked reports whether the document declares itself pre-chunked by the
// crawler: chunk position and a precomputed content hash are all present.
func PreChunked(meta *ingest.ChunkMeta) bool {
	return meta.ChunkIndex != nil && meta.TotalChunks != nil && meta.ContentHash != ""
}
