package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpull/ingest/internal/ingest"
)

func intp(n int) *int { return &n }

func validDoc() ingest.DocumentInput {
	return ingest.DocumentInput{
		Title:   "Getting started",
		URL:     "https://docs.example.com/getting-started",
		Content: "Install the CLI and run the init command.",
		Version: "v2.1",
		Lang:    "en",
		Meta: ingest.ChunkMeta{
			SourceID:    "docs.example.com",
			ChunkIndex:  intp(0),
			TotalChunks: intp(3),
			ContentHash: "abc123",
		},
	}
}

func TestValidateEnvelope(t *testing.T) {
	v := New(Config{MaxBatchSize: 3})

	tests := []struct {
		name    string
		req     ingest.BatchRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  ingest.BatchRequest{SourceID: "docs.example.com", Docs: make([]ingest.DocumentInput, 2)},
		},
		{
			name:    "missing source id",
			req:     ingest.BatchRequest{Docs: make([]ingest.DocumentInput, 1)},
			wantErr: "sourceId",
		},
		{
			name:    "source id too long",
			req:     ingest.BatchRequest{SourceID: strings.Repeat("x", 101), Docs: make([]ingest.DocumentInput, 1)},
			wantErr: "sourceId",
		},
		{
			name:    "empty docs",
			req:     ingest.BatchRequest{SourceID: "docs.example.com"},
			wantErr: "at least one document",
		},
		{
			name:    "batch over limit",
			req:     ingest.BatchRequest{SourceID: "docs.example.com", Docs: make([]ingest.DocumentInput, 4)},
			wantErr: "exceeds maximum of 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateEnvelope(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDocument(t *testing.T) {
	v := New(Config{MaxBatchSize: 100})

	tests := []struct {
		name    string
		mutate  func(*ingest.DocumentInput)
		wantErr string
	}{
		{name: "valid", mutate: func(d *ingest.DocumentInput) {}},
		{
			name:    "missing url",
			mutate:  func(d *ingest.DocumentInput) { d.URL = "" },
			wantErr: "url is required",
		},
		{
			name:    "relative url",
			mutate:  func(d *ingest.DocumentInput) { d.URL = "/docs/getting-started" },
			wantErr: "url must be absolute",
		},
		{
			name:    "url too long",
			mutate:  func(d *ingest.DocumentInput) { d.URL = "https://example.com/" + strings.Repeat("x", 1000) },
			wantErr: "url must be at most",
		},
		{
			name:    "empty content",
			mutate:  func(d *ingest.DocumentInput) { d.Content = "" },
			wantErr: "content is required",
		},
		{
			name:    "content too large",
			mutate:  func(d *ingest.DocumentInput) { d.Content = strings.Repeat("a", 1<<20+1) },
			wantErr: "content must be at most",
		},
		{
			name:    "missing version",
			mutate:  func(d *ingest.DocumentInput) { d.Version = "  " },
			wantErr: "version is required",
		},
		{
			name:    "version too long",
			mutate:  func(d *ingest.DocumentInput) { d.Version = strings.Repeat("v", 51) },
			wantErr: "version must be at most",
		},
		{
			name:    "missing meta source id",
			mutate:  func(d *ingest.DocumentInput) { d.Meta.SourceID = "" },
			wantErr: "meta.sourceId",
		},
		{
			name:    "title too long",
			mutate:  func(d *ingest.DocumentInput) { d.Title = strings.Repeat("t", 501) },
			wantErr: "title must be at most",
		},
		{
			name:    "chunk index without total",
			mutate:  func(d *ingest.DocumentInput) { d.Meta.TotalChunks = nil },
			wantErr: "must be supplied together",
		},
		{
			name:    "negative chunk index",
			mutate:  func(d *ingest.DocumentInput) { d.Meta.ChunkIndex = intp(-1) },
			wantErr: "chunkIndex must be zero or greater",
		},
		{
			name: "chunk index out of range",
			mutate: func(d *ingest.DocumentInput) {
				d.Meta.ChunkIndex = intp(3)
				d.Meta.TotalChunks = intp(3)
			},
			wantErr: "less than totalChunks",
		},
		{
			name: "last chunk index is valid",
			mutate: func(d *ingest.DocumentInput) {
				d.Meta.ChunkIndex = intp(2)
				d.Meta.TotalChunks = intp(3)
			},
		},
		{
			name:    "zero total chunks",
			mutate:  func(d *ingest.DocumentInput) { d.Meta.TotalChunks = intp(0) },
			wantErr: "totalChunks must be at least 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDoc()
			tt.mutate(&doc)
			err := v.ValidateDocument(&doc)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDocumentChunkingPolicy(t *testing.T) {
	notChunked := validDoc()
	notChunked.Meta.ChunkIndex = nil
	notChunked.Meta.TotalChunks = nil
	notChunked.Meta.ContentHash = ""

	strict := New(Config{MaxBatchSize: 100})
	err := strict.ValidateDocument(&notChunked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pre-chunked")

	relaxed := New(Config{MaxBatchSize: 100, ServerChunking: true})
	assert.NoError(t, relaxed.ValidateDocument(&notChunked))
}

func TestPreChunked(t *testing.T) {
	doc := validDoc()
	assert.True(t, PreChunked(&doc.Meta))

	doc.Meta.ContentHash = ""
	assert.False(t, PreChunked(&doc.Meta))
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{
		"url":     "url is required",
		"content": "content is required and must not be empty",
	}}
	assert.Equal(t, "content: content is required and must not be empty; url: url is required", err.Error())
}
