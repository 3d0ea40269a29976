// Package store persists documents and their chunks. Every operation is
// scoped by tenant id; a record of another tenant behaves as if absent.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type DocumentUpdate struct {
	Title       *string
	Description *string
	Content     *string
}

type DocumentStorer interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	// GetDocument returns types.ErrNotFound for unknown or soft-deleted documents.
	GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (*types.Document, error)
	// ListDocuments returns live documents newest first; an empty status matches all.
	ListDocuments(ctx context.Context, tenantID string, status types.DocumentStatus) ([]types.Document, error)
	// ListDocumentsByStatus returns live documents of every tenant in status, oldest first.
	ListDocumentsByStatus(ctx context.Context, status types.DocumentStatus) ([]types.Document, error)
	UpdateDocument(ctx context.Context, tenantID string, id uuid.UUID, upd DocumentUpdate) (*types.Document, error)
	// TransitionStatus moves a live document to `to` only if its current status is one of `from`.
	TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []types.DocumentStatus, to types.DocumentStatus) error
	// MarkFailed records msg on a document that is processing.
	MarkFailed(ctx context.Context, tenantID string, id uuid.UUID, msg string) error
	// CompleteIndexing atomically replaces all chunks of a processing document and
	// marks it indexed. It fails with types.ErrDocumentDeleted, writing nothing,
	// if the document was soft-deleted meanwhile.
	CompleteIndexing(ctx context.Context, tenantID string, id uuid.UUID, res types.IndexResult) error
	// SoftDeleteDocument flags the document deleted and purges its chunks.
	SoftDeleteDocument(ctx context.Context, tenantID string, id uuid.UUID) error
}

type ChunkStorer interface {
	UpsertChunk(ctx context.Context, tenantID string, chunk types.Chunk) error
	GetChunk(ctx context.Context, tenantID string, id uuid.UUID) (*types.Chunk, error)
	// GetChunks skips ids that do not exist for the tenant.
	GetChunks(ctx context.Context, tenantID string, ids []uuid.UUID) ([]types.Chunk, error)
	ListDocumentChunks(ctx context.Context, tenantID string, docID uuid.UUID) ([]types.Chunk, error)
	DeleteChunk(ctx context.Context, tenantID string, id uuid.UUID) error
	DeleteChunks(ctx context.Context, tenantID string, ids []uuid.UUID) (int, error)
	DeleteTenantChunks(ctx context.Context, tenantID string) (int, error)
	// Nearest scans every chunk of the tenant's indexed, live documents and
	// returns those with cosine similarity >= minScore, best first, at most limit.
	// The scan is linear in the tenant's chunk count.
	Nearest(ctx context.Context, tenantID string, query []float32, limit int, minScore float64) ([]types.ScoredChunk, error)
}

type DBStorer interface {
	DocumentStorer
	ChunkStorer
	Close() error
}

func isDeleted(err error) bool {
	return errors.Is(err, types.ErrDocumentDeleted)
}
