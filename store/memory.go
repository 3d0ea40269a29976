package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// MemoryStore keeps documents and chunks in process memory. It is used when
// no database is configured and by tests.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[uuid.UUID]*types.Document
	chunks map[string]map[uuid.UUID]*types.Chunk
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[uuid.UUID]*types.Document),
		chunks: make(map[string]map[uuid.UUID]*types.Chunk),
		now:    time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

// liveDoc must be called with s.mu held.
func (s *MemoryStore) liveDoc(tenantID string, id uuid.UUID) (*types.Document, error) {
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if doc.Deleted {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrDocumentDeleted)
	}
	return doc, nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenantID || doc.Deleted {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, tenantID string, status types.DocumentStatus) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Document, 0)
	for _, doc := range s.docs {
		if doc.TenantID != tenantID || doc.Deleted {
			continue
		}
		if status != "" && doc.Status != status {
			continue
		}
		out = append(out, *doc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) ListDocumentsByStatus(ctx context.Context, status types.DocumentStatus) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Document, 0)
	for _, doc := range s.docs {
		if !doc.Deleted && doc.Status == status {
			out = append(out, *doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateDocument(ctx context.Context, tenantID string, id uuid.UUID, upd DocumentUpdate) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.liveDoc(tenantID, id)
	if err != nil {
		return nil, notFoundIfDeleted(err, id)
	}
	if upd.Title != nil {
		doc.Title = *upd.Title
	}
	if upd.Description != nil {
		doc.Description = *upd.Description
	}
	if upd.Content != nil {
		doc.Content = *upd.Content
	}
	doc.UpdatedAt = s.now()
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []types.DocumentStatus, to types.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.liveDoc(tenantID, id)
	if err != nil {
		return err
	}
	if !slices.Contains(from, doc.Status) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, doc.Status, to)
	}
	doc.Status = to
	doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, tenantID string, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.liveDoc(tenantID, id)
	if err != nil {
		return err
	}
	if doc.Status != types.StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, doc.Status, types.StatusFailed)
	}
	doc.Status = types.StatusFailed
	doc.Error = msg
	doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CompleteIndexing(ctx context.Context, tenantID string, id uuid.UUID, res types.IndexResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.liveDoc(tenantID, id)
	if err != nil {
		return err
	}
	if doc.Status != types.StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, doc.Status, types.StatusIndexed)
	}
	if err := sameDimension(res.Chunks); err != nil {
		return err
	}

	s.purgeDocumentChunks(tenantID, id)
	bucket := s.tenantBucket(tenantID)
	for i := range res.Chunks {
		c := res.Chunks[i]
		c.TenantID = tenantID
		c.Embedding = slices.Clone(c.Embedding)
		bucket[c.ID] = &c
	}

	indexedAt := res.IndexedAt
	doc.Status = types.StatusIndexed
	doc.Error = ""
	doc.Content = res.Content
	doc.ChunkCount = len(res.Chunks)
	doc.TokenCount = res.TokenCount
	doc.IndexedAt = &indexedAt
	doc.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SoftDeleteDocument(ctx context.Context, tenantID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.liveDoc(tenantID, id)
	if err != nil {
		return notFoundIfDeleted(err, id)
	}
	doc.Deleted = true
	doc.UpdatedAt = s.now()
	s.purgeDocumentChunks(tenantID, id)
	return nil
}

func (s *MemoryStore) purgeDocumentChunks(tenantID string, docID uuid.UUID) {
	for cid, c := range s.chunks[tenantID] {
		if c.DocumentID == docID {
			delete(s.chunks[tenantID], cid)
		}
	}
}

func (s *MemoryStore) tenantBucket(tenantID string) map[uuid.UUID]*types.Chunk {
	bucket, ok := s.chunks[tenantID]
	if !ok {
		bucket = make(map[uuid.UUID]*types.Chunk)
		s.chunks[tenantID] = bucket
	}
	return bucket
}

func (s *MemoryStore) UpsertChunk(ctx context.Context, tenantID string, chunk types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.liveDoc(tenantID, chunk.DocumentID); err != nil {
		return notFoundIfDeleted(err, chunk.DocumentID)
	}
	for _, c := range s.chunks[tenantID] {
		if c.DocumentID == chunk.DocumentID && c.ID != chunk.ID && len(c.Embedding) != len(chunk.Embedding) {
			return fmt.Errorf("%w: got %d, document uses %d", types.ErrDimensionMismatch, len(chunk.Embedding), len(c.Embedding))
		}
	}
	chunk.TenantID = tenantID
	chunk.Embedding = slices.Clone(chunk.Embedding)
	s.tenantBucket(tenantID)[chunk.ID] = &chunk
	return nil
}

func (s *MemoryStore) GetChunk(ctx context.Context, tenantID string, id uuid.UUID) (*types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[tenantID][id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetChunks(ctx context.Context, tenantID string, ids []uuid.UUID) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[tenantID][id]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocumentChunks(ctx context.Context, tenantID string, docID uuid.UUID) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Chunk
	for _, c := range s.chunks[tenantID] {
		if c.DocumentID == docID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) DeleteChunk(ctx context.Context, tenantID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[tenantID][id]; !ok {
		return fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	delete(s.chunks[tenantID], id)
	return nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, tenantID string, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.chunks[tenantID][id]; ok {
			delete(s.chunks[tenantID], id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteTenantChunks(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.chunks[tenantID])
	delete(s.chunks, tenantID)
	return n, nil
}

func (s *MemoryStore) Nearest(ctx context.Context, tenantID string, query []float32, limit int, minScore float64) ([]types.ScoredChunk, error) {
	if limit <= 0 {
		return []types.ScoredChunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]types.ScoredChunk, 0)
	for _, c := range s.chunks[tenantID] {
		doc, ok := s.docs[c.DocumentID]
		if !ok || doc.TenantID != tenantID || doc.Deleted || doc.Status != types.StatusIndexed {
			continue
		}
		if len(c.Embedding) != len(query) {
			continue
		}
		score := CosineSimilarity(query, c.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, types.ScoredChunk{Chunk: *c, DocumentTitle: doc.Title, Similarity: score})
	}
	sortScored(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// sortScored orders by similarity descending; ties break on document id, then chunk index.
func sortScored(results []types.ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Chunk.DocumentID != b.Chunk.DocumentID {
			return a.Chunk.DocumentID.String() < b.Chunk.DocumentID.String()
		}
		return a.Chunk.Index < b.Chunk.Index
	})
}

func sameDimension(chunks []types.Chunk) error {
	for i := 1; i < len(chunks); i++ {
		if len(chunks[i].Embedding) != len(chunks[0].Embedding) {
			return fmt.Errorf("%w: chunk %d has %d, chunk 0 has %d", types.ErrDimensionMismatch, i, len(chunks[i].Embedding), len(chunks[0].Embedding))
		}
	}
	return nil
}

func notFoundIfDeleted(err error, id uuid.UUID) error {
	if err != nil && isDeleted(err) {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return err
}
