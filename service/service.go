// Package service exposes the knowledge operations: document submission and
// lifecycle, semantic search and grounded answers. Every call is scoped to
// one tenant.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/store"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// Queue accepts indexing runs. Enqueue must not block.
type Queue interface {
	Enqueue(tenantID string, id uuid.UUID) error
}

type Searcher interface {
	Search(ctx context.Context, tenantID, query string, limit int, minSimilarity float64) ([]types.ScoredChunk, error)
}

type Answerer interface {
	Answer(ctx context.Context, tenantID, message string, maxChunks int, minSimilarity *float64) types.AnswerResponse
}

type Service struct {
	store     store.DBStorer
	sources   source.Store
	queue     Queue
	retriever Searcher
	gate      Answerer
	cfg       config.RetrievalConfig
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	storer store.DBStorer,
	sources source.Store,
	queue Queue,
	retriever Searcher,
	gate Answerer,
	cfg config.RetrievalConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     storer,
		sources:   sources,
		queue:     queue,
		retriever: retriever,
		gate:      gate,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) SubmitText(ctx context.Context, tenantID string, params types.SubmitTextParams) (types.SubmitResponse, error) {
	now := s.now().UTC()
	doc := &types.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       params.Title,
		Description: params.Description,
		Type:        types.DocumentText,
		Content:     params.Content,
		Status:      types.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return types.SubmitResponse{}, fmt.Errorf("error creating document: %w", err)
	}
	s.logger.Info("document submitted", "document_id", doc.ID, "tenant_id", tenantID, "type", doc.Type)
	s.enqueue(tenantID, doc.ID)
	return types.SubmitResponse{ID: doc.ID, Status: doc.Status}, nil
}

// SubmitFile stores the uploaded bytes and creates a pending document that
// reads them at extraction time.
func (s *Service) SubmitFile(ctx context.Context, tenantID string, params types.SubmitFileParams) (types.SubmitResponse, error) {
	if !params.Type.Valid() || params.Type == types.DocumentText {
		return types.SubmitResponse{}, fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, params.Type)
	}

	key, err := s.sources.Save(ctx, tenantID, params.FileName, params.Data)
	if err != nil {
		return types.SubmitResponse{}, fmt.Errorf("error saving upload: %w", err)
	}

	now := s.now().UTC()
	doc := &types.Document{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       params.Title,
		Description: params.Description,
		Type:        params.Type,
		FileName:    params.FileName,
		FileSize:    int64(len(params.Data)),
		MimeType:    params.MimeType,
		SourcePath:  key,
		Status:      types.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if rerr := s.sources.Remove(ctx, key); rerr != nil {
			s.logger.Warn("error removing orphaned upload", "key", key, "error", rerr)
		}
		return types.SubmitResponse{}, fmt.Errorf("error creating document: %w", err)
	}
	s.logger.Info("document submitted",
		"document_id", doc.ID,
		"tenant_id", tenantID,
		"type", doc.Type,
		"file_name", doc.FileName,
		"file_size", doc.FileSize)
	s.enqueue(tenantID, doc.ID)
	return types.SubmitResponse{ID: doc.ID, Status: doc.Status}, nil
}

// enqueue leaves the document pending when the queue is full; a later
// Reprocess picks it up.
func (s *Service) enqueue(tenantID string, id uuid.UUID) {
	if err := s.queue.Enqueue(tenantID, id); err != nil {
		s.logger.Warn("document left pending", "document_id", id, "tenant_id", tenantID, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID, withChunks bool) (*types.DocumentResponse, error) {
	doc, err := s.store.GetDocument(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	res := &types.DocumentResponse{Document: *doc}
	if withChunks {
		res.Chunks, err = s.store.ListDocumentChunks(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) List(ctx context.Context, tenantID string, status types.DocumentStatus) ([]types.Document, error) {
	if status != "" {
		switch status {
		case types.StatusPending, types.StatusProcessing, types.StatusIndexed, types.StatusFailed:
		default:
			return nil, types.NewValidationError(map[string]string{"status": fmt.Sprintf("unknown status %q", status)})
		}
	}
	return s.store.ListDocuments(ctx, tenantID, status)
}

// Update edits metadata, and content of text documents. It does not
// reindex; call Reprocess for that.
func (s *Service) Update(ctx context.Context, tenantID string, id uuid.UUID, params types.UpdateDocumentParams) (*types.Document, error) {
	if params.Content != nil {
		doc, err := s.store.GetDocument(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		if doc.Type != types.DocumentText {
			return nil, types.ErrContentNotEditable
		}
	}
	return s.store.UpdateDocument(ctx, tenantID, id, store.DocumentUpdate{
		Title:       params.Title,
		Description: params.Description,
		Content:     params.Content,
	})
}

// Delete soft-deletes the document and purges its chunks. A run in flight
// notices at its next checkpoint and writes nothing.
func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	doc, err := s.store.GetDocument(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteDocument(ctx, tenantID, id); err != nil {
		return err
	}
	if doc.SourcePath != "" {
		if err := s.sources.Remove(ctx, doc.SourcePath); err != nil {
			s.logger.Warn("error removing document source", "document_id", id, "key", doc.SourcePath, "error", err)
		}
	}
	s.logger.Info("document deleted", "document_id", id, "tenant_id", tenantID)
	return nil
}

// Reprocess resets an indexed or failed document to pending and schedules a
// run. A pending document is only rescheduled; a processing one is rejected
// with types.ErrIndexingInProgress.
func (s *Service) Reprocess(ctx context.Context, tenantID string, id uuid.UUID) (types.SubmitResponse, error) {
	err := s.store.TransitionStatus(ctx, tenantID, id,
		[]types.DocumentStatus{types.StatusIndexed, types.StatusFailed}, types.StatusPending)
	if errors.Is(err, types.ErrInvalidTransition) {
		doc, gerr := s.store.GetDocument(ctx, tenantID, id)
		if gerr != nil {
			return types.SubmitResponse{}, gerr
		}
		if doc.Status != types.StatusPending {
			return types.SubmitResponse{}, fmt.Errorf("document %s: %w", id, types.ErrIndexingInProgress)
		}
		err = nil
	}
	if err != nil {
		return types.SubmitResponse{}, err
	}

	s.logger.Info("document reprocess requested", "document_id", id, "tenant_id", tenantID)
	s.enqueue(tenantID, id)
	return types.SubmitResponse{ID: id, Status: types.StatusPending}, nil
}

// Search returns at most MaxResults chunks with similarity >= MinSimilarity,
// best first. Zero values use the configured defaults.
func (s *Service) Search(ctx context.Context, tenantID string, params types.SearchParams) (types.SearchResponse, error) {
	limit := params.MaxResults
	if limit <= 0 {
		limit = s.cfg.MaxChunks
	}
	minSim := s.cfg.MinSimilarity
	if params.MinSimilarity != nil {
		minSim = *params.MinSimilarity
	}

	results, err := s.retriever.Search(ctx, tenantID, params.Query, limit, minSim)
	if err != nil {
		return types.SearchResponse{}, err
	}
	if results == nil {
		results = []types.ScoredChunk{}
	}
	return types.SearchResponse{Results: results, Timestamp: s.now()}, nil
}

// Answer always produces a reply; see agent.Gate.
func (s *Service) Answer(ctx context.Context, tenantID string, params types.AnswerParams) types.AnswerResponse {
	return s.gate.Answer(ctx, tenantID, params.Message, params.MaxChunks, params.MinSimilarity)
}

func (s *Service) PurgeChunk(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := s.store.DeleteChunk(ctx, tenantID, id); err != nil {
		return err
	}
	s.logger.Info("chunk purged", "chunk_id", id, "tenant_id", tenantID)
	return nil
}

// PurgeTenant deletes every chunk of the tenant. Documents keep their status
// until reprocessed.
func (s *Service) PurgeTenant(ctx context.Context, tenantID string) (int, error) {
	n, err := s.store.DeleteTenantChunks(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("tenant chunks purged", "tenant_id", tenantID, "chunks", n)
	return n, nil
}
