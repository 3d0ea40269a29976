// Package service runs document indexing: extraction, chunking, embedding
// and the atomic chunk replace, driving each document through
// pending -> processing -> indexed | failed.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/chunker"
	"github.com/shubhambtra/chatapp-api-sub000/metrics"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/store"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

var ErrQueueFull = errors.New("indexing queue is full")

const interruptedMessage = "indexing interrupted before completion"

type Extractor interface {
	Extract(ctx context.Context, doc *types.Document) (string, error)
}

type job struct {
	tenantID string
	docID    uuid.UUID
}

func (j job) key() string {
	return j.tenantID + "/" + j.docID.String()
}

type Indexer struct {
	logger    *slog.Logger
	store     store.DBStorer
	extractor Extractor
	chunker   *chunker.Chunker
	embedder  model.Embedder
	locker    Locker

	workers    int
	runTimeout time.Duration
	now        func() time.Time

	queue  chan job
	mu     sync.Mutex
	queued map[string]struct{}
}

func New(
	cfg config.IndexerConfig,
	storer store.DBStorer,
	extractor Extractor,
	ch *chunker.Chunker,
	embedder model.Embedder,
	locker Locker,
	logger *slog.Logger,
) *Indexer {
	return &Indexer{
		logger:     logger,
		store:      storer,
		extractor:  extractor,
		chunker:    ch,
		embedder:   embedder,
		locker:     locker,
		workers:    max(1, cfg.Workers),
		runTimeout: cfg.RunTimeout,
		now:        time.Now,
		queue:      make(chan job, max(1, cfg.QueueSize)),
		queued:     make(map[string]struct{}),
	}
}

// Enqueue schedules a run for the document. A document already waiting in
// the queue is not queued twice.
func (ix *Indexer) Enqueue(tenantID string, id uuid.UUID) error {
	j := job{tenantID: tenantID, docID: id}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.queued[j.key()]; ok {
		return nil
	}
	select {
	case ix.queue <- j:
		ix.queued[j.key()] = struct{}{}
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (ix *Indexer) dequeued(j job) {
	ix.mu.Lock()
	delete(ix.queued, j.key())
	ix.mu.Unlock()
	metrics.QueueDepth.Dec()
}

// Run starts the worker pool and blocks until ctx is cancelled. Work left
// over from a previous process is recovered alongside the workers.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.logger.Info("indexer started", "workers", ix.workers)
	defer ix.logger.Info("indexer stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ix.Recover(ctx); err != nil && ctx.Err() == nil {
			ix.logger.Error("indexing recovery error", "error", err)
		}
		return nil
	})
	for i := 0; i < ix.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-ix.queue:
					ix.dequeued(j)
					if err := ix.Process(ctx, j.tenantID, j.docID); err != nil {
						ix.logger.Error("indexing run error", "document_id", j.docID, "tenant_id", j.tenantID, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// Recover settles documents a stopped process left behind. A processing
// document not updated within the run timeout has no live run and is marked
// failed; pending documents are queued again, waiting for queue space.
func (ix *Indexer) Recover(ctx context.Context) error {
	stuck, err := ix.store.ListDocumentsByStatus(ctx, types.StatusProcessing)
	if err != nil {
		return fmt.Errorf("error listing processing documents: %w", err)
	}
	cutoff := ix.now().Add(-ix.runTimeout)
	failed := 0
	for _, doc := range stuck {
		if doc.UpdatedAt.After(cutoff) {
			continue
		}
		err := ix.store.MarkFailed(ctx, doc.TenantID, doc.ID, interruptedMessage)
		switch {
		case err == nil:
			failed++
			metrics.RecordIndexRun(metrics.ResultFailed, doc.UpdatedAt, 0)
			ix.logger.Warn("interrupted indexing run marked failed",
				"document_id", doc.ID, "tenant_id", doc.TenantID, "status", types.StatusFailed)
		case isGone(err), errors.Is(err, types.ErrInvalidTransition):
			// Finished or deleted since the listing.
		default:
			return fmt.Errorf("error failing document %s: %w", doc.ID, err)
		}
	}

	pending, err := ix.store.ListDocumentsByStatus(ctx, types.StatusPending)
	if err != nil {
		return fmt.Errorf("error listing pending documents: %w", err)
	}
	for _, doc := range pending {
		if err := ix.enqueueWait(ctx, doc.TenantID, doc.ID); err != nil {
			return err
		}
	}
	ix.logger.Info("indexing recovered", "failed", failed, "requeued", len(pending))
	return nil
}

func (ix *Indexer) enqueueWait(ctx context.Context, tenantID string, id uuid.UUID) error {
	for {
		err := ix.Enqueue(tenantID, id)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Drain processes queued runs on the calling goroutine until the queue is
// empty and returns how many were taken.
func (ix *Indexer) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case j := <-ix.queue:
			ix.dequeued(j)
			n++
			if err := ix.Process(ctx, j.tenantID, j.docID); err != nil {
				ix.logger.Error("indexing run error", "document_id", j.docID, "tenant_id", j.tenantID, "error", err)
			}
		default:
			return n
		}
	}
}

// Process performs one indexing run. Pipeline failures are recorded on the
// document and are not returned; the returned error is for runs that could
// not start or finish bookkeeping.
func (ix *Indexer) Process(ctx context.Context, tenantID string, id uuid.UUID) error {
	started := ix.now()
	log := ix.logger.With("document_id", id, "tenant_id", tenantID)

	unlock, err := ix.locker.Lock(ctx, job{tenantID: tenantID, docID: id}.key())
	if err != nil {
		metrics.RecordIndexRun(metrics.ResultSkipped, started, 0)
		return err
	}
	defer unlock()

	err = ix.store.TransitionStatus(ctx, tenantID, id,
		[]types.DocumentStatus{types.StatusPending}, types.StatusProcessing)
	if err != nil {
		metrics.RecordIndexRun(metrics.ResultSkipped, started, 0)
		if isGone(err) || errors.Is(err, types.ErrInvalidTransition) {
			log.Debug("no pending run for document", "reason", err)
			return nil
		}
		return err
	}
	log.Info("indexing started", "status", types.StatusProcessing)

	runCtx, cancel := context.WithTimeout(ctx, ix.runTimeout)
	defer cancel()

	res, err := ix.index(runCtx, tenantID, id)
	if err == nil {
		err = ix.store.CompleteIndexing(runCtx, tenantID, id, res)
	}
	switch {
	case err == nil:
		metrics.RecordIndexRun(metrics.ResultIndexed, started, len(res.Chunks))
		log.Info("document indexed",
			"status", types.StatusIndexed,
			"chunks", len(res.Chunks),
			"tokens", res.TokenCount,
			"duration", time.Since(started))
		return nil
	case isGone(err):
		metrics.RecordIndexRun(metrics.ResultAborted, started, 0)
		log.Info("document deleted during indexing, run aborted", "duration", time.Since(started))
		return nil
	}

	failCtx, cancelFail := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelFail()
	if ferr := ix.store.MarkFailed(failCtx, tenantID, id, err.Error()); ferr != nil {
		if isGone(ferr) {
			metrics.RecordIndexRun(metrics.ResultAborted, started, 0)
			return nil
		}
		return fmt.Errorf("error marking document failed: %w", ferr)
	}
	metrics.RecordIndexRun(metrics.ResultFailed, started, 0)
	log.Warn("indexing failed",
		"status", types.StatusFailed,
		"error", err,
		"duration", time.Since(started))
	return nil
}

func (ix *Indexer) index(ctx context.Context, tenantID string, id uuid.UUID) (types.IndexResult, error) {
	doc, err := ix.store.GetDocument(ctx, tenantID, id)
	if err != nil {
		return types.IndexResult{}, err
	}

	text, err := ix.extractor.Extract(ctx, doc)
	if err != nil {
		return types.IndexResult{}, err
	}
	spans := ix.chunker.Split(text)
	if len(spans) == 0 {
		return types.IndexResult{}, fmt.Errorf("%w: no chunks produced", types.ErrEmptyContent)
	}

	// Extraction can be slow; skip embedding a document deleted meanwhile.
	if _, err := ix.store.GetDocument(ctx, tenantID, id); err != nil {
		return types.IndexResult{}, err
	}

	now := ix.now().UTC()
	chunks := make([]types.Chunk, 0, len(spans))
	for _, sp := range spans {
		vec, err := ix.embedder.Embed(ctx, sp.Content)
		metrics.RecordEmbedding(err)
		if err != nil {
			return types.IndexResult{}, fmt.Errorf("embedding chunk %d: %w", sp.Index, err)
		}
		chunks = append(chunks, types.Chunk{
			ID:         uuid.New(),
			DocumentID: id,
			TenantID:   tenantID,
			Content:    sp.Content,
			Index:      sp.Index,
			StartChar:  sp.StartChar,
			EndChar:    sp.EndChar,
			TokenCount: sp.TokenCount,
			Embedding:  vec,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	return types.IndexResult{
		Content:    text,
		Chunks:     chunks,
		TokenCount: ix.chunker.CountTokens(text),
		IndexedAt:  now,
	}, nil
}

func isGone(err error) bool {
	return errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrDocumentDeleted)
}
