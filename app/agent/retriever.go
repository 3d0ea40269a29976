package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shubhambtra/chatapp-api-sub000/metrics"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/store"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// QueryRewriter prepares user text before it is embedded.
type QueryRewriter func(query string) string

// NormalizeQuery trims the query and collapses runs of whitespace.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

type Retriever struct {
	chunks   store.ChunkStorer
	embedder model.Embedder
	rewrite  QueryRewriter
	logger   *slog.Logger
}

func NewRetriever(chunks store.ChunkStorer, embedder model.Embedder, rewrite QueryRewriter, logger *slog.Logger) *Retriever {
	if rewrite == nil {
		rewrite = NormalizeQuery
	}
	return &Retriever{
		chunks:   chunks,
		embedder: embedder,
		rewrite:  rewrite,
		logger:   logger,
	}
}

// Search embeds the query and returns the tenant's most similar chunks.
// A blank query matches nothing.
func (r *Retriever) Search(ctx context.Context, tenantID, query string, limit int, minSimilarity float64) ([]types.ScoredChunk, error) {
	query = r.rewrite(query)
	if query == "" {
		metrics.RecordSearch(0)
		return []types.ScoredChunk{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	metrics.RecordEmbedding(err)
	if err != nil {
		return nil, err
	}

	results, err := r.chunks.Nearest(ctx, tenantID, vec, limit, minSimilarity)
	if err != nil {
		return nil, err
	}
	metrics.RecordSearch(len(results))
	r.logger.Debug("search", "tenant_id", tenantID, "results", len(results), "min_similarity", minSimilarity)
	return results, nil
}
