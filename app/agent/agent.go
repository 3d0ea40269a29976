// Package agent answers user messages from retrieved knowledge chunks only.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/metrics"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

const (
	// DeclineReply is returned, without calling the generator, when no chunk
	// qualifies as context.
	DeclineReply = "I don't have information about that in our knowledge base. Could you rephrase your question, or would you like me to connect you with a member of our team?"

	// FallbackReply is returned when generation fails or its output is unusable.
	FallbackReply = "Thanks for your message. Could you tell me a little more about what you need so I can help?"
)

const (
	outcomeGrounded = "grounded"
	outcomeDeclined = "declined"
	outcomeFallback = "fallback"
)

var systemPrompt = fmt.Sprintf(`You are a customer support assistant for a business website.
Answer ONLY with facts stated in the provided context. Do not use outside knowledge and do not guess.
If the context does not directly answer the question, say that you do not have that information and offer to connect the visitor with the team.
Answer clearly and to the point, without introductions like "Of course!".
Respond with a single JSON object and nothing else, using these fields:
"%s": the answer text,
"%s": number from 0 to 1, how well the context answers the question,
"%s": "low", "medium" or "high",
"%s": the visitor's objection, or "none",
"%s": one of "continue", "ask_clarification", "escalate_to_human", "offer_resources", "close",
"%s": "positive", "neutral" or "negative",
"%s": a short label for what the visitor wants,
"%s": a list of up to five keywords.`,
	model.FieldReply,
	model.FieldConfidence,
	model.FieldInterestLevel,
	model.FieldObjection,
	model.FieldNextAction,
	model.FieldSentiment,
	model.FieldIntent,
	model.FieldKeywords,
)

type Searcher interface {
	Search(ctx context.Context, tenantID, query string, limit int, minSimilarity float64) ([]types.ScoredChunk, error)
}

type Gate struct {
	searcher  Searcher
	generator model.Generator
	counter   model.TokenCounter
	cfg       config.RetrievalConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewGate(searcher Searcher, generator model.Generator, counter model.TokenCounter, cfg config.RetrievalConfig, logger *slog.Logger) *Gate {
	return &Gate{
		searcher:  searcher,
		generator: generator,
		counter:   counter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Answer never fails: provider errors turn into FallbackReply and an empty
// retrieval into DeclineReply. maxChunks <= 0 and a nil minSimilarity use
// the configured defaults.
func (g *Gate) Answer(ctx context.Context, tenantID, message string, maxChunks int, minSimilarity *float64) types.AnswerResponse {
	if maxChunks <= 0 {
		maxChunks = g.cfg.MaxChunks
	}
	minSim := g.cfg.MinSimilarity
	if minSimilarity != nil {
		minSim = *minSimilarity
	}
	log := g.logger.With("tenant_id", tenantID)

	chunks, err := g.searcher.Search(ctx, tenantID, message, maxChunks, minSim)
	if err != nil {
		log.Warn("retrieval failed, using fallback reply", "error", err)
		return g.fallback()
	}
	if len(chunks) == 0 {
		metrics.RecordAnswer(outcomeDeclined)
		log.Info("no context found, declining")
		return types.AnswerResponse{
			Reply:     DeclineReply,
			Grounded:  false,
			Signals:   model.DefaultSignals(),
			Sources:   []types.Source{},
			Timestamp: g.now(),
		}
	}

	block, used := g.buildContext(chunks)
	prompt := fmt.Sprintf("Context:\n%s\nQuestion:\n%s\n", block, strings.TrimSpace(message))

	raw, err := g.generator.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		log.Warn("generation failed, using fallback reply", "error", err)
		return g.fallback()
	}

	parsed := model.ParseReply(raw)
	if parsed.Status != model.ReplyOK {
		log.Warn("malformed generation reply, using fallback reply", "status", parsed.Status, "raw", model.Truncate(raw, 200))
		return g.fallback()
	}

	metrics.RecordAnswer(outcomeGrounded)
	log.Info("answered from context", "chunks", len(used), "confidence", parsed.Signals.Confidence)
	return types.AnswerResponse{
		Reply:     parsed.Reply,
		Grounded:  true,
		Signals:   parsed.Signals,
		Sources:   sources(used),
		Timestamp: g.now(),
	}
}

func (g *Gate) fallback() types.AnswerResponse {
	metrics.RecordAnswer(outcomeFallback)
	return types.AnswerResponse{
		Reply:     FallbackReply,
		Grounded:  false,
		Signals:   model.DefaultSignals(),
		Sources:   []types.Source{},
		Timestamp: g.now(),
	}
}

// buildContext renders chunks best first until the token budget is spent.
// The first chunk is always kept.
func (g *Gate) buildContext(chunks []types.ScoredChunk) (string, []types.ScoredChunk) {
	var sb strings.Builder
	used := make([]types.ScoredChunk, 0, len(chunks))
	tokens := 0
	for i, ch := range chunks {
		entry := fmt.Sprintf("[%d] %s\n%s\n\n", i+1, ch.DocumentTitle, ch.Chunk.Content)
		n := g.counter.Count(entry)
		if len(used) > 0 && tokens+n > g.cfg.MaxContextTokens {
			g.logger.Debug("context budget reached", "chunks", len(used), "tokens", tokens)
			break
		}
		tokens += n
		sb.WriteString(entry)
		used = append(used, ch)
	}
	return sb.String(), used
}

func sources(chunks []types.ScoredChunk) []types.Source {
	out := make([]types.Source, len(chunks))
	for i, ch := range chunks {
		out[i] = types.Source{
			DocID:      ch.Chunk.DocumentID.String(),
			Title:      ch.DocumentTitle,
			ChunkText:  ch.Chunk.Content,
			Index:      ch.Chunk.Index,
			Similarity: ch.Similarity,
		}
	}
	return out
}
