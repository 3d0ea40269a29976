package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambtra/chatapp-api-sub000/app/agent"
	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/chunker"
	"github.com/shubhambtra/chatapp-api-sub000/loader/extract"
	indexer "github.com/shubhambtra/chatapp-api-sub000/loader/service"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/store"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

const refundText = "The refund window is 30 days from purchase. Contact billing@example.com for refund requests."

type countingGenerator struct {
	reply string
	calls int
}

func (g *countingGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	g.calls++
	return g.reply, nil
}

type harness struct {
	svc     *Service
	store   *store.MemoryStore
	sources *source.MemoryStore
	indexer *indexer.Indexer
	gen     *countingGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.Default()
	st := store.NewMemoryStore()
	src := source.NewMemoryStore()
	emb := model.NewHashEmbedder(256)
	gen := &countingGenerator{reply: `{"response":"Refunds are accepted within 30 days of purchase.","confidence":0.8}`}

	ix := indexer.New(
		config.IndexerConfig{Workers: 1, QueueSize: 16, RunTimeout: time.Minute},
		st,
		extract.New(src, logger),
		chunker.New(config.ChunkingConfig{Size: 500, Overlap: 50, TokensPerWord: 1.33}),
		emb,
		indexer.NewLocalLocker(),
		logger,
	)
	retrieval := config.RetrievalConfig{MaxChunks: 5, MinSimilarity: 0.2, MaxContextTokens: 2000}
	retriever := agent.NewRetriever(st, emb, nil, logger)
	gate := agent.NewGate(retriever, gen, model.ApproxCounter{TokensPerWord: 1.33}, retrieval, logger)

	return &harness{
		svc:     New(st, src, ix, retriever, gate, retrieval, logger),
		store:   st,
		sources: src,
		indexer: ix,
		gen:     gen,
	}
}

func (h *harness) submitText(t *testing.T, tenant, content string) uuid.UUID {
	t.Helper()
	res, err := h.svc.SubmitText(context.Background(), tenant, types.SubmitTextParams{Title: "Refund policy", Content: content})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Status)
	return res.ID
}

func TestRefundScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id := h.submitText(t, "site-a", refundText)
	doc, err := h.svc.Get(ctx, "site-a", id, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, doc.Status)

	require.Equal(t, 1, h.indexer.Drain(ctx))

	doc, err = h.svc.Get(ctx, "site-a", id, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIndexed, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, refundText, doc.Chunks[0].Content)

	res, err := h.svc.Search(ctx, "site-a", types.SearchParams{Query: "refund policy"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, id, res.Results[0].Chunk.DocumentID)
	assert.GreaterOrEqual(t, res.Results[0].Similarity, 0.2)

	answer := h.svc.Answer(ctx, "site-a", types.AnswerParams{Message: "What is your refund policy?"})
	assert.True(t, answer.Grounded)
	assert.Equal(t, 1, h.gen.calls)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, id.String(), answer.Sources[0].DocID)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	a := h.submitText(t, "site-a", refundText)
	h.submitText(t, "site-b", refundText)
	require.Equal(t, 2, h.indexer.Drain(ctx))

	res, err := h.svc.Search(ctx, "site-a", types.SearchParams{Query: refundText})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, a, res.Results[0].Chunk.DocumentID)

	_, err = h.svc.Get(ctx, "site-b", a, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, h.svc.Delete(ctx, "site-b", a), types.ErrNotFound)
}

func TestAnswerDeclinesOnEmptyTenant(t *testing.T) {
	h := newHarness(t)

	answer := h.svc.Answer(context.Background(), "empty", types.AnswerParams{Message: "What is your refund policy?"})

	assert.False(t, answer.Grounded)
	assert.Equal(t, agent.DeclineReply, answer.Reply)
	assert.Zero(t, h.gen.calls)
}

func TestDeleteThenSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id := h.submitText(t, "site-a", refundText)
	h.indexer.Drain(ctx)

	require.NoError(t, h.svc.Delete(ctx, "site-a", id))

	res, err := h.svc.Search(ctx, "site-a", types.SearchParams{Query: "refund policy"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	_, err = h.svc.Get(ctx, "site-a", id, false)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = h.svc.Reprocess(ctx, "site-a", id)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReprocessAfterEdit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id := h.submitText(t, "site-a", refundText)
	h.indexer.Drain(ctx)

	content := "Shipping takes five business days within the country."
	_, err := h.svc.Update(ctx, "site-a", id, types.UpdateDocumentParams{Content: &content})
	require.NoError(t, err)

	res, err := h.svc.Reprocess(ctx, "site-a", id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, res.Status)

	_, err = h.svc.Reprocess(ctx, "site-a", id)
	require.NoError(t, err, "pending document coalesces")

	assert.Equal(t, 1, h.indexer.Drain(ctx))

	doc, err := h.svc.Get(ctx, "site-a", id, true)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIndexed, doc.Status)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, content, doc.Chunks[0].Content)
	assert.NotContains(t, doc.Chunks[0].Content, "refund")
}

func TestReprocessWhileProcessing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id := h.submitText(t, "site-a", refundText)
	require.NoError(t, h.store.TransitionStatus(ctx, "site-a", id,
		[]types.DocumentStatus{types.StatusPending}, types.StatusProcessing))

	_, err := h.svc.Reprocess(ctx, "site-a", id)
	assert.ErrorIs(t, err, types.ErrIndexingInProgress)

	_, err = h.svc.Reprocess(ctx, "site-a", uuid.New())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSubmitFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.SubmitFile(ctx, "site-a", types.SubmitFileParams{
		Title:    "FAQ",
		Type:     types.DocumentTXT,
		FileName: "faq.txt",
		MimeType: "text/plain",
		Data:     []byte("Opening hours are nine to five."),
	})
	require.NoError(t, err)
	h.indexer.Drain(ctx)

	doc, err := h.svc.Get(ctx, "site-a", res.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIndexed, doc.Status)
	assert.Equal(t, "faq.txt", doc.FileName)
	assert.EqualValues(t, 31, doc.FileSize)
	assert.Equal(t, "Opening hours are nine to five.", doc.Content)

	require.NoError(t, h.svc.Delete(ctx, "site-a", res.ID))
	_, err = h.sources.Read(ctx, doc.SourcePath)
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = h.svc.SubmitFile(ctx, "site-a", types.SubmitFileParams{Title: "x", Type: "xlsx", Data: []byte("x")})
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.submitText(t, "site-a", refundText)

	title := "Refunds"
	doc, err := h.svc.Update(ctx, "site-a", id, types.UpdateDocumentParams{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Refunds", doc.Title)
	assert.Equal(t, refundText, doc.Content)

	res, err := h.svc.SubmitFile(ctx, "site-a", types.SubmitFileParams{
		Title: "notes", Type: types.DocumentTXT, FileName: "n.txt", Data: []byte("hello"),
	})
	require.NoError(t, err)
	content := "edited"
	_, err = h.svc.Update(ctx, "site-a", res.ID, types.UpdateDocumentParams{Content: &content})
	assert.ErrorIs(t, err, types.ErrContentNotEditable)
}

func TestListAndPurge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.submitText(t, "site-a", refundText)
	h.submitText(t, "site-a", "Shipping takes five days.")
	h.indexer.Drain(ctx)
	h.submitText(t, "site-a", "Still waiting.")

	all, err := h.svc.List(ctx, "site-a", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := h.svc.List(ctx, "site-a", types.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = h.svc.List(ctx, "site-a", "bogus")
	var verr types.ValidationError
	assert.ErrorAs(t, err, &verr)

	indexed, err := h.svc.List(ctx, "site-a", types.StatusIndexed)
	require.NoError(t, err)
	require.Len(t, indexed, 2)

	doc, err := h.svc.Get(ctx, "site-a", indexed[0].ID, true)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Chunks)
	require.NoError(t, h.svc.PurgeChunk(ctx, "site-a", doc.Chunks[0].ID))
	assert.ErrorIs(t, h.svc.PurgeChunk(ctx, "site-a", doc.Chunks[0].ID), types.ErrNotFound)

	n, err := h.svc.PurgeTenant(ctx, "site-a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := h.svc.Search(ctx, "site-a", types.SearchParams{Query: "refund"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}
