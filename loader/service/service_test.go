package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/loader/chunker"
	"github.com/shubhambtra/chatapp-api-sub000/loader/extract"
	"github.com/shubhambtra/chatapp-api-sub000/loader/source"
	"github.com/shubhambtra/chatapp-api-sub000/model"
	"github.com/shubhambtra/chatapp-api-sub000/store"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

const testDim = 64

// funcEmbedder delegates to a hash embedder after running hook.
type funcEmbedder struct {
	inner *model.HashEmbedder
	calls atomic.Int32
	hook  func(ctx context.Context, call int) error
}

func (e *funcEmbedder) Dimension() int { return testDim }

func (e *funcEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := int(e.calls.Add(1))
	if e.hook != nil {
		if err := e.hook(ctx, n); err != nil {
			return nil, err
		}
	}
	return e.inner.Embed(ctx, text)
}

type fixture struct {
	store    *store.MemoryStore
	source   *source.MemoryStore
	embedder *funcEmbedder
	indexer  *Indexer
}

func newFixture(t *testing.T, chunkSize int, runTimeout time.Duration) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	src := source.NewMemoryStore()
	emb := &funcEmbedder{inner: model.NewHashEmbedder(testDim)}
	ch := chunker.New(config.ChunkingConfig{Size: chunkSize, Overlap: 2, TokensPerWord: 1})
	ix := New(
		config.IndexerConfig{Workers: 2, QueueSize: 8, RunTimeout: runTimeout},
		st,
		extract.New(src, slog.Default()),
		ch,
		emb,
		NewLocalLocker(),
		slog.Default(),
	)
	return &fixture{store: st, source: src, embedder: emb, indexer: ix}
}

func (f *fixture) textDoc(t *testing.T, tenant, content string) *types.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &types.Document{
		ID:        uuid.New(),
		TenantID:  tenant,
		Title:     "doc",
		Type:      types.DocumentText,
		Content:   content,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc
}

func (f *fixture) get(t *testing.T, doc *types.Document) *types.Document {
	t.Helper()
	got, err := f.store.GetDocument(context.Background(), doc.TenantID, doc.ID)
	require.NoError(t, err)
	return got
}

const refundText = "The refund window is 30 days from purchase. Contact billing@example.com for refund requests."

func TestProcessIndexesDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	doc := f.textDoc(t, "t1", refundText)

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusIndexed, got.Status)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 13, got.TokenCount)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.IndexedAt)

	chunks, err := f.store.ListDocumentChunks(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, refundText, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, len(refundText), chunks[0].EndChar)
	assert.Len(t, chunks[0].Embedding, testDim)
}

func TestProcessKeepsTextContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	content := "\n  Rückgabe: 30 Tage  \n"
	doc := f.textDoc(t, "t1", content)

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusIndexed, got.Status)
	assert.Equal(t, content, got.Content)

	chunks, err := f.store.ListDocumentChunks(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Rückgabe: 30 Tage", chunks[0].Content)
	assert.Equal(t, 3, chunks[0].StartChar)
	assert.Equal(t, 20, chunks[0].EndChar)
	assert.Equal(t, chunks[0].Content, string([]rune(content)[chunks[0].StartChar:chunks[0].EndChar]))
}

func TestProcessFileDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, time.Minute)
	f.source.Put("t1/notes.txt", []byte("one two three four five six seven eight nine ten"))

	now := time.Now().UTC()
	doc := &types.Document{
		ID: uuid.New(), TenantID: "t1", Title: "notes", Type: types.DocumentTXT,
		SourcePath: "t1/notes.txt", Status: types.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusIndexed, got.Status)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, "one two three four five six seven eight nine ten", got.Content)
}

func TestProcessEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, time.Minute)
	f.embedder.hook = func(ctx context.Context, call int) error {
		if call == 2 {
			return errors.Join(types.ErrEmbeddingProvider, errors.New("status 500"))
		}
		return nil
	}
	doc := f.textDoc(t, "t1", "one two three four five six seven eight nine ten")

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "status 500")

	chunks, err := f.store.ListDocumentChunks(ctx, "t1", doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestProcessEmptyContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	doc := f.textDoc(t, "t1", "   \n ")

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Error, types.ErrEmptyContent.Error())
	assert.Zero(t, f.embedder.calls.Load())
}

func TestProcessTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, 50*time.Millisecond)
	f.embedder.hook = func(ctx context.Context, call int) error {
		<-ctx.Done()
		return ctx.Err()
	}
	doc := f.textDoc(t, "t1", refundText)

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	got := f.get(t, doc)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Contains(t, got.Error, context.DeadlineExceeded.Error())
}

func TestProcessAbortsWhenDeletedMidRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, time.Minute)
	doc := f.textDoc(t, "t1", "one two three four five six seven eight nine ten")
	f.embedder.hook = func(ctx context.Context, call int) error {
		if call == 1 {
			return f.store.SoftDeleteDocument(ctx, "t1", doc.ID)
		}
		return nil
	}

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	_, err := f.store.GetDocument(ctx, "t1", doc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	n, err := f.store.DeleteTenantChunks(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	doc := f.textDoc(t, "t1", refundText)

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))
	calls := f.embedder.calls.Load()

	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))
	assert.Equal(t, calls, f.embedder.calls.Load())
	assert.Equal(t, types.StatusIndexed, f.get(t, doc).Status)

	require.NoError(t, f.indexer.Process(ctx, "t1", uuid.New()))
}

func TestReprocessReplacesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 4, time.Minute)
	doc := f.textDoc(t, "t1", "alpha beta gamma delta epsilon zeta")
	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	content := "refund window thirty days"
	_, err := f.store.UpdateDocument(ctx, "t1", doc.ID, store.DocumentUpdate{Content: &content})
	require.NoError(t, err)
	require.NoError(t, f.store.TransitionStatus(ctx, "t1", doc.ID,
		[]types.DocumentStatus{types.StatusIndexed, types.StatusFailed}, types.StatusPending))
	require.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))

	chunks, err := f.store.ListDocumentChunks(ctx, "t1", doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
	for _, c := range chunks {
		assert.NotContains(t, c.Content, "alpha")
	}
	assert.Equal(t, 1, f.get(t, doc).ChunkCount)
}

func TestProcessSingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	doc := f.textDoc(t, "t1", refundText)

	release := make(chan struct{})
	f.embedder.hook = func(ctx context.Context, call int) error {
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.indexer.Process(ctx, "t1", doc.ID))
		}()
	}
	require.Eventually(t, func() bool { return f.embedder.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, f.embedder.calls.Load())
	assert.Equal(t, types.StatusIndexed, f.get(t, doc).Status)
}

func TestEnqueueCoalescesAndDrains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)
	a := f.textDoc(t, "t1", refundText)
	b := f.textDoc(t, "t2", refundText)

	require.NoError(t, f.indexer.Enqueue("t1", a.ID))
	require.NoError(t, f.indexer.Enqueue("t1", a.ID))
	require.NoError(t, f.indexer.Enqueue("t2", b.ID))

	assert.Equal(t, 2, f.indexer.Drain(ctx))
	assert.Equal(t, types.StatusIndexed, f.get(t, a).Status)
	assert.Equal(t, types.StatusIndexed, f.get(t, b).Status)
	assert.Zero(t, f.indexer.Drain(ctx))
}

func TestEnqueueQueueFull(t *testing.T) {
	f := newFixture(t, 500, time.Minute)
	for i := 0; i < 8; i++ {
		require.NoError(t, f.indexer.Enqueue("t1", uuid.New()))
	}
	assert.ErrorIs(t, f.indexer.Enqueue("t1", uuid.New()), ErrQueueFull)
}

func TestRecoverFailsInterruptedRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)

	stale := f.textDoc(t, "t1", refundText)
	require.NoError(t, f.store.TransitionStatus(ctx, "t1", stale.ID,
		[]types.DocumentStatus{types.StatusPending}, types.StatusProcessing))

	later := time.Now().Add(2 * time.Minute)
	f.indexer.now = func() time.Time { return later }
	live := &types.Document{
		ID: uuid.New(), TenantID: "t2", Title: "live", Type: types.DocumentText, Content: refundText,
		Status: types.StatusProcessing, CreatedAt: later, UpdatedAt: later,
	}
	require.NoError(t, f.store.CreateDocument(ctx, live))

	require.NoError(t, f.indexer.Recover(ctx))

	got := f.get(t, stale)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, interruptedMessage, got.Error)
	assert.Equal(t, types.StatusProcessing, f.get(t, live).Status)
	assert.Zero(t, f.indexer.Drain(ctx))

	// A failed document can be reprocessed again.
	require.NoError(t, f.store.TransitionStatus(ctx, "t1", stale.ID,
		[]types.DocumentStatus{types.StatusFailed}, types.StatusPending))
	require.NoError(t, f.indexer.Enqueue("t1", stale.ID))
	assert.Equal(t, 1, f.indexer.Drain(ctx))
	assert.Equal(t, types.StatusIndexed, f.get(t, stale).Status)
}

func TestRecoverRequeuesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 500, time.Minute)

	docs := []*types.Document{
		f.textDoc(t, "t1", refundText),
		f.textDoc(t, "t2", refundText),
	}
	indexed := f.textDoc(t, "t1", refundText)
	require.NoError(t, f.indexer.Process(ctx, "t1", indexed.ID))

	require.NoError(t, f.indexer.Recover(ctx))
	assert.Equal(t, 2, f.indexer.Drain(ctx))
	for _, d := range docs {
		assert.Equal(t, types.StatusIndexed, f.get(t, d).Status)
	}
}

func TestRecoverWaitsForQueueSpace(t *testing.T) {
	f := newFixture(t, 500, time.Minute)
	for i := 0; i < 10; i++ {
		f.textDoc(t, "t1", refundText)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := f.indexer.Recover(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 8, f.indexer.Drain(context.Background()))
}

func TestRunWorkers(t *testing.T) {
	f := newFixture(t, 500, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.indexer.Run(ctx) }()

	docs := make([]*types.Document, 5)
	for i := range docs {
		docs[i] = f.textDoc(t, "t1", strings.Repeat("word ", i+1))
		require.NoError(t, f.indexer.Enqueue("t1", docs[i].ID))
	}

	require.Eventually(t, func() bool {
		for _, d := range docs {
			if f.get(t, d).Status != types.StatusIndexed {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("indexer did not stop")
	}
}
