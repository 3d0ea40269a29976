package store

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("knowledge"),
		tcPostgres.WithUsername("knowledge"),
		tcPostgres.WithPassword("knowledge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://knowledge:knowledge@%s:%s/knowledge?sslmode=disable", host, port.Port())
	st, err := NewPostgresStore(ctx, dsn, 4, slog.Default())
	require.NoError(t, err)
	require.NoError(t, st.Init(ctx))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPostgresStore(t *testing.T) {
	st := newPostgresStore(t)
	ctx := context.Background()

	t.Run("nearest is tenant scoped and ordered", func(t *testing.T) {
		a := newDoc("pg-a", "alpha")
		b := newDoc("pg-b", "beta")
		indexDoc(t, st, a,
			chunkWith(a.ID, 0, 1, 0),
			chunkWith(a.ID, 1, 0.8, 0.6),
			chunkWith(a.ID, 2, 0, 0),
		)
		indexDoc(t, st, b, chunkWith(b.ID, 0, 1, 0))

		res, err := st.Nearest(ctx, "pg-a", []float32{1, 0}, 10, 0.5)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, 0, res[0].Chunk.Index)
		assert.Equal(t, 1, res[1].Chunk.Index)
		assert.InDelta(t, 0.8, res[1].Similarity, 1e-5)
		assert.Equal(t, "alpha", res[0].DocumentTitle)
		assert.Equal(t, []float32{1, 0}, res[0].Chunk.Embedding)

		res, err = st.Nearest(ctx, "pg-a", []float32{1, 0}, 10, -1)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Zero(t, res[2].Similarity)

		res, err = st.Nearest(ctx, "pg-a", []float32{0, 0}, 10, -1)
		require.NoError(t, err)
		require.Len(t, res, 3)
	})

	t.Run("complete indexing replaces chunks", func(t *testing.T) {
		doc := newDoc("pg-c", "doc")
		indexDoc(t, st, doc, chunkWith(doc.ID, 0, 1, 0), chunkWith(doc.ID, 1, 0, 1))

		require.NoError(t, st.TransitionStatus(ctx, "pg-c", doc.ID,
			[]types.DocumentStatus{types.StatusIndexed}, types.StatusProcessing))
		repl := chunkWith(doc.ID, 0, 0.5, 0.5)
		require.NoError(t, st.CompleteIndexing(ctx, "pg-c", doc.ID, types.IndexResult{
			Content:    "new",
			Chunks:     []types.Chunk{repl},
			TokenCount: 3,
			IndexedAt:  time.Now().UTC(),
		}))

		chunks, err := st.ListDocumentChunks(ctx, "pg-c", doc.ID)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, repl.ID, chunks[0].ID)

		got, err := st.GetDocument(ctx, "pg-c", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusIndexed, got.Status)
		assert.Equal(t, 1, got.ChunkCount)
		assert.Equal(t, "new", got.Content)
	})

	t.Run("soft delete hides document and purges chunks", func(t *testing.T) {
		doc := newDoc("pg-d", "doc")
		indexDoc(t, st, doc, chunkWith(doc.ID, 0, 1, 0))

		require.NoError(t, st.SoftDeleteDocument(ctx, "pg-d", doc.ID))
		_, err := st.GetDocument(ctx, "pg-d", doc.ID)
		assert.ErrorIs(t, err, types.ErrNotFound)

		res, err := st.Nearest(ctx, "pg-d", []float32{1, 0}, 10, -1)
		require.NoError(t, err)
		assert.Empty(t, res)

		err = st.CompleteIndexing(ctx, "pg-d", doc.ID, types.IndexResult{})
		assert.ErrorIs(t, err, types.ErrDocumentDeleted)
	})

	t.Run("list by status spans tenants", func(t *testing.T) {
		x := newDoc("pg-f", "x")
		y := newDoc("pg-g", "y")
		require.NoError(t, st.CreateDocument(ctx, x))
		require.NoError(t, st.CreateDocument(ctx, y))
		require.NoError(t, st.TransitionStatus(ctx, "pg-g", y.ID,
			[]types.DocumentStatus{types.StatusPending}, types.StatusProcessing))

		ids := func(status types.DocumentStatus) []uuid.UUID {
			docs, err := st.ListDocumentsByStatus(ctx, status)
			require.NoError(t, err)
			out := make([]uuid.UUID, len(docs))
			for i, d := range docs {
				out[i] = d.ID
			}
			return out
		}
		assert.Contains(t, ids(types.StatusPending), x.ID)
		assert.NotContains(t, ids(types.StatusPending), y.ID)
		assert.Contains(t, ids(types.StatusProcessing), y.ID)
	})

	t.Run("transitions are guarded", func(t *testing.T) {
		doc := newDoc("pg-e", "doc")
		require.NoError(t, st.CreateDocument(ctx, doc))

		err := st.MarkFailed(ctx, "pg-e", doc.ID, "boom")
		assert.ErrorIs(t, err, types.ErrInvalidTransition)

		err = st.TransitionStatus(ctx, "pg-e", uuid.New(),
			[]types.DocumentStatus{types.StatusPending}, types.StatusProcessing)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("chunk purge", func(t *testing.T) {
		doc := newDoc("pg-f", "doc")
		indexDoc(t, st, doc, chunkWith(doc.ID, 0, 1, 0), chunkWith(doc.ID, 1, 0, 1))

		n, err := st.DeleteTenantChunks(ctx, "pg-f")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
