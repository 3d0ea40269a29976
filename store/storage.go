package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	dsn    string
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, maxConns int, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		dsn:    connStr,
		logger: logger,
	}, nil
}

// Init brings the schema up to date.
func (p *PostgresStore) Init(ctx context.Context) error {
	return Migrate(p.dsn, "up", 0)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}

const documentColumns = `id, tenant_id, title, description, type, file_name, file_size, mime_type, source_path,
	content, status, error_message, chunk_count, token_count, deleted, created_at, updated_at, indexed_at`

func scanDocument(row pgx.Row) (*types.Document, error) {
	doc := &types.Document{}
	if err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.Title,
		&doc.Description,
		&doc.Type,
		&doc.FileName,
		&doc.FileSize,
		&doc.MimeType,
		&doc.SourcePath,
		&doc.Content,
		&doc.Status,
		&doc.Error,
		&doc.ChunkCount,
		&doc.TokenCount,
		&doc.Deleted,
		&doc.CreatedAt,
		&doc.UpdatedAt,
		&doc.IndexedAt); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err := p.pool.Exec(ctx, query,
		doc.ID,
		doc.TenantID,
		doc.Title,
		doc.Description,
		doc.Type,
		doc.FileName,
		doc.FileSize,
		doc.MimeType,
		doc.SourcePath,
		doc.Content,
		doc.Status,
		doc.Error,
		doc.ChunkCount,
		doc.TokenCount,
		doc.Deleted,
		doc.CreatedAt,
		doc.UpdatedAt,
		doc.IndexedAt,
	)
	return err
}

func (p *PostgresStore) GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (*types.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND tenant_id = $2 AND NOT deleted`, id, tenantID)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return doc, err
}

func (p *PostgresStore) ListDocuments(ctx context.Context, tenantID string, status types.DocumentStatus) ([]types.Document, error) {
	return p.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = $1 AND NOT deleted AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`, tenantID, string(status))
}

func (p *PostgresStore) ListDocumentsByStatus(ctx context.Context, status types.DocumentStatus) ([]types.Document, error) {
	return p.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
		WHERE status = $1 AND NOT deleted
		ORDER BY created_at`, string(status))
}

func (p *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]types.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) UpdateDocument(ctx context.Context, tenantID string, id uuid.UUID, upd DocumentUpdate) (*types.Document, error) {
	row := p.pool.QueryRow(ctx, `UPDATE documents SET
			title = COALESCE($3, title),
			description = COALESCE($4, description),
			content = COALESCE($5, content),
			updated_at = $6
		WHERE id = $1 AND tenant_id = $2 AND NOT deleted
		RETURNING `+documentColumns,
		id, tenantID, upd.Title, upd.Description, upd.Content, time.Now().UTC())
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return doc, err
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []types.DocumentStatus, to types.DocumentStatus) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE documents SET status = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND NOT deleted AND status = ANY($5)`,
		id, tenantID, string(to), time.Now().UTC(), allowed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.transitionError(ctx, tenantID, id, to)
	}
	return nil
}

func (p *PostgresStore) MarkFailed(ctx context.Context, tenantID string, id uuid.UUID, msg string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE documents SET status = 'failed', error_message = $3, updated_at = $4
		WHERE id = $1 AND tenant_id = $2 AND NOT deleted AND status = 'processing'`,
		id, tenantID, msg, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return p.transitionError(ctx, tenantID, id, types.StatusFailed)
	}
	return nil
}

// transitionError explains why a guarded status update matched no row.
func (p *PostgresStore) transitionError(ctx context.Context, tenantID string, id uuid.UUID, to types.DocumentStatus) error {
	var status types.DocumentStatus
	var deleted bool
	err := p.pool.QueryRow(ctx, `SELECT status, deleted FROM documents WHERE id = $1 AND tenant_id = $2`, id, tenantID).
		Scan(&status, &deleted)
	return describeState(err, id, status, deleted, to)
}

func describeState(err error, id uuid.UUID, status types.DocumentStatus, deleted bool, to types.DocumentStatus) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	case err != nil:
		return err
	case deleted:
		return fmt.Errorf("document %s: %w", id, types.ErrDocumentDeleted)
	default:
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, status, to)
	}
}

const insertChunkQuery = `INSERT INTO chunks (id, document_id, tenant_id, content, chunk_index, start_char, end_char, token_count, embedding, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (p *PostgresStore) CompleteIndexing(ctx context.Context, tenantID string, id uuid.UUID, res types.IndexResult) error {
	if err := sameDimension(res.Chunks); err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The row lock serializes this write with a concurrent soft delete.
	var status types.DocumentStatus
	var deleted bool
	err = tx.QueryRow(ctx, `SELECT status, deleted FROM documents WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID).
		Scan(&status, &deleted)
	if err != nil || deleted || status != types.StatusProcessing {
		return describeState(err, id, status, deleted, types.StatusIndexed)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("error deleting old chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range res.Chunks {
		batch.Queue(insertChunkQuery,
			c.ID, id, tenantID, c.Content, c.Index, c.StartChar, c.EndChar, c.TokenCount,
			pgvector.NewVector(c.Embedding), c.CreatedAt, c.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("error inserting chunks: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE documents SET status = 'indexed', error_message = '', content = $3,
			chunk_count = $4, token_count = $5, indexed_at = $6, updated_at = $6
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, res.Content, len(res.Chunks), res.TokenCount, res.IndexedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) SoftDeleteDocument(ctx context.Context, tenantID string, id uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE documents SET deleted = TRUE, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND NOT deleted`, id, tenantID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const chunkColumns = `c.id, c.document_id, c.tenant_id, c.content, c.chunk_index, c.start_char, c.end_char,
	c.token_count, c.embedding, c.created_at, c.updated_at`

func scanChunk(row pgx.Row, extra ...any) (*types.Chunk, error) {
	c := &types.Chunk{}
	var embedding pgvector.Vector
	dest := []any{
		&c.ID,
		&c.DocumentID,
		&c.TenantID,
		&c.Content,
		&c.Index,
		&c.StartChar,
		&c.EndChar,
		&c.TokenCount,
		&embedding,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.Embedding = embedding.Slice()
	return c, nil
}

func (p *PostgresStore) UpsertChunk(ctx context.Context, tenantID string, c types.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var deleted bool
	err = tx.QueryRow(ctx, `SELECT deleted FROM documents WHERE id = $1 AND tenant_id = $2 FOR SHARE`, c.DocumentID, tenantID).
		Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) || deleted {
		return fmt.Errorf("document %s: %w", c.DocumentID, types.ErrNotFound)
	}
	if err != nil {
		return err
	}

	var mismatched bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks
		WHERE document_id = $1 AND id <> $2 AND vector_dims(embedding) <> $3)`, c.DocumentID, c.ID, len(c.Embedding)).
		Scan(&mismatched)
	if err != nil {
		return err
	}
	if mismatched {
		return fmt.Errorf("%w: chunk has %d dimensions", types.ErrDimensionMismatch, len(c.Embedding))
	}

	_, err = tx.Exec(ctx, insertChunkQuery+`
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			chunk_index = EXCLUDED.chunk_index,
			start_char = EXCLUDED.start_char,
			end_char = EXCLUDED.end_char,
			token_count = EXCLUDED.token_count,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
		WHERE chunks.tenant_id = EXCLUDED.tenant_id`,
		c.ID, c.DocumentID, tenantID, c.Content, c.Index, c.StartChar, c.EndChar, c.TokenCount,
		pgvector.NewVector(c.Embedding), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetChunk(ctx context.Context, tenantID string, id uuid.UUID) (*types.Chunk, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.id = $1 AND c.tenant_id = $2`, id, tenantID)
	c, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	return c, err
}

func (p *PostgresStore) queryChunks(ctx context.Context, query string, args ...any) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make([]types.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) GetChunks(ctx context.Context, tenantID string, ids []uuid.UUID) ([]types.Chunk, error) {
	return p.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks c WHERE c.tenant_id = $1 AND c.id = ANY($2)`, tenantID, ids)
}

func (p *PostgresStore) ListDocumentChunks(ctx context.Context, tenantID string, docID uuid.UUID) ([]types.Chunk, error) {
	return p.queryChunks(ctx, `SELECT `+chunkColumns+` FROM chunks c
		WHERE c.tenant_id = $1 AND c.document_id = $2 ORDER BY c.chunk_index`, tenantID, docID)
}

func (p *PostgresStore) DeleteChunk(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) DeleteChunks(ctx context.Context, tenantID string, ids []uuid.UUID) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) DeleteTenantChunks(ctx context.Context, tenantID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Nearest computes exact cosine similarity in SQL over every candidate row.
// pgvector yields NaN for zero vectors, so those score 0 explicitly.
func (p *PostgresStore) Nearest(ctx context.Context, tenantID string, query []float32, limit int, minScore float64) ([]types.ScoredChunk, error) {
	if limit <= 0 || len(query) == 0 {
		return []types.ScoredChunk{}, nil
	}

	score := `CASE WHEN vector_norm(c.embedding) = 0 THEN 0 ELSE 1 - (c.embedding <=> $2::vector) END`
	if magnitude(query) == 0 {
		score = `0`
	}

	rows, err := p.pool.Query(ctx, `SELECT * FROM (
			SELECT `+chunkColumns+`, d.title, (`+score+`)::float8 AS score
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE c.tenant_id = $1 AND d.tenant_id = $1
				AND NOT d.deleted AND d.status = 'indexed'
				AND vector_dims(c.embedding) = vector_dims($2::vector)
		) s
		WHERE s.score >= $3
		ORDER BY s.score DESC, s.document_id, s.chunk_index
		LIMIT $4`,
		tenantID, pgvector.NewVector(query), minScore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]types.ScoredChunk, 0, limit)
	for rows.Next() {
		var sc types.ScoredChunk
		c, err := scanChunk(rows, &sc.DocumentTitle, &sc.Similarity)
		if err != nil {
			return nil, err
		}
		sc.Chunk = *c
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	p.logger.Debug("nearest chunks", "tenant_id", tenantID, "found", len(results), "min_score", minScore)
	return results, nil
}
