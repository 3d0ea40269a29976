package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.InDelta(t, 1.33, cfg.Chunking.TokensPerWord, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.False(t, cfg.Postgres.Enabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "200")
	t.Setenv("CHUNK_OVERLAP", "20")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_DB_NAME", "kb")
	t.Setenv("EMBEDDING_TIMEOUT", "5s")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Chunking.Size)
	assert.Equal(t, 20, cfg.Chunking.Overlap)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.True(t, cfg.Postgres.Enabled())
	assert.Equal(t, "postgres://postgres:@db:5432/kb?sslmode=disable", cfg.Postgres.DSN())
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RETRIEVAL_MAX_CHUNKS=9\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("RETRIEVAL_MAX_CHUNKS") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Retrieval.MaxChunks)
}

func TestLoadRejectsOverlapNotBelowSize(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "50")
	t.Setenv("CHUNK_OVERLAP", "50")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "carrier-pigeon")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
