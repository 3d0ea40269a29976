package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// Embedder turns text into a vector of exactly Dimension() values.
// One call per text; callers treat any error as fatal for the current run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// NewEmbedder builds the provider client named in cfg.Provider.
func NewEmbedder(cfg config.EmbeddingConfig, logger *slog.Logger) (Embedder, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "ollama":
		logger.Info("embedder configured", "provider", "ollama", "model", cfg.Model, "dimension", cfg.Dimension)
		return NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dimension, client), nil
	case "openai":
		logger.Info("embedder configured", "provider", "openai", "model", cfg.Model, "dimension", cfg.Dimension)
		return NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dimension, client), nil
	case "hash":
		logger.Warn("embedder configured with offline hash provider, similarity is lexical only", "dimension", cfg.Dimension)
		return NewHashEmbedder(cfg.Dimension), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func checkDimension(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
