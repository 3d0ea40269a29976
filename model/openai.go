package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// OpenAIEmbedder talks to any OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	apiURL    string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
}

type openAIEmbeddingRequest struct {
	Input      string `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewOpenAIEmbedder(apiURL, apiKey, model string, dimension int, client *http.Client) *OpenAIEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenAIEmbedder{
		apiURL:    apiURL,
		apiKey:    apiKey,
		model:     model,
		dimension: dimension,
		client:    client,
	}
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{
		Input:      text,
		Model:      e.model,
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := postJSON(ctx, e.client, e.apiURL, e.apiKey, body)
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %w", types.ErrEmbeddingProvider, err)
	}

	var out openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: openai: failed to unmarshal response: %w", types.ErrEmbeddingProvider, err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: openai: no embedding returned", types.ErrEmbeddingProvider)
	}

	embedding := toFloat32(out.Data[0].Embedding)
	if err := checkDimension(embedding, e.dimension); err != nil {
		return nil, err
	}
	return embedding, nil
}
