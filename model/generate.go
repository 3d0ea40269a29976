package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// Generator sends a system and user prompt to a completion endpoint and
// returns the raw completion text.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

func NewGenerator(cfg config.GenerationConfig, logger *slog.Logger) (Generator, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case "ollama":
		return &OllamaGenerator{url: cfg.URL, model: cfg.Model, temperature: cfg.Temperature, client: client, logger: logger}, nil
	case "openai":
		return &OpenAIGenerator{url: cfg.URL, apiKey: cfg.APIKey, model: cfg.Model, temperature: cfg.Temperature, client: client, logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

type OllamaGenerator struct {
	url         string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	defer func() {
		g.logger.Debug("llm answer", "provider", "ollama", "took", time.Since(start))
	}()

	reqBody, err := json.Marshal(GenerateRequest{
		Model:   g.model,
		System:  system,
		Prompt:  prompt,
		Format:  "json",
		Options: GenerateOptions{Temperature: g.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := postJSON(ctx, g.client, g.url, "", reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: ollama: %w", types.ErrGenerationProvider, err)
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("%w: ollama: failed to unmarshal response: %w", types.ErrGenerationProvider, err)
	}
	return genResp.Response, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// OpenAIGenerator uses an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAIGenerator struct {
	url         string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()
	defer func() {
		g.logger.Debug("llm answer", "provider", "openai", "took", time.Since(start))
	}()

	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: g.temperature,
	}
	req.ResponseFormat.Type = "json_object"

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := postJSON(ctx, g.client, g.url, g.apiKey, reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: openai: %w", types.ErrGenerationProvider, err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: openai: failed to unmarshal response: %w", types.ErrGenerationProvider, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: openai: no choices returned", types.ErrGenerationProvider)
	}
	return out.Choices[0].Message.Content, nil
}
