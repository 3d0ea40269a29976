package model

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhambtra/chatapp-api-sub000/config"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

func TestParseReply_Complete(t *testing.T) {
	raw := `Sure! {"response":"Refunds are accepted for 30 days.","confidence":0.9,"interest_level":"High",
"objection":"price","next_action":"offer resources","sentiment":"positive","intent":"refund_policy","keywords":["refund","30 days"]}`

	p := ParseReply(raw)
	require.Equal(t, ReplyOK, p.Status)
	assert.Equal(t, "Refunds are accepted for 30 days.", p.Reply)
	assert.InDelta(t, 0.9, p.Signals.Confidence, 1e-9)
	assert.Equal(t, "high", p.Signals.InterestLevel)
	assert.Equal(t, "price", p.Signals.Objection)
	assert.Equal(t, "offer_resources", p.Signals.NextAction)
	assert.Equal(t, "positive", p.Signals.Sentiment)
	assert.Equal(t, "refund_policy", p.Signals.Intent)
	assert.Equal(t, []string{"refund", "30 days"}, p.Signals.Keywords)
}

func TestParseReply_BadFieldsFallBack(t *testing.T) {
	raw := `{"response":"ok","confidence":"7","interest_level":42,"objection":"none","next_action":"dance",
"sentiment":null,"keywords":"a, b ,,c"}`

	p := ParseReply(raw)
	require.Equal(t, ReplyOK, p.Status)
	defaults := DefaultSignals()
	assert.Equal(t, 1.0, p.Signals.Confidence)
	assert.Equal(t, defaults.InterestLevel, p.Signals.InterestLevel)
	assert.Empty(t, p.Signals.Objection)
	assert.Equal(t, defaults.NextAction, p.Signals.NextAction)
	assert.Equal(t, defaults.Sentiment, p.Signals.Sentiment)
	assert.Equal(t, defaults.Intent, p.Signals.Intent)
	assert.Equal(t, []string{"a", "b", "c"}, p.Signals.Keywords)

	for _, v := range []string{`"NaN"`, `"nan"`, `"Inf"`, `"-Infinity"`} {
		p = ParseReply(`{"response":"30 days.","confidence":` + v + `}`)
		require.Equal(t, ReplyOK, p.Status, v)
		assert.Equal(t, defaults.Confidence, p.Signals.Confidence, v)
		_, err := json.Marshal(p.Signals)
		assert.NoError(t, err, v)
	}
}

func TestParseReply_Malformed(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":         "",
		"plain text":    "I think the answer is 30 days",
		"broken json":   `{"response": "unterminated`,
		"missing reply": `{"confidence":0.4}`,
		"blank reply":   `{"response":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			p := ParseReply(raw)
			assert.Equal(t, ReplyMalformed, p.Status)
			assert.Empty(t, p.Reply)
			assert.Equal(t, "continue", p.Signals.NextAction)
		})
	}
}

func TestOllamaGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, "user", req.Prompt)
		assert.Equal(t, "json", req.Format)
		assert.False(t, req.Stream)
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: `{"response":"hi"}`})
	}))
	t.Cleanup(srv.Close)

	g, err := NewGenerator(config.GenerationConfig{Provider: "ollama", URL: srv.URL, Model: "m", Timeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"response":"hi"}`, out)
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"response\":\"hi\"}"}}]}`))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGenerator(config.GenerationConfig{Provider: "openai", URL: srv.URL, Model: "m", Timeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"response":"hi"}`, out)
}

func TestGenerator_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	g, err := NewGenerator(config.GenerationConfig{Provider: "ollama", URL: srv.URL, Model: "m", Timeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "sys", "user")
	assert.ErrorIs(t, err, types.ErrGenerationProvider)
}
