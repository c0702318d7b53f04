package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

func testModel(endpoint string) *models.Model {
	return &models.Model{
		ID:        "lan/test-model",
		Provider:  "lan",
		Location:  models.LocationLAN,
		Endpoint:  endpoint,
		Format:    models.FormatOpenAI,
		MaxTokens: 2048,
	}
}

func TestSend_RequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "no credential env means no bearer header")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{ID: "x"})
	}))
	defer srv.Close()

	temp := 0.7
	adapter := NewAdapter(zap.NewNop())
	_, err := adapter.Send(context.Background(), testModel(srv.URL), &providers.Request{
		Messages:    []models.ChatMessage{{Role: "user", Content: "hi"}},
		Stream:      false,
		Temperature: &temp,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-model", got["model"], "wire model name drops the provider prefix")
	assert.Equal(t, false, got["stream"])
	assert.EqualValues(t, 2048, got["max_tokens"], "model default applies when no override")
	assert.EqualValues(t, 0.7, got["temperature"])
	_, hasTopP := got["top_p"]
	assert.False(t, hasTopP, "unset knobs are omitted")
}

func TestSend_BearerFromModelEnvVar(t *testing.T) {
	t.Setenv("TEST_BACKEND_KEY", "sk-secret")

	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{})
	}))
	defer srv.Close()

	m := testModel(srv.URL)
	m.APIKeyEnv = "TEST_BACKEND_KEY"

	_, err := NewAdapter(zap.NewNop()).Send(context.Background(), m, &providers.Request{Stream: false})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-secret", auth)
}

func TestSend_NonOKCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewAdapter(zap.NewNop()).Send(context.Background(), testModel(srv.URL), &providers.Request{Stream: true})
	require.Error(t, err)

	var provErr *providers.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
}

func TestSend_StreamingParsesEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// comment, then chunks, one of them split mid-line across
		// writes to exercise the partial-line buffer
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"id":"c1","created":1,"model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`+"\n\n")
		flusher.Flush()
		fmt.Fprint(w, `data: {"id":"c1","created":1,"model":"test-mod`)
		flusher.Flush()
		fmt.Fprint(w, `el","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	resp, err := NewAdapter(zap.NewNop()).Send(context.Background(), testModel(srv.URL), &providers.Request{Stream: true})
	require.NoError(t, err)
	defer resp.Stream.Close()

	first, err := resp.Stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "Hel", first.Choices[0].Delta.Content)

	second, err := resp.Stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "lo", second.Choices[0].Delta.Content)
	require.NotNil(t, second.Usage)
	assert.Equal(t, 5, second.Usage.TotalTokens)

	_, err = resp.Stream.Recv()
	assert.Equal(t, io.EOF, err)

	_, err = resp.Stream.Recv()
	assert.Equal(t, io.EOF, err, "streams are one-shot")
}

func TestSend_NonStreamingSynthesizesChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			ID:      "cmpl-1",
			Created: 42,
			Model:   "test-model",
			Choices: []models.ChatChoice{{
				Message:      models.ChatMessage{Role: "assistant", Content: "four"},
				FinishReason: "stop",
			}},
			Usage: models.ChatUsage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11},
		})
	}))
	defer srv.Close()

	resp, err := NewAdapter(zap.NewNop()).Send(context.Background(), testModel(srv.URL), &providers.Request{Stream: false})
	require.NoError(t, err)

	chunk, err := resp.Stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "cmpl-1", chunk.ID)
	assert.Equal(t, "four", chunk.Choices[0].Delta.Content)
	require.NotNil(t, chunk.Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunk.Choices[0].FinishReason)
	require.NotNil(t, chunk.Usage)
	assert.Equal(t, 11, chunk.Usage.TotalTokens)

	_, err = resp.Stream.Recv()
	assert.Equal(t, io.EOF, err)
}

func TestSend_AbortStopsStream(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	resp, err := NewAdapter(zap.NewNop()).Send(context.Background(), testModel(srv.URL), &providers.Request{Stream: true})
	require.NoError(t, err)

	resp.Abort()
	_, err = resp.Stream.Recv()
	assert.Equal(t, io.EOF, err)
}
