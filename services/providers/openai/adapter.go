package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

// Adapter speaks the OpenAI chat-completions wire protocol. It serves
// every backend whose format tag is "openai": co-located llama.cpp,
// LAN vLLM, and the OpenAI API itself.
type Adapter struct {
	client *http.Client
	logger *zap.Logger
}

// NewAdapter creates an OpenAI-shaped adapter. The client carries no
// overall timeout; streams are bounded by the request context.
func NewAdapter(logger *zap.Logger) *Adapter {
	return &Adapter{
		client: &http.Client{},
		logger: logger,
	}
}

type wireRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	Stop        any                  `json:"stop,omitempty"`
}

// Send issues the completion request and returns the normalized
// stream. Non-2xx responses surface as ProviderError with the status
// attached.
func (a *Adapter) Send(ctx context.Context, model *models.Model, req *providers.Request) (*providers.StreamResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}

	body, err := json.Marshal(wireRequest{
		Model:       model.BackendName(),
		Messages:    req.Messages,
		Stream:      req.Stream,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, providers.NewProviderError(model.Provider, 0, "failed to marshal request", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(model.Endpoint, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, providers.NewProviderError(model.Provider, 0, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := providers.Credential(model); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, providers.NewProviderError(model.Provider, 0, err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, providers.NewProviderError(model.Provider, resp.StatusCode,
			fmt.Sprintf("backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)), nil)
	}

	if req.Stream {
		return &providers.StreamResponse{
			Stream: newSSEStream(resp.Body, cancel),
			Model:  model,
		}, nil
	}

	defer resp.Body.Close()
	defer cancel()

	var completion models.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, providers.NewProviderError(model.Provider, 0, "failed to decode response", err)
	}

	return &providers.StreamResponse{
		Stream: newSingleChunkStream(synthesizeChunk(&completion)),
		Model:  model,
	}, nil
}

// synthesizeChunk converts a non-streamed completion into one chunk of
// the normalized shape.
func synthesizeChunk(resp *models.ChatCompletionResponse) *models.ChatCompletionChunk {
	chunk := &models.ChatCompletionChunk{
		ID:      resp.ID,
		Object:  "chat.completion.chunk",
		Created: resp.Created,
		Model:   resp.Model,
	}
	if chunk.Created == 0 {
		chunk.Created = time.Now().Unix()
	}
	if resp.Usage.TotalTokens > 0 {
		usage := resp.Usage
		chunk.Usage = &usage
	}
	for _, choice := range resp.Choices {
		content, _ := choice.Message.Text()
		finish := choice.FinishReason
		chunk.Choices = append(chunk.Choices, models.ChunkChoice{
			Index: choice.Index,
			Delta: models.ChunkDelta{
				Role:    choice.Message.Role,
				Content: content,
			},
			FinishReason: &finish,
		})
	}
	return chunk
}

// sseStream decodes an OpenAI event stream into normalized chunks.
// bufio carries unfinished trailing lines across reads, so a chunk
// split mid-line by the transport is never duplicated or dropped.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	done   bool
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReader(body),
		cancel: cancel,
	}
}

// Recv returns the next chunk, or io.EOF after the [DONE] terminator.
func (s *sseStream) Recv() (*models.ChatCompletionChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("error reading stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}

		chunk := &models.ChatCompletionChunk{}
		if err := json.Unmarshal([]byte(data), chunk); err != nil {
			return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		return chunk, nil
	}
}

// Close aborts the upstream fetch.
func (s *sseStream) Close() error {
	s.done = true
	s.cancel()
	return s.body.Close()
}

// singleChunkStream yields exactly one chunk then io.EOF.
type singleChunkStream struct {
	chunk *models.ChatCompletionChunk
}

func newSingleChunkStream(chunk *models.ChatCompletionChunk) *singleChunkStream {
	return &singleChunkStream{chunk: chunk}
}

func (s *singleChunkStream) Recv() (*models.ChatCompletionChunk, error) {
	if s.chunk == nil {
		return nil, io.EOF
	}
	c := s.chunk
	s.chunk = nil
	return c, nil
}

func (s *singleChunkStream) Close() error {
	s.chunk = nil
	return nil
}
