package anthropic

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

	"github.com/google/uuid"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services/providers"
	"go.uber.org/zap"
)

// modelNames maps internal registry ids to published Anthropic model
// names. Ids not listed pass through as their last path segment.
var modelNames = map[string]string{
	"anthropic/claude-sonnet-4":  "claude-sonnet-4-20250514",
	"anthropic/claude-haiku-3.5": "claude-3-5-haiku-20241022",
	"anthropic/claude-opus-4":    "claude-opus-4-20250514",
}

// Adapter speaks the Anthropic messages wire protocol and translates
// its event stream into the normalized OpenAI chunk shape.
type Adapter struct {
	version string
	client  *http.Client
	logger  *zap.Logger
}

// NewAdapter creates an Anthropic-shaped adapter. version is sent as
// the anthropic-version header.
func NewAdapter(version string, logger *zap.Logger) *Adapter {
	return &Adapter{
		version: version,
		client:  &http.Client{},
		logger:  logger,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop_sequences,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Send issues the request against ${endpoint}/messages. A missing
// credential fails immediately; Anthropic backends are never
// credential-optional.
func (a *Adapter) Send(ctx context.Context, model *models.Model, req *providers.Request) (*providers.StreamResponse, error) {
	key := providers.Credential(model)
	if key == "" {
		return nil, providers.NewProviderError(model.Provider, 0,
			fmt.Sprintf("missing credential: %s is not set", model.APIKeyEnv), nil)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = model.MaxTokens
	}

	system, messages := translateMessages(req.Messages)

	body, err := json.Marshal(wireRequest{
		Model:       backendModelName(model),
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        stopSequences(req.Stop),
	})
	if err != nil {
		return nil, providers.NewProviderError(model.Provider, 0, "failed to marshal request", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(model.Endpoint, "/")+"/messages", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, providers.NewProviderError(model.Provider, 0, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", a.version)

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
			Stream: newEventStream(resp.Body, cancel, model.ID),
			Model:  model,
		}, nil
	}

	defer resp.Body.Close()
	defer cancel()

	var message struct {
		ID      string `json:"id"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string    `json:"stop_reason"`
		Usage      wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return nil, providers.NewProviderError(model.Provider, 0, "failed to decode response", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	finish := mapStopReason(message.StopReason)
	chunk := &models.ChatCompletionChunk{
		ID:      message.ID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model.ID,
		Choices: []models.ChunkChoice{{
			Delta:        models.ChunkDelta{Role: "assistant", Content: text.String()},
			FinishReason: &finish,
		}},
	}
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		chunk.Usage = &models.ChatUsage{
			PromptTokens:     message.Usage.InputTokens,
			CompletionTokens: message.Usage.OutputTokens,
			TotalTokens:      message.Usage.InputTokens + message.Usage.OutputTokens,
		}
	}

	return &providers.StreamResponse{
		Stream: newSingleChunkStream(chunk),
		Model:  model,
	}, nil
}

// translateMessages splits out system content and coerces roles to the
// Anthropic user/assistant alternation: all system contents join into
// the top-level system field, assistant stays, every other role
// becomes user.
func translateMessages(in []models.ChatMessage) (string, []wireMessage) {
	var system []string
	out := make([]wireMessage, 0, len(in))
	for _, msg := range in {
		text, _ := msg.Text()
		if msg.Role == "system" {
			system = append(system, text)
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		out = append(out, wireMessage{Role: role, Content: text})
	}
	return strings.Join(system, "\n"), out
}

func backendModelName(m *models.Model) string {
	if name, ok := modelNames[m.ID]; ok {
		return name
	}
	return m.BackendName()
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// mapStopReason translates Anthropic stop reasons to OpenAI finish
// reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return "stop"
	}
}

// eventStream translates the Anthropic SSE event stream into
// normalized chunks. The payload's own type field discriminates
// events, so event: lines are not tracked separately. A bufio reader
// carries partial lines across reads.
type eventStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	cancel  context.CancelFunc
	modelID string
	id      string
	done    bool
}

func newEventStream(body io.ReadCloser, cancel context.CancelFunc, modelID string) *eventStream {
	return &eventStream{
		body:    body,
		reader:  bufio.NewReader(body),
		cancel:  cancel,
		modelID: modelID,
		id:      "chatcmpl-" + uuid.NewString(),
	}
}

type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		ID    string    `json:"id"`
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage wireUsage `json:"usage"`
}

// Recv returns the next normalized chunk. message_stop ends the stream
// with io.EOF; event types other than message_start,
// content_block_delta, and message_delta are skipped.
func (s *eventStream) Recv() (*models.ChatCompletionChunk, error) {
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
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
			return nil, fmt.Errorf("failed to parse stream event: %w", err)
		}

		switch event.Type {
		case "message_start":
			if event.Message.ID != "" {
				s.id = event.Message.ID
			}
			return s.chunk(models.ChunkChoice{
				Delta: models.ChunkDelta{Role: "assistant"},
			}, nil), nil

		case "content_block_delta":
			if event.Delta.Text == "" {
				continue
			}
			return s.chunk(models.ChunkChoice{
				Delta: models.ChunkDelta{Content: event.Delta.Text},
			}, nil), nil

		case "message_delta":
			finish := mapStopReason(event.Delta.StopReason)
			var usage *models.ChatUsage
			if event.Usage.InputTokens > 0 || event.Usage.OutputTokens > 0 {
				usage = &models.ChatUsage{
					PromptTokens:     event.Usage.InputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
				}
			}
			return s.chunk(models.ChunkChoice{
				Delta:        models.ChunkDelta{},
				FinishReason: &finish,
			}, usage), nil

		case "message_stop":
			s.done = true
			return nil, io.EOF
		}
		// ping, content_block_start, content_block_stop: skipped
	}
}

func (s *eventStream) chunk(choice models.ChunkChoice, usage *models.ChatUsage) *models.ChatCompletionChunk {
	return &models.ChatCompletionChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   s.modelID,
		Choices: []models.ChunkChoice{choice},
		Usage:   usage,
	}
}

// Close aborts the upstream fetch.
func (s *eventStream) Close() error {
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
