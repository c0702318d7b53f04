package models

// OpenAI-compatible chat completion wire types. These are shared by
// the HTTP surface, the backend adapters, and the classifier client.

// ChatMessage is a single conversation message. Content is kept as a
// decoded JSON value because clients may send null or structured
// (multi-part) content; Text reports the string form when present.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Text returns the message content when it is a plain string.
func (m ChatMessage) Text() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// ChatCompletionRequest is the body accepted on POST /v1/chat/completions.
// Numeric override ranges are validated by the handler; unknown fields
// are dropped rather than forwarded.
type ChatCompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Stream      *bool         `json:"stream,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty" validate:"omitempty,gte=1"`
	Temperature *float64      `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64      `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	Stop        any           `json:"stop,omitempty"` // string or []string
}

// Streaming reports the effective stream flag (default true).
func (r *ChatCompletionRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// ChatUsage carries token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkDelta is the incremental payload of one streamed choice.
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice entry of a streamed chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is the normalized streaming element every
// adapter emits, mirroring the OpenAI chunk shape.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *ChatUsage    `json:"usage,omitempty"`
}

// ChatChoice is one choice of a non-streamed completion response.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the non-streamed completion envelope.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ErrorType values for the OpenAI error envelope.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeServer         = "server_error"
)

// APIError is the OpenAI-shaped error envelope body.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail carries the message and type of an API error.
type APIErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
