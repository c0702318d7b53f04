package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/upb/llm-router/models"
)

// Request is the backend-agnostic completion request handed to an
// adapter. Only the fields listed here are forwarded to backends.
type Request struct {
	Messages    []models.ChatMessage
	Stream      bool
	MaxTokens   int // 0 = use the model's default
	Temperature *float64
	TopP        *float64
	Stop        any // string or []string
}

// Stream is a one-shot, pull-driven sequence of normalized chunks.
// Recv returns io.EOF when the backend stream is complete; Close
// aborts the upstream fetch and is safe to call at any point.
type Stream interface {
	Recv() (*models.ChatCompletionChunk, error)
	Close() error
}

// StreamResponse couples a normalized chunk stream with the record of
// the model actually serving it. Dispatch retries can make this differ
// from the first-ranked candidate; cost accounting always uses the
// record carried here.
type StreamResponse struct {
	Stream Stream
	Model  *models.Model
}

// Abort cancels the upstream fetch.
func (r *StreamResponse) Abort() {
	if r.Stream != nil {
		_ = r.Stream.Close()
	}
}

// Adapter translates requests to one wire protocol and normalizes the
// response stream. Adapters are stateless; all model specifics come
// from the registry record.
type Adapter interface {
	Send(ctx context.Context, model *models.Model, req *Request) (*StreamResponse, error)
}

// ProviderError is a backend failure carrying the HTTP status when one
// was received. The dispatcher's failure classification keys off
// StatusCode and the message text.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider string, status int, message string, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: status, Message: message, Err: err}
}

// Credential resolves a model's API key from the env var named on its
// registry row. Empty when the model carries no credential reference
// or the variable is unset.
func Credential(m *models.Model) string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}
