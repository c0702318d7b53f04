package providers

import (
	"github.com/upb/llm-router/models"
)

// Registry resolves the adapter for a model's wire-format tag.
type Registry struct {
	adapters map[models.WireFormat]Adapter
	fallback Adapter
}

// NewRegistry creates a registry. The OpenAI-shaped adapter is the
// default for unrecognized format tags.
func NewRegistry(openaiAdapter, anthropicAdapter Adapter) *Registry {
	return &Registry{
		adapters: map[models.WireFormat]Adapter{
			models.FormatOpenAI:    openaiAdapter,
			models.FormatAnthropic: anthropicAdapter,
		},
		fallback: openaiAdapter,
	}
}

// ForModel returns the adapter serving a model's wire format.
func (r *Registry) ForModel(m *models.Model) Adapter {
	if a, ok := r.adapters[m.Format]; ok {
		return a
	}
	return r.fallback
}
