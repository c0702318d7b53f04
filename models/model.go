package models

import "time"

// Location classifies where a model endpoint is deployed relative to
// the gateway.
type Location string

const (
	LocationColocated Location = "co-located"
	LocationLAN       Location = "lan"
	LocationCloud     Location = "cloud"
)

// WireFormat identifies the wire protocol a backend speaks.
type WireFormat string

const (
	FormatOpenAI    WireFormat = "openai"
	FormatAnthropic WireFormat = "anthropic"
)

// Capability names the closed set of task capabilities a model can be
// tagged with in the capability index.
const (
	CapCoding         = "coding"
	CapMath           = "math"
	CapComplexLogic   = "complex_logic"
	CapToolCalling    = "tool_calling"
	CapSummarization  = "summarization"
	CapExtraction     = "extraction"
	CapSimpleQA       = "simple_qa"
	CapConversation   = "conversation"
	CapClassification = "classification"
	CapAnalysis       = "analysis"
	CapWriting        = "writing"
	CapMultiStep      = "multi_step"
	CapReasoning      = "reasoning"
)

// Capabilities returns the closed capability set.
func Capabilities() []string {
	return []string{
		CapCoding, CapMath, CapComplexLogic, CapToolCalling,
		CapSummarization, CapExtraction, CapSimpleQA, CapConversation,
		CapClassification, CapAnalysis, CapWriting, CapMultiStep,
		CapReasoning,
	}
}

// Model is a registry row describing one backend model. Identity is
// "{provider_prefix}/{name}", e.g. "anthropic/claude-sonnet".
type Model struct {
	ID            string
	DisplayName   string
	Provider      string
	Location      Location
	Endpoint      string
	Format        WireFormat
	APIKeyEnv     string // name of the env var carrying the credential, empty if none
	QualityScore  int    // 0..100, comparable only within the fleet
	ContextWindow int
	MaxTokens     int

	SupportsTools     bool
	SupportsVision    bool
	SupportsReasoning bool

	// Prices are USD per million tokens.
	PriceInput      float64
	PriceOutput     float64
	PriceCacheRead  float64
	PriceCacheWrite float64

	LatencyP50Ms int
	LatencyP99Ms int
	Hardware     string

	Enabled         bool
	Healthy         bool
	LastHealthCheck *time.Time
	LastUsed        *time.Time
}

// IsFree reports whether the model costs nothing to invoke.
func (m *Model) IsFree() bool {
	return m.PriceInput <= 0 && m.PriceOutput <= 0
}

// BackendName is the model name sent on the wire: the last path
// segment of the internal id when a provider prefix is present.
func (m *Model) BackendName() string {
	for i := len(m.ID) - 1; i >= 0; i-- {
		if m.ID[i] == '/' {
			return m.ID[i+1:]
		}
	}
	return m.ID
}
