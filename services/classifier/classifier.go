package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// systemPrompt instructs the classifier model to emit bare JSON.
const systemPrompt = `You are a request classifier. Respond with ONLY a JSON object, no prose, of the form:
{"complexity":"simple|medium|complex|reasoning","task_type":"coding|math|reasoning|tool_use|summarization|extraction|simple_qa|conversation|classification|analysis|writing|multi_step","estimated_tokens":<int>,"sensitive":<bool>}
Set sensitive=true when the request contains personal, medical, financial, or confidential business data.`

const userPrefix = "Classify this request:\n\n"

// previewLimit caps how much request text is sent to the classifier.
const previewLimit = 500

// Result is the tier-2 classification of a request. Every field is
// guaranteed to be within its closed set; out-of-range model output is
// clamped to the defaults.
type Result struct {
	Complexity      string `json:"complexity"`
	TaskType        string `json:"task_type"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Sensitive       bool   `json:"sensitive"`
}

// DefaultResult is the classification substituted whenever the
// classifier call degrades (network error, bad status, empty or
// unparseable output).
func DefaultResult() *Result {
	return &Result{
		Complexity:      models.ComplexityMedium,
		TaskType:        models.TaskConversation,
		EstimatedTokens: 1000,
		Sensitive:       false,
	}
}

// Options configure one classifier instance.
type Options struct {
	Endpoint  string
	ModelName string
	Timeout   time.Duration
}

// Classifier calls a small local model to classify request text. It
// never returns an error to callers: every failure mode degrades to
// DefaultResult so routing always proceeds.
type Classifier struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// New creates a classifier. A zero timeout defaults to 5s.
func New(opts Options, logger *zap.Logger) *Classifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Classifier{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify classifies up to previewLimit characters of text.
func (c *Classifier) Classify(ctx context.Context, text string) *Result {
	if len(text) > previewLimit {
		text = text[:previewLimit]
	}

	body, err := json.Marshal(chatRequest{
		Model: c.opts.ModelName,
		Messages: []models.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrefix + text},
		},
		Stream:      false,
		Temperature: 0,
	})
	if err != nil {
		return c.degrade("marshal", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.Endpoint, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return c.degrade("request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return c.degrade("call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.degrade("status", fmt.Errorf("classifier returned %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.degrade("decode", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return c.degrade("empty", fmt.Errorf("classifier returned no content"))
	}

	return parseResult(parsed.Choices[0].Message.Content, c.logger)
}

func (c *Classifier) degrade(stage string, err error) *Result {
	c.logger.Warn("classifier degraded, using defaults",
		zap.String("stage", stage), zap.Error(err))
	return DefaultResult()
}

// parseResult strips optional code fencing, parses the JSON payload,
// and clamps every field to its whitelist.
func parseResult(content string, logger *zap.Logger) *Result {
	content = stripFences(content)

	var raw Result
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		logger.Warn("classifier output unparseable, using defaults", zap.Error(err))
		return DefaultResult()
	}

	out := DefaultResult()
	switch raw.Complexity {
	case models.ComplexitySimple, models.ComplexityMedium, models.ComplexityComplex, models.ComplexityReasoning:
		out.Complexity = raw.Complexity
	}
	for _, t := range models.TaskTypes() {
		if raw.TaskType == t {
			out.TaskType = raw.TaskType
			break
		}
	}
	if raw.EstimatedTokens > 0 {
		out.EstimatedTokens = raw.EstimatedTokens
	}
	out.Sensitive = raw.Sensitive
	return out
}

// stripFences removes an optional leading/trailing triple-backtick
// fence (with or without a language tag) around the payload.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.HasPrefix(s, "{") {
		// drop a language tag like "json"
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
