package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/budget"
	"github.com/upb/llm-router/services/dispatch"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/services/rules"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// sourceWhitelist is the closed set of accepted X-Router-Source tags;
// anything else is stripped before rule matching.
var sourceWhitelist = map[string]bool{
	"heartbeat": true,
	"cron":      true,
	"webhook":   true,
}

// channelWhitelist constrains X-Router-Channel the same way.
var channelWhitelist = map[string]bool{
	"api":      true,
	"cli":      true,
	"web":      true,
	"discord":  true,
	"telegram": true,
	"slack":    true,
}

// previewStored caps how much request text lands in the request log.
const previewStored = 200

// ChatHandler glues the routing orchestrator and the dispatcher to the
// OpenAI-compatible completion surface.
type ChatHandler struct {
	router     *routing.Router
	dispatcher *dispatch.Dispatcher
	store      *sqlite.Store
	budget     *budget.Service
	logger     *zap.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(router *routing.Router, dispatcher *dispatch.Dispatcher, store *sqlite.Store, budgetSvc *budget.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		router:     router,
		dispatcher: dispatcher,
		store:      store,
		budget:     budgetSvc,
		logger:     logger,
	}
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *ChatHandler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var chatReq models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		_ = utils.WriteBadRequest(w, "invalid request body")
		return
	}

	if msg, ok := validateChatRequest(&chatReq); !ok {
		_ = utils.WriteBadRequest(w, msg)
		return
	}

	source := whitelisted(r.Header.Get("X-Router-Source"), sourceWhitelist)
	channel := whitelisted(r.Header.Get("X-Router-Channel"), channelWhitelist)

	meta := routing.ExtractMeta(&chatReq, source, channel)

	decision, err := h.router.Route(ctx, meta)
	if err != nil {
		if errors.Is(err, routing.ErrNoModelAvailable) || errors.Is(err, routing.ErrRejected) {
			_ = utils.WriteServiceUnavailable(w, "no model available")
			return
		}
		h.logger.Error("routing failed", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	w.Header().Set("X-Router-Model", decision.Candidates[0].Model.ID)
	w.Header().Set("X-Router-Tier", strconv.Itoa(decision.Tier))
	if decision.Classification != nil {
		if compact, err := json.Marshal(decision.Classification); err == nil {
			w.Header().Set("X-Router-Classification", string(compact))
		}
	}

	// The backend leg always streams; non-streaming clients get the
	// accumulated result. Zero backend chunks is then observable as a
	// 502 on the buffered path.
	backendReq := &providers.Request{
		Messages:    chatReq.Messages,
		Stream:      true,
		Temperature: chatReq.Temperature,
		TopP:        chatReq.TopP,
		Stop:        chatReq.Stop,
	}
	if chatReq.MaxTokens != nil {
		backendReq.MaxTokens = *chatReq.MaxTokens
	}

	resp, err := h.dispatcher.Dispatch(ctx, decision.Candidates, backendReq)
	if err != nil {
		h.logger.Warn("dispatch exhausted all candidates", zap.Error(err))
		_ = utils.WriteServiceUnavailable(w, "no model available")
		return
	}
	defer resp.Abort()

	if chatReq.Streaming() {
		h.streamToClient(w, r, resp, decision, meta, start)
		return
	}
	h.respondBuffered(w, r, resp, decision, meta, start)
}

// streamToClient relays the normalized chunk stream as SSE, then
// performs the one-shot accounting at stream end.
func (h *ChatHandler) streamToClient(w http.ResponseWriter, r *http.Request, resp *providers.StreamResponse, decision *routing.Decision, meta *rules.RequestMeta, start time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var usage *models.ChatUsage
	success := true
	errText := ""

	for {
		chunk, err := resp.Stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// client disconnects surface here as context errors; the
			// deferred Abort has already been armed by the caller
			if r.Context().Err() == nil {
				payload, _ := json.Marshal(map[string]any{"error": err.Error()})
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flush()
			}
			success = false
			errText = err.Error()
			break
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		payload, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flush()
	}

	if success {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flush()
	}

	h.account(r, resp.Model, decision, meta, usage, success, errText, start)
}

// respondBuffered accumulates the whole stream and answers with a
// single OpenAI completion object. Zero backend chunks is a 502.
func (h *ChatHandler) respondBuffered(w http.ResponseWriter, r *http.Request, resp *providers.StreamResponse, decision *routing.Decision, meta *rules.RequestMeta, start time.Time) {
	var content strings.Builder
	var usage *models.ChatUsage
	finishReason := "stop"
	chunkCount := 0
	id := "chatcmpl-" + uuid.NewString()

	for {
		chunk, err := resp.Stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.Warn("backend stream failed", zap.Error(err))
			_ = utils.WriteBadGateway(w, "backend stream failed")
			h.account(r, resp.Model, decision, meta, usage, false, err.Error(), start)
			return
		}

		chunkCount++
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) > 0 {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason != "" {
				finishReason = *chunk.Choices[0].FinishReason
			}
		}
	}

	if chunkCount == 0 {
		_ = utils.WriteBadGateway(w, "backend returned no response")
		h.account(r, resp.Model, decision, meta, usage, false, "empty backend response", start)
		return
	}

	out := models.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model.ID,
		Choices: []models.ChatChoice{{
			Index:        0,
			Message:      models.ChatMessage{Role: "assistant", Content: content.String()},
			FinishReason: finishReason,
		}},
	}
	if usage != nil {
		out.Usage = *usage
	}

	_ = utils.WriteJSON(w, http.StatusOK, out)
	h.account(r, resp.Model, decision, meta, usage, true, "", start)
}

// account writes the single request-log row and, for priced models,
// updates the spend ledger. Both writes are non-fatal: failures are
// logged and the response is unaffected. Cost always uses the actual
// serving model, not the first-ranked candidate.
func (h *ChatHandler) account(r *http.Request, served *models.Model, decision *routing.Decision, meta *rules.RequestMeta, usage *models.ChatUsage, success bool, errText string, start time.Time) {
	// accounting outlives the client connection
	ctx := r.Context()
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}

	inTokens, outTokens := 0, 0
	if usage != nil {
		inTokens = usage.PromptTokens
		outTokens = usage.CompletionTokens
	}

	if success && (inTokens > 0 || outTokens > 0) {
		if err := h.budget.RecordRequestCost(ctx, served, inTokens, outTokens); err != nil {
			h.logger.Error("failed to record request cost", zap.Error(err))
		}
	}

	preview := meta.TextPreview
	if len(preview) > previewStored {
		preview = preview[:previewStored]
	}

	logRow := &models.RequestLog{
		ID:             "req-" + uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Source:         meta.Source,
		Channel:        meta.Channel,
		RoutingTier:    decision.Tier,
		RuleID:         decision.RuleID,
		SelectedModel:  served.ID,
		InputTokens:    inTokens,
		OutputTokens:   outTokens,
		CostUSD:        budget.Cost(served, inTokens, outTokens),
		LatencyMs:      time.Since(start).Milliseconds(),
		Success:        success,
		Error:          errText,
		RequestPreview: preview,
	}
	if decision.Classification != nil {
		logRow.Complexity = decision.Classification.Complexity
		logRow.TaskType = decision.Classification.TaskType
	}

	if err := h.store.RequestLogs.Insert(ctx, logRow); err != nil {
		h.logger.Error("failed to insert request log", zap.Error(err))
	}
}

// validateChatRequest enforces the syntactic contract: messages
// present and non-empty, roles from the closed set, content string or
// null, numeric overrides in range.
func validateChatRequest(req *models.ChatCompletionRequest) (string, bool) {
	if req.Messages == nil || len(req.Messages) == 0 {
		return "messages is required and must be a non-empty array", false
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Sprintf("messages[%d].role must be one of: system, user, assistant", i), false
		}
		if msg.Content != nil {
			if _, ok := msg.Content.(string); !ok {
				return fmt.Sprintf("messages[%d].content must be a string or null", i), false
			}
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return err.Error(), false
	}
	return "", true
}

func whitelisted(value string, allowed map[string]bool) string {
	if allowed[value] {
		return value
	}
	return ""
}
