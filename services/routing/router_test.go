package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/budget"
	"github.com/upb/llm-router/services/classifier"
	"github.com/upb/llm-router/services/rules"
	"github.com/upb/llm-router/services/selector"
	"go.uber.org/zap"
)

// stubClassifier serves a fixed classification over HTTP and records
// whether it was ever called.
func stubClassifier(t *testing.T, result string, called *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": result}},
			},
		})
	}))
}

func newRouter(t *testing.T, classifierURL string) (*Router, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	budgetSvc := budget.NewService(store, logger)
	cls := classifier.New(classifier.Options{
		Endpoint: classifierURL, ModelName: "stub", Timeout: 2 * time.Second,
	}, logger)

	return NewRouter(store, rules.NewMatcher(store, logger), cls,
		selector.New(store, budgetSvc, logger), logger), store
}

func TestExtractMeta(t *testing.T) {
	t.Run("last user message wins", func(t *testing.T) {
		req := &models.ChatCompletionRequest{Messages: []models.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "first question"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "second question"},
		}}
		meta := ExtractMeta(req, "cron", "api")
		assert.Equal(t, "second question", meta.TextPreview)
		assert.Equal(t, "cron", meta.Source)
		assert.Equal(t, "api", meta.Channel)
		assert.False(t, meta.HasMedia)
	})

	t.Run("token floor of 100", func(t *testing.T) {
		req := &models.ChatCompletionRequest{Messages: []models.ChatMessage{{Role: "user", Content: "hi"}}}
		assert.Equal(t, 100, ExtractMeta(req, "", "").EstimatedTokens)
	})

	t.Run("chars over four rounded up", func(t *testing.T) {
		long := make([]byte, 2002)
		for i := range long {
			long[i] = 'x'
		}
		req := &models.ChatCompletionRequest{Messages: []models.ChatMessage{{Role: "user", Content: string(long)}}}
		assert.Equal(t, 501, ExtractMeta(req, "", "").EstimatedTokens)
	})

	t.Run("structured content sets has_media and empties preview", func(t *testing.T) {
		req := &models.ChatCompletionRequest{Messages: []models.ChatMessage{
			{Role: "user", Content: []any{map[string]any{"type": "image_url"}}},
		}}
		meta := ExtractMeta(req, "", "")
		assert.True(t, meta.HasMedia)
		assert.Empty(t, meta.TextPreview)
	})
}

func TestRoute_Tier1ShortCircuit(t *testing.T) {
	called := false
	srv := stubClassifier(t, `{}`, &called)
	defer srv.Close()
	router, _ := newRouter(t, srv.URL)

	decision, err := router.Route(context.Background(), &rules.RequestMeta{
		Source: "heartbeat", TextPreview: "ping", EstimatedTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, decision.Tier)
	require.NotNil(t, decision.RuleID)
	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "local/qwen3-8b", decision.Candidates[0].Model.ID)
	assert.Equal(t, 1, decision.Candidates[0].Rank)
	assert.False(t, called, "tier-1 matches must not invoke the classifier")
}

func TestRoute_Tier1Reject(t *testing.T) {
	srv := stubClassifier(t, `{}`, nil)
	defer srv.Close()
	router, store := newRouter(t, srv.URL)

	_, err := store.DB.Exec(
		`INSERT INTO routing_rules (name, priority, source, action, enabled) VALUES ('block', 1, 'webhook', 'reject', 1)`)
	require.NoError(t, err)

	_, err = router.Route(context.Background(), &rules.RequestMeta{Source: "webhook", EstimatedTokens: 100})
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRoute_MissingTargetFallsThrough(t *testing.T) {
	called := false
	srv := stubClassifier(t, `{"complexity":"simple","task_type":"conversation","estimated_tokens":100,"sensitive":false}`, &called)
	defer srv.Close()
	router, store := newRouter(t, srv.URL)

	_, err := store.DB.Exec(
		`UPDATE routing_rules SET target_model_id = 'ghost/none' WHERE name = 'heartbeat'`)
	require.NoError(t, err)

	decision, err := router.Route(context.Background(), &rules.RequestMeta{
		Source: "heartbeat", TextPreview: "ping", EstimatedTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, decision.Tier, "a rule naming a missing model silently falls through")
	assert.True(t, called)
	require.NotNil(t, decision.RuleID, "the matched rule id is still surfaced")
}

func TestRoute_Tier2ClassifyAndSelect(t *testing.T) {
	srv := stubClassifier(t, `{"complexity":"complex","task_type":"coding","estimated_tokens":2000,"sensitive":false}`, nil)
	defer srv.Close()
	router, _ := newRouter(t, srv.URL)

	decision, err := router.Route(context.Background(), &rules.RequestMeta{
		TextPreview: "Write a Python web server", EstimatedTokens: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, decision.Tier)
	require.NotNil(t, decision.Classification)
	assert.Equal(t, "coding", decision.Classification.TaskType)
	require.NotEmpty(t, decision.Candidates)

	first := decision.Candidates[0].Model
	assert.Equal(t, models.LocationLAN, first.Location)
	assert.GreaterOrEqual(t, first.QualityScore, 65)
}

func TestRoute_DegradedClassifierUsesDefaults(t *testing.T) {
	router, _ := newRouter(t, "http://127.0.0.1:1")

	decision, err := router.Route(context.Background(), &rules.RequestMeta{
		TextPreview: "Tell me about databases", EstimatedTokens: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, decision.Tier)
	assert.Equal(t, models.ComplexityMedium, decision.Classification.Complexity)
	assert.Equal(t, models.TaskConversation, decision.Classification.TaskType)
}

func TestRoute_Tier3Fallback(t *testing.T) {
	srv := stubClassifier(t, `{"complexity":"reasoning","task_type":"reasoning","estimated_tokens":4000,"sensitive":true}`, nil)
	defer srv.Close()
	router, store := newRouter(t, srv.URL)

	// Sensitive excludes cloud; sink every non-cloud model so the
	// strict and soft sets are both empty.
	_, err := store.DB.Exec(`UPDATE models SET healthy = 0 WHERE location != 'cloud'`)
	require.NoError(t, err)

	decision, err := router.Route(context.Background(), &rules.RequestMeta{
		TextPreview: "my medical records say", EstimatedTokens: 200,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, decision.Tier)
	require.Len(t, decision.Candidates, 1)
	assert.Equal(t, "anthropic/claude-sonnet-4", decision.Candidates[0].Model.ID,
		"tier-3 bypasses the privacy gate")
}

func TestRoute_NoModelAvailable(t *testing.T) {
	srv := stubClassifier(t, `{}`, nil)
	defer srv.Close()
	router, store := newRouter(t, srv.URL)

	_, err := store.DB.Exec(`UPDATE models SET healthy = 0`)
	require.NoError(t, err)
	_, err = store.DB.Exec(`UPDATE routing_policy SET fallback_model_id = NULL`)
	require.NoError(t, err)

	_, err = router.Route(context.Background(), &rules.RequestMeta{
		TextPreview: "anything", EstimatedTokens: 200,
	})
	assert.ErrorIs(t, err, ErrNoModelAvailable)
}
