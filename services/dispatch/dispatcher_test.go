package dispatch

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/health"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/selector"
	"go.uber.org/zap"
)

// fakeAdapter scripts per-model outcomes: an error to fail with, or a
// successful empty stream.
type fakeAdapter struct {
	failures map[string]error
	sent     []string
}

func (f *fakeAdapter) Send(ctx context.Context, model *models.Model, req *providers.Request) (*providers.StreamResponse, error) {
	f.sent = append(f.sent, model.ID)
	if err, ok := f.failures[model.ID]; ok {
		return nil, err
	}
	return &providers.StreamResponse{Stream: emptyStream{}, Model: model}, nil
}

type emptyStream struct{}

func (emptyStream) Recv() (*models.ChatCompletionChunk, error) { return nil, io.EOF }
func (emptyStream) Close() error                               { return nil }

func newDispatcher(t *testing.T, fake *fakeAdapter) (*Dispatcher, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	registry := providers.NewRegistry(fake, fake)
	return NewDispatcher(store, registry, health.NewService(store, logger), logger), store
}

func candidate(t *testing.T, store *sqlite.Store, id string, rank int) selector.Candidate {
	t.Helper()
	m, err := store.Models.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, m)
	return selector.Candidate{Model: m, Rank: rank}
}

func TestDispatch_FirstCandidateSucceeds(t *testing.T) {
	fake := &fakeAdapter{}
	d, store := newDispatcher(t, fake)

	resp, err := d.Dispatch(context.Background(), []selector.Candidate{
		candidate(t, store, "local/qwen3-8b", 1),
		candidate(t, store, "lan/llama3.3-70b", 2),
	}, &providers.Request{Stream: true})
	require.NoError(t, err)

	assert.Equal(t, "local/qwen3-8b", resp.Model.ID)
	assert.Equal(t, []string{"local/qwen3-8b"}, fake.sent, "later candidates are untouched")

	m, err := store.Models.GetByID(context.Background(), "local/qwen3-8b")
	require.NoError(t, err)
	assert.NotNil(t, m.LastUsed)
}

func TestDispatch_ConnectionRefusedEscalates(t *testing.T) {
	fake := &fakeAdapter{failures: map[string]error{
		"local/qwen3-8b": syscall.ECONNREFUSED,
	}}
	d, store := newDispatcher(t, fake)

	resp, err := d.Dispatch(context.Background(), []selector.Candidate{
		candidate(t, store, "local/qwen3-8b", 1),
		candidate(t, store, "lan/llama3.3-70b", 2),
	}, &providers.Request{Stream: true})
	require.NoError(t, err)

	assert.Equal(t, "lan/llama3.3-70b", resp.Model.ID,
		"the stream names the model that actually served")
	assert.Equal(t, []string{"local/qwen3-8b", "lan/llama3.3-70b"}, fake.sent)

	m, err := store.Models.GetByID(context.Background(), "local/qwen3-8b")
	require.NoError(t, err)
	assert.False(t, m.Healthy, "connection failures flip the model unhealthy directly")
}

func TestDispatch_RateLimitMarksProvider(t *testing.T) {
	fake := &fakeAdapter{failures: map[string]error{
		"anthropic/claude-sonnet-4": providers.NewProviderError("anthropic", 429, "rate limit exceeded", nil),
	}}
	d, store := newDispatcher(t, fake)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, []selector.Candidate{
		candidate(t, store, "anthropic/claude-sonnet-4", 1),
	}, &providers.Request{Stream: true})
	assert.ErrorIs(t, err, ErrExhausted)

	limited, err := store.RateLimits.ListLimited(ctx)
	require.NoError(t, err)
	assert.True(t, limited["anthropic"])

	retryAfter, err := store.RateLimits.RetryAfter(ctx, "anthropic")
	require.NoError(t, err)
	require.NotNil(t, retryAfter)
	assert.WithinDuration(t, time.Now().Add(rateLimitWindow), *retryAfter, 5*time.Second)

	m, err := store.Models.GetByID(ctx, "anthropic/claude-sonnet-4")
	require.NoError(t, err)
	assert.True(t, m.Healthy, "rate limits are provider-scoped, not health events")
}

func TestDispatch_ServerErrorCountsTowardThreshold(t *testing.T) {
	fake := &fakeAdapter{failures: map[string]error{
		"lan/llama3.3-70b": providers.NewProviderError("lan", 502, "bad gateway", nil),
	}}
	d, store := newDispatcher(t, fake)
	ctx := context.Background()

	cands := []selector.Candidate{candidate(t, store, "lan/llama3.3-70b", 1)}

	for i := 1; i <= models.UnhealthyThreshold; i++ {
		_, err := d.Dispatch(ctx, cands, &providers.Request{Stream: true})
		assert.ErrorIs(t, err, ErrExhausted)

		m, err := store.Models.GetByID(ctx, "lan/llama3.3-70b")
		require.NoError(t, err)
		if i < models.UnhealthyThreshold {
			assert.True(t, m.Healthy, "below the threshold the flag is unchanged")
		} else {
			assert.False(t, m.Healthy, "the third consecutive 5xx flips the flag")
		}
	}

	count, err := store.Health.LastConsecutiveFailures(ctx, "lan/llama3.3-70b")
	require.NoError(t, err)
	assert.Equal(t, models.UnhealthyThreshold, count)
}

func TestDispatch_UnclassifiedErrorLeavesStateAlone(t *testing.T) {
	fake := &fakeAdapter{failures: map[string]error{
		"local/qwen3-8b": errors.New("malformed payload"),
	}}
	d, store := newDispatcher(t, fake)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, []selector.Candidate{
		candidate(t, store, "local/qwen3-8b", 1),
	}, &providers.Request{Stream: true})
	assert.ErrorIs(t, err, ErrExhausted)

	m, err := store.Models.GetByID(ctx, "local/qwen3-8b")
	require.NoError(t, err)
	assert.True(t, m.Healthy)

	limited, err := store.RateLimits.ListLimited(ctx)
	require.NoError(t, err)
	assert.Empty(t, limited)
}

func TestDispatch_EmptyCandidateList(t *testing.T) {
	d, _ := newDispatcher(t, &fakeAdapter{})

	_, err := d.Dispatch(context.Background(), nil, &providers.Request{})
	assert.ErrorIs(t, err, ErrExhausted)
}
