package budget

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"go.uber.org/zap"
)

func newService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, zap.NewNop()), store
}

func pricedModel() *models.Model {
	return &models.Model{
		ID:          "anthropic/claude-sonnet-4",
		Provider:    "anthropic",
		Location:    models.LocationCloud,
		PriceInput:  3.0,
		PriceOutput: 15.0,
	}
}

func freeModel() *models.Model {
	return &models.Model{
		ID:       "lan/llama3.3-70b",
		Provider: "lan",
		Location: models.LocationLAN,
	}
}

func TestCost(t *testing.T) {
	assert.InDelta(t, (1000*3.0+500*15.0)/1e6, Cost(pricedModel(), 1000, 500), 1e-12)
	assert.Zero(t, Cost(freeModel(), 100000, 100000))
}

func TestRecordRequestCost_UpdatesBothPeriods(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordRequestCost(ctx, pricedModel(), 1000, 500))
	require.NoError(t, svc.RecordRequestCost(ctx, pricedModel(), 1000, 500))

	now := time.Now().UTC()
	expected := 2 * (1000*3.0 + 500*15.0) / 1e6

	daily, err := store.Budget.GetSpend(ctx, models.PeriodDaily, models.PeriodKey(models.PeriodDaily, now))
	require.NoError(t, err)
	assert.InDelta(t, expected, daily.TotalSpend, 1e-9)
	assert.EqualValues(t, 2, daily.RequestCount)

	monthly, err := store.Budget.GetSpend(ctx, models.PeriodMonthly, models.PeriodKey(models.PeriodMonthly, now))
	require.NoError(t, err)
	assert.InDelta(t, expected, monthly.TotalSpend, 1e-9)
	assert.EqualValues(t, 2, monthly.RequestCount)
}

func TestRecordRequestCost_ZeroCostIsNoOp(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.RecordRequestCost(ctx, freeModel(), 5000, 5000))

	daily, err := store.Budget.GetSpend(ctx, models.PeriodDaily, models.PeriodKey(models.PeriodDaily, time.Now().UTC()))
	require.NoError(t, err)
	assert.Zero(t, daily.RequestCount, "free requests never create ledger rows")
}

func TestIsExceeded(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	policy := &models.Policy{DailyBudgetUSD: 0.02, MonthlyBudgetUSD: 100}

	exceeded, err := svc.IsExceeded(ctx, policy)
	require.NoError(t, err)
	assert.False(t, exceeded)

	// 1000 in + 1000 out at sonnet prices = $0.018
	require.NoError(t, svc.RecordRequestCost(ctx, pricedModel(), 1000, 1000))
	exceeded, err = svc.IsExceeded(ctx, policy)
	require.NoError(t, err)
	assert.False(t, exceeded)

	// Second request crosses the daily line; the gate is >=.
	require.NoError(t, svc.RecordRequestCost(ctx, pricedModel(), 1000, 1000))
	exceeded, err = svc.IsExceeded(ctx, policy)
	require.NoError(t, err)
	assert.True(t, exceeded)

	t.Run("zero limits mean unlimited", func(t *testing.T) {
		open := &models.Policy{}
		exceeded, err := svc.IsExceeded(ctx, open)
		require.NoError(t, err)
		assert.False(t, exceeded)
	})
}

func TestGetStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	policy := &models.Policy{DailyBudgetUSD: 5, MonthlyBudgetUSD: 50}

	require.NoError(t, svc.RecordRequestCost(ctx, pricedModel(), 2000, 1000))

	status, err := svc.GetStatus(ctx, policy)
	require.NoError(t, err)
	assert.InDelta(t, (2000*3.0+1000*15.0)/1e6, status.DailySpend, 1e-9)
	assert.Equal(t, 5.0, status.DailyLimit)
	assert.Equal(t, status.DailySpend, status.MonthlySpend)
	assert.Equal(t, 50.0, status.MonthlyLimit)
}
