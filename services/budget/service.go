package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"go.uber.org/zap"
)

// Service is the spend ledger. It accumulates per-day and per-month
// cost rows and answers the budget gate used during candidate
// selection.
type Service struct {
	store  *sqlite.Store
	logger *zap.Logger
}

// NewService creates a new budget ledger service.
func NewService(store *sqlite.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordRequestCost computes the cost of one completed request at the
// serving model's prices and accumulates it onto the daily and monthly
// ledger rows. Zero-priced requests are a no-op so co-located and LAN
// traffic never creates ledger rows.
func (s *Service) RecordRequestCost(ctx context.Context, model *models.Model, inputTokens, outputTokens int) error {
	cost := Cost(model, inputTokens, outputTokens)
	if cost <= 0 {
		return nil
	}

	now := time.Now().UTC()
	if err := s.store.Budget.AddSpend(ctx, models.PeriodDaily, models.PeriodKey(models.PeriodDaily, now), cost, inputTokens, outputTokens); err != nil {
		return fmt.Errorf("failed to record daily spend: %w", err)
	}
	if err := s.store.Budget.AddSpend(ctx, models.PeriodMonthly, models.PeriodKey(models.PeriodMonthly, now), cost, inputTokens, outputTokens); err != nil {
		return fmt.Errorf("failed to record monthly spend: %w", err)
	}

	s.logger.Debug("request cost recorded",
		zap.String("model", model.ID),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Float64("cost_usd", cost))
	return nil
}

// Cost computes the USD cost of a completion at a model's per-million
// token prices.
func Cost(model *models.Model, inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*model.PriceInput + float64(outputTokens)*model.PriceOutput) / 1_000_000
}

// IsExceeded reports whether either the daily or monthly accumulated
// spend meets or exceeds the corresponding policy limit. A zero limit
// means unlimited.
func (s *Service) IsExceeded(ctx context.Context, policy *models.Policy) (bool, error) {
	status, err := s.GetStatus(ctx, policy)
	if err != nil {
		return false, err
	}
	if status.DailyLimit > 0 && status.DailySpend >= status.DailyLimit {
		return true, nil
	}
	if status.MonthlyLimit > 0 && status.MonthlySpend >= status.MonthlyLimit {
		return true, nil
	}
	return false, nil
}

// GetStatus returns current spends alongside the policy limits.
func (s *Service) GetStatus(ctx context.Context, policy *models.Policy) (*models.BudgetStatus, error) {
	now := time.Now().UTC()

	daily, err := s.store.Budget.GetSpend(ctx, models.PeriodDaily, models.PeriodKey(models.PeriodDaily, now))
	if err != nil {
		return nil, fmt.Errorf("failed to read daily spend: %w", err)
	}
	monthly, err := s.store.Budget.GetSpend(ctx, models.PeriodMonthly, models.PeriodKey(models.PeriodMonthly, now))
	if err != nil {
		return nil, fmt.Errorf("failed to read monthly spend: %w", err)
	}

	return &models.BudgetStatus{
		DailySpend:   daily.TotalSpend,
		DailyLimit:   policy.DailyBudgetUSD,
		MonthlySpend: monthly.TotalSpend,
		MonthlyLimit: policy.MonthlyBudgetUSD,
	}, nil
}
