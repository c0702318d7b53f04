package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// BudgetRepository provides access to the period-keyed spend ledger.
type BudgetRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewBudgetRepository creates a new budget repository.
func NewBudgetRepository(db *DB, logger *zap.Logger) *BudgetRepository {
	return &BudgetRepository{db: db, logger: logger}
}

// AddSpend accumulates cost and token counts onto one period row. The
// upsert is a single statement so concurrent requests never lose an
// increment.
func (r *BudgetRepository) AddSpend(ctx context.Context, period models.BudgetPeriod, key string, cost float64, inputTokens, outputTokens int) error {
	query := `
		INSERT INTO budget_tracking (period_type, period_key, total_spend, input_tokens, output_tokens, request_count, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (period_type, period_key)
		DO UPDATE SET
			total_spend = total_spend + excluded.total_spend,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			request_count = request_count + 1,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query, string(period), key, cost, inputTokens, outputTokens, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert spend: %w", err)
	}

	r.logger.Debug("spend recorded",
		zap.String("period", string(period)),
		zap.String("key", key),
		zap.Float64("cost", cost))
	return nil
}

// GetSpend returns the accumulated spend for one period row; a missing
// row reads as zero.
func (r *BudgetRepository) GetSpend(ctx context.Context, period models.BudgetPeriod, key string) (*models.BudgetRow, error) {
	row := &models.BudgetRow{PeriodType: period, PeriodKey: key}
	err := r.db.QueryRowContext(ctx,
		`SELECT total_spend, input_tokens, output_tokens, request_count, updated_at
		 FROM budget_tracking WHERE period_type = ? AND period_key = ?`,
		string(period), key,
	).Scan(&row.TotalSpend, &row.InputTokens, &row.OutputTokens, &row.RequestCount, &row.UpdatedAt)
	if err == sql.ErrNoRows {
		return row, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query spend: %w", err)
	}
	return row, nil
}
