package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// RequestLogRepository provides access to the per-request audit log.
type RequestLogRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRequestLogRepository creates a new request log repository.
func NewRequestLogRepository(db *DB, logger *zap.Logger) *RequestLogRepository {
	return &RequestLogRepository{db: db, logger: logger}
}

// Insert writes one completed-request row.
func (r *RequestLogRepository) Insert(ctx context.Context, log *models.RequestLog) error {
	var ruleID any
	if log.RuleID != nil {
		ruleID = *log.RuleID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_log
			(id, created_at, source, channel, routing_tier, rule_id, complexity, task_type,
			 selected_model, input_tokens, output_tokens, cost_usd, latency_ms, success, error, request_preview)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.CreatedAt.UTC(), log.Source, log.Channel, log.RoutingTier, ruleID,
		log.Complexity, log.TaskType, log.SelectedModel, log.InputTokens, log.OutputTokens,
		log.CostUSD, log.LatencyMs, log.Success, log.Error, log.RequestPreview)
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}
	return nil
}

// GetByID retrieves a request log row, or (nil, nil) when absent.
func (r *RequestLogRepository) GetByID(ctx context.Context, id string) (*models.RequestLog, error) {
	log := &models.RequestLog{}
	var ruleID sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at, source, channel, routing_tier, rule_id, complexity, task_type,
			selected_model, input_tokens, output_tokens, cost_usd, latency_ms, success, error, request_preview
		 FROM request_log WHERE id = ?`, id,
	).Scan(&log.ID, &log.CreatedAt, &log.Source, &log.Channel, &log.RoutingTier, &ruleID,
		&log.Complexity, &log.TaskType, &log.SelectedModel, &log.InputTokens, &log.OutputTokens,
		&log.CostUSD, &log.LatencyMs, &log.Success, &log.Error, &log.RequestPreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request log: %w", err)
	}
	if ruleID.Valid {
		log.RuleID = &ruleID.Int64
	}
	return log, nil
}

// CountForModel counts logged requests served by a model. Used by
// tests asserting the exactly-one-row property.
func (r *RequestLogRepository) CountForModel(ctx context.Context, modelID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_log WHERE selected_model = ?`, modelID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count request logs: %w", err)
	}
	return n, nil
}

// DeleteOlderThan prunes request rows past the retention window and
// returns the number removed.
func (r *RequestLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM request_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune request log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned request rows: %w", err)
	}
	return n, nil
}
