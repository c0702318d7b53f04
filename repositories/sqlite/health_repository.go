package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// HealthRepository provides access to the append-only probe log.
type HealthRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHealthRepository creates a new health repository.
func NewHealthRepository(db *DB, logger *zap.Logger) *HealthRepository {
	return &HealthRepository{db: db, logger: logger}
}

// Append writes one probe outcome row.
func (r *HealthRepository) Append(ctx context.Context, log *models.HealthLog) error {
	var latency any
	if log.LatencyMs != nil {
		latency = *log.LatencyMs
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO health_log (model_id, checked_at, is_healthy, latency_ms, error, consecutive_failures)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ModelID, log.CheckedAt.UTC(), log.IsHealthy, latency, log.Error, log.ConsecutiveFailures)
	if err != nil {
		return fmt.Errorf("failed to append health log: %w", err)
	}
	return nil
}

// LastConsecutiveFailures reads the failure counter off the most
// recent log row for a model; no rows reads as zero.
func (r *HealthRepository) LastConsecutiveFailures(ctx context.Context, modelID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT consecutive_failures FROM health_log
		 WHERE model_id = ?
		 ORDER BY checked_at DESC, id DESC
		 LIMIT 1`,
		modelID,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query health log: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes probe rows past the retention window and
// returns the number removed.
func (r *HealthRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM health_log WHERE checked_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune health log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned health rows: %w", err)
	}
	return n, nil
}
