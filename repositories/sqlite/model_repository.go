package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// ModelRepository provides typed access to the model registry table.
type ModelRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewModelRepository creates a new model repository.
func NewModelRepository(db *DB, logger *zap.Logger) *ModelRepository {
	return &ModelRepository{db: db, logger: logger}
}

const modelColumns = `id, display_name, provider, location, endpoint, format, api_key_env,
	quality_score, context_window, max_tokens,
	supports_tools, supports_vision, supports_reasoning,
	price_input, price_output, price_cache_read, price_cache_write,
	latency_p50_ms, latency_p99_ms, hardware,
	enabled, healthy, last_health_check, last_used`

func scanModel(row interface{ Scan(...any) error }) (*models.Model, error) {
	m := &models.Model{}
	var lastCheck, lastUsed sql.NullTime
	err := row.Scan(
		&m.ID, &m.DisplayName, &m.Provider, &m.Location, &m.Endpoint, &m.Format, &m.APIKeyEnv,
		&m.QualityScore, &m.ContextWindow, &m.MaxTokens,
		&m.SupportsTools, &m.SupportsVision, &m.SupportsReasoning,
		&m.PriceInput, &m.PriceOutput, &m.PriceCacheRead, &m.PriceCacheWrite,
		&m.LatencyP50Ms, &m.LatencyP99Ms, &m.Hardware,
		&m.Enabled, &m.Healthy, &lastCheck, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	if lastCheck.Valid {
		m.LastHealthCheck = &lastCheck.Time
	}
	if lastUsed.Valid {
		m.LastUsed = &lastUsed.Time
	}
	return m, nil
}

// GetByID retrieves a model by its registry id. Returns
// (nil, nil) when the id is unknown.
func (r *ModelRepository) GetByID(ctx context.Context, id string) (*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE id = ?`

	m, err := scanModel(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model %s: %w", id, err)
	}
	return m, nil
}

// ListEnabledHealthy returns all enabled, healthy models. When
// capability is non-empty the result is inner-joined on the
// capability index.
func (r *ModelRepository) ListEnabledHealthy(ctx context.Context, capability string) ([]*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE enabled = 1 AND healthy = 1`
	args := []any{}
	if capability != "" {
		query = `SELECT ` + modelColumns + ` FROM models m
			INNER JOIN model_capabilities mc ON mc.model_id = m.id
			WHERE m.enabled = 1 AND m.healthy = 1 AND mc.capability = ?`
		args = append(args, capability)
	}

	return r.queryModels(ctx, query, args...)
}

// ListEnabled returns all enabled models ordered for the public model
// listing: by location preference order, then quality descending.
func (r *ModelRepository) ListEnabled(ctx context.Context) ([]*models.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE enabled = 1
		ORDER BY CASE location
			WHEN 'co-located' THEN 0
			WHEN 'lan' THEN 1
			ELSE 2
		END, quality_score DESC`
	return r.queryModels(ctx, query)
}

func (r *ModelRepository) queryModels(ctx context.Context, query string, args ...any) ([]*models.Model, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating models: %w", err)
	}
	return out, nil
}

// SetHealthy updates the derived healthy flag and refreshes the
// last-probe timestamp.
func (r *ModelRepository) SetHealthy(ctx context.Context, id string, healthy bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE models SET healthy = ?, last_health_check = ? WHERE id = ?`,
		healthy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set healthy flag for %s: %w", id, err)
	}
	r.logger.Debug("model health flag updated",
		zap.String("model", id), zap.Bool("healthy", healthy))
	return nil
}

// TouchHealthCheck refreshes last_health_check without changing the
// healthy flag (failure below the unhealthy threshold).
func (r *ModelRepository) TouchHealthCheck(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE models SET last_health_check = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch health check for %s: %w", id, err)
	}
	return nil
}

// TouchLastUsed records that a model just served a request.
func (r *ModelRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE models SET last_used = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch last used for %s: %w", id, err)
	}
	return nil
}

// HealthCounts returns (total, healthy) counts over enabled models.
func (r *ModelRepository) HealthCounts(ctx context.Context) (total, healthy int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(healthy), 0) FROM models WHERE enabled = 1`,
	).Scan(&total, &healthy)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count model health: %w", err)
	}
	return total, healthy, nil
}
