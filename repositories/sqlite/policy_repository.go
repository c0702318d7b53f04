package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// ErrNoPolicy is returned when the singleton policy row is missing.
var ErrNoPolicy = errors.New("routing policy row not found")

// PolicyRepository provides access to the singleton routing policy and
// the classifier lookup tables.
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(db *DB, logger *zap.Logger) *PolicyRepository {
	return &PolicyRepository{db: db, logger: logger}
}

// Load reads the singleton policy row.
func (r *PolicyRepository) Load(ctx context.Context) (*models.Policy, error) {
	query := `SELECT min_quality_score, max_cost_per_million, max_latency_ms, preferred_locations,
		quality_tolerance, daily_budget_usd, monthly_budget_usd, fallback_model_id, router_model_id
		FROM routing_policy WHERE id = 1`

	p := &models.Policy{}
	var fallback, router sql.NullString
	err := r.db.QueryRowContext(ctx, query).Scan(
		&p.MinQualityScore, &p.MaxCostPerMillion, &p.MaxLatencyMs, &p.PreferredLocations,
		&p.QualityTolerance, &p.DailyBudgetUSD, &p.MonthlyBudgetUSD, &fallback, &router,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoPolicy
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	p.FallbackModelID = fallback.String
	p.RouterModelID = router.String
	return p, nil
}

// QualityFloor maps a complexity level to its minimum quality score.
// Unknown levels fall back to the medium floor of 40.
func (r *PolicyRepository) QualityFloor(ctx context.Context, complexity string) (int, error) {
	var floor int
	err := r.db.QueryRowContext(ctx,
		`SELECT quality_floor FROM complexity_quality WHERE complexity = ?`, complexity,
	).Scan(&floor)
	if err == sql.ErrNoRows {
		return 40, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up quality floor: %w", err)
	}
	return floor, nil
}

// TaskCapability maps a classifier task type to the capability used in
// candidate filtering. Unknown task types map to no capability filter.
func (r *PolicyRepository) TaskCapability(ctx context.Context, taskType string) (string, error) {
	var capability string
	err := r.db.QueryRowContext(ctx,
		`SELECT capability FROM task_capabilities WHERE task_type = ?`, taskType,
	).Scan(&capability)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up task capability: %w", err)
	}
	return capability, nil
}
