package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/llm-router/models"
	"go.uber.org/zap"
)

// RuleRepository provides typed access to the routing rule table.
type RuleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// ListEnabled returns all enabled rules in ascending priority order.
// Rule iteration order is observable (first match wins), so the sort
// happens here rather than in callers.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]*models.RoutingRule, error) {
	query := `SELECT id, name, priority, source, channel, pattern, token_max, has_media, target_model_id, action, enabled
		FROM routing_rules
		WHERE enabled = 1
		ORDER BY priority ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	out := make([]*models.RoutingRule, 0)
	for rows.Next() {
		rule := &models.RoutingRule{}
		var source, channel, pattern, target sql.NullString
		var tokenMax sql.NullInt64
		var hasMedia sql.NullBool
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Priority, &source, &channel,
			&pattern, &tokenMax, &hasMedia, &target, &rule.Action, &rule.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Source = source.String
		rule.Channel = channel.String
		rule.Pattern = pattern.String
		rule.TokenMax = int(tokenMax.Int64)
		rule.TargetModelID = target.String
		if hasMedia.Valid {
			v := hasMedia.Bool
			rule.HasMedia = &v
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}
