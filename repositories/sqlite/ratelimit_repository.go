package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitRepository tracks provider-wide backoff windows.
type RateLimitRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRateLimitRepository creates a new rate-limit repository.
func NewRateLimitRepository(db *DB, logger *zap.Logger) *RateLimitRepository {
	return &RateLimitRepository{db: db, logger: logger}
}

// MarkLimited records that a provider returned a rate-limit response.
// The window is refreshed on every call.
func (r *RateLimitRepository) MarkLimited(ctx context.Context, provider string, retryAfter time.Time) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO provider_rate_limits (provider, is_limited, limited_since, retry_after)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (provider)
		DO UPDATE SET is_limited = 1, limited_since = excluded.limited_since, retry_after = excluded.retry_after
	`
	if _, err := r.db.ExecContext(ctx, query, provider, now, retryAfter.UTC()); err != nil {
		return fmt.Errorf("failed to mark provider limited: %w", err)
	}

	r.logger.Warn("provider rate limited",
		zap.String("provider", provider),
		zap.Time("retry_after", retryAfter))
	return nil
}

// ClearExpired lazily resets rows whose retry_after has passed. Called
// before every candidate selection; there is no scheduled unlock.
func (r *RateLimitRepository) ClearExpired(ctx context.Context, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE provider_rate_limits
		 SET is_limited = 0, limited_since = NULL, retry_after = NULL
		 WHERE is_limited = 1 AND retry_after IS NOT NULL AND retry_after < ?`,
		now.UTC())
	if err != nil {
		return fmt.Errorf("failed to clear expired rate limits: %w", err)
	}
	return nil
}

// ListLimited returns the providers currently under a backoff window.
func (r *RateLimitRepository) ListLimited(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider FROM provider_rate_limits WHERE is_limited = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate limits: %w", err)
	}
	defer rows.Close()

	limited := make(map[string]bool)
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, fmt.Errorf("failed to scan rate limit row: %w", err)
		}
		limited[provider] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate limits: %w", err)
	}
	return limited, nil
}

// RetryAfter returns the current backoff deadline for a provider, or
// nil when the provider is not limited.
func (r *RateLimitRepository) RetryAfter(ctx context.Context, provider string) (*time.Time, error) {
	var retryAfter time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT retry_after FROM provider_rate_limits WHERE provider = ? AND is_limited = 1`,
		provider,
	).Scan(&retryAfter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query retry_after: %w", err)
	}
	return &retryAfter, nil
}
