package health

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"go.uber.org/zap"
)

// Service owns the consecutive-failure bookkeeping shared by the
// probe loop and the dispatcher's server-error accounting.
type Service struct {
	store  *sqlite.Store
	logger *zap.Logger
}

// NewService creates the health bookkeeping service.
func NewService(store *sqlite.Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// RecordSuccess appends a healthy probe row with the measured latency,
// resets the failure counter, and restores the model's healthy flag.
func (s *Service) RecordSuccess(ctx context.Context, modelID string, latencyMs int64) error {
	err := s.store.Health.Append(ctx, &models.HealthLog{
		ModelID:             modelID,
		CheckedAt:           time.Now().UTC(),
		IsHealthy:           true,
		LatencyMs:           &latencyMs,
		ConsecutiveFailures: 0,
	})
	if err != nil {
		return err
	}
	return s.store.Models.SetHealthy(ctx, modelID, true)
}

// RecordFailure appends a failure row carrying the incremented
// consecutive-failure counter. Reaching the unhealthy threshold flips
// the model record; below it only the probe timestamp is refreshed.
func (s *Service) RecordFailure(ctx context.Context, modelID string, probeErr string) error {
	prev, err := s.store.Health.LastConsecutiveFailures(ctx, modelID)
	if err != nil {
		return err
	}
	count := prev + 1

	err = s.store.Health.Append(ctx, &models.HealthLog{
		ModelID:             modelID,
		CheckedAt:           time.Now().UTC(),
		IsHealthy:           false,
		Error:               probeErr,
		ConsecutiveFailures: count,
	})
	if err != nil {
		return err
	}

	if count >= models.UnhealthyThreshold {
		s.logger.Warn("model reached unhealthy threshold",
			zap.String("model", modelID),
			zap.Int("consecutive_failures", count))
		return s.store.Models.SetHealthy(ctx, modelID, false)
	}
	return s.store.Models.TouchHealthCheck(ctx, modelID)
}

// MarkUnhealthy flips a model's healthy flag directly, without
// threshold accounting. Used for connection-level failures where the
// endpoint is plainly unreachable.
func (s *Service) MarkUnhealthy(ctx context.Context, modelID, reason string) error {
	s.logger.Warn("model marked unhealthy",
		zap.String("model", modelID), zap.String("reason", reason))
	if err := s.store.Models.SetHealthy(ctx, modelID, false); err != nil {
		return fmt.Errorf("failed to mark model unhealthy: %w", err)
	}
	return nil
}
