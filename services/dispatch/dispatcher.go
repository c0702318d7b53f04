package dispatch

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/health"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/selector"
	"go.uber.org/zap"
)

// ErrExhausted is returned when every ranked candidate failed.
var ErrExhausted = errors.New("all candidates failed")

// rateLimitWindow is how long a provider stays excluded after a 429.
const rateLimitWindow = 60 * time.Second

// Dispatcher iterates a ranked candidate list, classifying each
// failure into persistent state updates before moving to the next
// candidate. It never retries the same model; retries happen only by
// advancing down the ranking.
type Dispatcher struct {
	store    *sqlite.Store
	registry *providers.Registry
	health   *health.Service
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. The store handle is taken
// separately so adapters stay stateless.
func NewDispatcher(store *sqlite.Store, registry *providers.Registry, healthSvc *health.Service, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		health:   healthSvc,
		logger:   logger,
	}
}

// Dispatch tries candidates strictly in rank order and returns the
// first successful stream. The returned response names the model that
// actually serves the request, which differs from the first candidate
// whenever earlier candidates failed.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []selector.Candidate, req *providers.Request) (*providers.StreamResponse, error) {
	var lastErr error
	for _, candidate := range candidates {
		adapter := d.registry.ForModel(candidate.Model)

		resp, err := adapter.Send(ctx, candidate.Model, req)
		if err == nil {
			if touchErr := d.store.Models.TouchLastUsed(ctx, candidate.Model.ID); touchErr != nil {
				d.logger.Warn("failed to record model use",
					zap.String("model", candidate.Model.ID), zap.Error(touchErr))
			}
			return resp, nil
		}

		lastErr = err
		d.logger.Warn("candidate dispatch failed",
			zap.String("model", candidate.Model.ID),
			zap.Int("rank", candidate.Rank),
			zap.Error(err))
		d.classify(ctx, candidate, err)
	}

	if lastErr != nil {
		return nil, errors.Join(ErrExhausted, lastErr)
	}
	return nil, ErrExhausted
}

// classify maps one candidate failure onto persistent state: 429s mark
// the provider rate-limited for the backoff window, 5xx responses
// count toward the model's consecutive-failure threshold, and
// connection-level failures flip the model unhealthy directly.
// Anything else leaves state untouched.
func (d *Dispatcher) classify(ctx context.Context, candidate selector.Candidate, err error) {
	model := candidate.Model

	var provErr *providers.ProviderError
	status := 0
	if errors.As(err, &provErr) {
		status = provErr.StatusCode
	}
	msg := strings.ToLower(err.Error())

	switch {
	case status == 429 || strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		retryAfter := time.Now().Add(rateLimitWindow)
		if mErr := d.store.RateLimits.MarkLimited(ctx, model.Provider, retryAfter); mErr != nil {
			d.logger.Error("failed to persist rate limit",
				zap.String("provider", model.Provider), zap.Error(mErr))
		}

	case status >= 500 && status < 600:
		if hErr := d.health.RecordFailure(ctx, model.ID, err.Error()); hErr != nil {
			d.logger.Error("failed to record server error",
				zap.String("model", model.ID), zap.Error(hErr))
		}

	case isConnectionError(err, msg):
		if hErr := d.health.MarkUnhealthy(ctx, model.ID, err.Error()); hErr != nil {
			d.logger.Error("failed to flip model unhealthy",
				zap.String("model", model.ID), zap.Error(hErr))
		}
	}
}

// isConnectionError reports whether the failure is a timeout or
// connection-level fault rather than a backend-produced response.
func isConnectionError(err error, lowerMsg string) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(lowerMsg, "timeout") ||
		strings.Contains(lowerMsg, "connection refused") ||
		strings.Contains(lowerMsg, "connection reset")
}
