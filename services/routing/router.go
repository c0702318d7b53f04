package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/classifier"
	"github.com/upb/llm-router/services/rules"
	"github.com/upb/llm-router/services/selector"
	"go.uber.org/zap"
)

var (
	// ErrNoModelAvailable is returned when all three tiers yield no
	// candidate.
	ErrNoModelAvailable = errors.New("no model available")

	// ErrRejected is returned when a tier-1 rule rejects the request.
	ErrRejected = errors.New("request rejected by routing rule")
)

// Decision is the routing outcome driving dispatch.
type Decision struct {
	Tier           int
	RuleID         *int64
	Classification *classifier.Result
	Candidates     []selector.Candidate
}

// Router runs the three-tier routing pipeline: deterministic rules,
// classifier-driven selection, fixed fallback.
type Router struct {
	store      *sqlite.Store
	matcher    *rules.Matcher
	classifier *classifier.Classifier
	selector   *selector.Selector
	logger     *zap.Logger
}

// NewRouter creates the routing orchestrator.
func NewRouter(store *sqlite.Store, matcher *rules.Matcher, cls *classifier.Classifier, sel *selector.Selector, logger *zap.Logger) *Router {
	return &Router{
		store:      store,
		matcher:    matcher,
		classifier: cls,
		selector:   sel,
		logger:     logger,
	}
}

// ExtractMeta derives rule-matching metadata from a chat request plus
// the trusted source/channel tags.
func ExtractMeta(req *models.ChatCompletionRequest, source, channel string) *rules.RequestMeta {
	meta := &rules.RequestMeta{Source: source, Channel: channel}

	totalChars := 0
	for _, msg := range req.Messages {
		if text, ok := msg.Text(); ok {
			totalChars += len(text)
		} else if msg.Content != nil {
			meta.HasMedia = true
		}
		if msg.Role == "user" {
			if text, ok := msg.Text(); ok {
				meta.TextPreview = text
			} else {
				meta.TextPreview = ""
			}
		}
	}

	meta.EstimatedTokens = (totalChars + 3) / 4
	if meta.EstimatedTokens < 100 {
		meta.EstimatedTokens = 100
	}
	return meta
}

// Route produces a routing decision for the request metadata.
func (r *Router) Route(ctx context.Context, meta *rules.RequestMeta) (*Decision, error) {
	policy, err := r.store.Policy.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	// Tier 1: deterministic rules.
	rule, err := r.matcher.Match(ctx, meta)
	if err != nil {
		return nil, err
	}

	var ruleID *int64
	if rule != nil {
		id := rule.ID
		ruleID = &id

		switch rule.Action {
		case models.ActionReject:
			r.logger.Info("request rejected by rule",
				zap.Int64("rule_id", rule.ID), zap.String("rule", rule.Name))
			return nil, ErrRejected

		case models.ActionRoute, models.ActionRouteSelf:
			target, err := r.store.Models.GetByID(ctx, rule.TargetModelID)
			if err != nil {
				return nil, err
			}
			if target != nil && target.Enabled {
				return &Decision{
					Tier:       1,
					RuleID:     ruleID,
					Candidates: []selector.Candidate{{Model: target, Rank: 1}},
				}, nil
			}
			// A rule naming a missing or disabled model falls through
			// to the classifier tier.
			r.logger.Warn("rule target model unavailable, falling through",
				zap.Int64("rule_id", rule.ID),
				zap.String("target", rule.TargetModelID))
		}
		// classify and queue actions fall through to tier 2.
	}

	// Tier 2: classifier-driven selection. The classifier never
	// errors; degraded calls yield the default classification.
	cls := r.classifier.Classify(ctx, meta.TextPreview)

	floor, err := r.store.Policy.QualityFloor(ctx, cls.Complexity)
	if err != nil {
		return nil, err
	}
	capability, err := r.store.Policy.TaskCapability(ctx, cls.TaskType)
	if err != nil {
		return nil, err
	}

	candidates, err := r.selector.Select(ctx, policy, selector.Criteria{
		QualityFloor:    floor,
		Capability:      capability,
		Sensitive:       cls.Sensitive,
		EstimatedTokens: cls.EstimatedTokens,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 {
		return &Decision{
			Tier:           2,
			RuleID:         ruleID,
			Classification: cls,
			Candidates:     candidates,
		}, nil
	}

	// Tier 3: fixed fallback, bypassing privacy and budget gates.
	fallback, err := r.fallbackCandidates(ctx, policy)
	if err != nil {
		return nil, err
	}
	if len(fallback) > 0 {
		return &Decision{
			Tier:           3,
			RuleID:         ruleID,
			Classification: cls,
			Candidates:     fallback,
		}, nil
	}

	return nil, ErrNoModelAvailable
}

// fallbackCandidates returns the single-entry tier-3 list naming the
// policy's fallback model, or empty when it is unset, disabled, or
// unhealthy.
func (r *Router) fallbackCandidates(ctx context.Context, policy *models.Policy) ([]selector.Candidate, error) {
	if policy.FallbackModelID == "" {
		return nil, nil
	}
	m, err := r.store.Models.GetByID(ctx, policy.FallbackModelID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Enabled || !m.Healthy {
		return nil, nil
	}
	return []selector.Candidate{{Model: m, Rank: 1}}, nil
}
