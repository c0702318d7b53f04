package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/budget"
	"go.uber.org/zap"
)

// Criteria are the hard and soft constraints candidate models are
// selected against.
type Criteria struct {
	QualityFloor    int
	Capability      string // empty = no capability filter
	Sensitive       bool
	EstimatedTokens int
}

// Candidate is one ranked selection result. Rank is 1-based; rank 1 is
// dispatched first.
type Candidate struct {
	Model *models.Model
	Rank  int
}

// Selector filters and ranks the model fleet for one request.
type Selector struct {
	store  *sqlite.Store
	budget *budget.Service
	logger *zap.Logger
}

// New creates a selector.
func New(store *sqlite.Store, budgetSvc *budget.Service, logger *zap.Logger) *Selector {
	return &Selector{store: store, budget: budgetSvc, logger: logger}
}

// Select returns the ranked candidate list for the criteria, applying
// the filter pipeline in its fixed order: base set, capability,
// rate limit, context window, privacy, budget, quality tolerance.
// An empty result means the caller should fall back to tier-3.
func (s *Selector) Select(ctx context.Context, policy *models.Policy, c Criteria) ([]Candidate, error) {
	// The budget gate is evaluated once up front and reused for the
	// whole request; mid-request ledger movement does not re-filter.
	budgetExceeded, err := s.budget.IsExceeded(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate budget gate: %w", err)
	}

	// Expired provider backoff windows are cleared lazily, before the
	// candidate query, so recovery needs no scheduled unlock.
	if err := s.store.RateLimits.ClearExpired(ctx, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to clear expired rate limits: %w", err)
	}

	base, err := s.store.Models.ListEnabledHealthy(ctx, c.Capability)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate models: %w", err)
	}

	limited, err := s.store.RateLimits.ListLimited(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate-limited providers: %w", err)
	}

	filtered := make([]*models.Model, 0, len(base))
	for _, m := range base {
		if limited[m.Provider] {
			continue
		}
		if m.ContextWindow < c.EstimatedTokens {
			continue
		}
		if c.Sensitive && m.Location == models.LocationCloud {
			continue
		}
		if budgetExceeded && m.Location == models.LocationCloud {
			continue
		}
		filtered = append(filtered, m)
	}

	final := applyQualityTolerance(filtered, c.QualityFloor, policy.QualityTolerance)
	if len(final) == 0 {
		return nil, nil
	}

	sortCandidates(final, policy.PreferredLocations)

	out := make([]Candidate, len(final))
	for i, m := range final {
		out[i] = Candidate{Model: m, Rank: i + 1}
	}
	return out, nil
}

// applyQualityTolerance implements the soft quality gate: the strict
// set {quality >= floor} when non-empty, else the soft set
// {quality >= floor - tolerance AND price_out = 0}. Only zero-cost
// models may reach above their weight.
func applyQualityTolerance(in []*models.Model, floor, tolerance int) []*models.Model {
	strict := make([]*models.Model, 0, len(in))
	for _, m := range in {
		if m.QualityScore >= floor {
			strict = append(strict, m)
		}
	}
	if len(strict) > 0 {
		return strict
	}

	soft := make([]*models.Model, 0, len(in))
	for _, m := range in {
		if m.QualityScore >= floor-tolerance && m.PriceOutput == 0 {
			soft = append(soft, m)
		}
	}
	return soft
}

// sortCandidates orders models by the three-key lexicographic sort:
// location preference index, combined price ascending, quality
// descending.
func sortCandidates(in []*models.Model, preferredLocations string) {
	order := locationOrder(preferredLocations)

	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i], in[j]
		ai, bi := order[a.Location], order[b.Location]
		if ai != bi {
			return ai < bi
		}
		ac, bc := a.PriceInput+a.PriceOutput, b.PriceInput+b.PriceOutput
		if ac != bc {
			return ac < bc
		}
		return a.QualityScore > b.QualityScore
	})
}

// locationOrder parses the policy's comma-separated location list into
// sort indices. Locations absent from the list sort last.
func locationOrder(preferred string) map[models.Location]int {
	order := make(map[models.Location]int)
	for _, loc := range []models.Location{models.LocationColocated, models.LocationLAN, models.LocationCloud} {
		order[loc] = 100
	}
	for i, part := range strings.Split(preferred, ",") {
		loc := models.Location(strings.TrimSpace(part))
		if _, ok := order[loc]; ok {
			order[loc] = i
		}
	}
	return order
}
