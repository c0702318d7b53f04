package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/repositories/sqlite"
	"go.uber.org/zap"
)

const (
	// cacheTTL bounds staleness of the in-memory rule table.
	cacheTTL = 5 * time.Second

	// previewLimit caps how much of the text preview regex predicates
	// see, bounding worst-case pattern cost.
	previewLimit = 500
)

// RequestMeta is the metadata tier-1 rules are evaluated against.
type RequestMeta struct {
	Source          string
	Channel         string
	TextPreview     string
	EstimatedTokens int
	HasMedia        bool
}

// Matcher evaluates the deterministic tier-1 rule table. Rules are
// cached for up to cacheTTL and reloadable on demand via Invalidate.
type Matcher struct {
	store  *sqlite.Store
	logger *zap.Logger

	mu       sync.Mutex
	cached   []*models.RoutingRule
	loadedAt time.Time

	// compiled patterns are cached by source text; invalid patterns
	// are remembered so a bad rule is skipped without recompiling.
	patterns map[string]*regexp.Regexp
	badPats  map[string]bool
}

// NewMatcher creates a new rule matcher.
func NewMatcher(store *sqlite.Store, logger *zap.Logger) *Matcher {
	return &Matcher{
		store:    store,
		logger:   logger,
		patterns: make(map[string]*regexp.Regexp),
		badPats:  make(map[string]bool),
	}
}

// Invalidate drops the cached rule table so the next Match reloads.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
	m.loadedAt = time.Time{}
}

// Match iterates the enabled rules in ascending priority order and
// returns the first one whose specified predicates are all satisfied.
// Returns (nil, nil) when no rule matches.
func (m *Matcher) Match(ctx context.Context, meta *RequestMeta) (*models.RoutingRule, error) {
	rules, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if m.matches(rule, meta) {
			return rule, nil
		}
	}
	return nil, nil
}

func (m *Matcher) load(ctx context.Context) ([]*models.RoutingRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && time.Since(m.loadedAt) < cacheTTL {
		return m.cached, nil
	}

	rules, err := m.store.Rules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing rules: %w", err)
	}

	m.cached = rules
	m.loadedAt = time.Now()
	return rules, nil
}

// matches reports whether every predicate the rule specifies holds for
// the request; unspecified predicates are wildcards.
func (m *Matcher) matches(rule *models.RoutingRule, meta *RequestMeta) bool {
	if rule.Source != "" && rule.Source != meta.Source {
		return false
	}
	if rule.Channel != "" && rule.Channel != meta.Channel {
		return false
	}
	if rule.TokenMax > 0 && meta.EstimatedTokens > rule.TokenMax {
		return false
	}
	if rule.HasMedia != nil && *rule.HasMedia != meta.HasMedia {
		return false
	}
	if rule.Pattern != "" {
		re, ok := m.compile(rule)
		if !ok {
			// invalid pattern skips this rule, not the whole tier
			return false
		}
		preview := meta.TextPreview
		if len(preview) > previewLimit {
			preview = preview[:previewLimit]
		}
		if !re.MatchString(preview) {
			return false
		}
	}
	return true
}

func (m *Matcher) compile(rule *models.RoutingRule) (*regexp.Regexp, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.badPats[rule.Pattern] {
		return nil, false
	}
	if re, ok := m.patterns[rule.Pattern]; ok {
		return re, true
	}

	pattern := rule.Pattern
	if !strings.HasPrefix(pattern, "(?i)") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		m.logger.Warn("skipping rule with invalid pattern",
			zap.Int64("rule_id", rule.ID),
			zap.String("pattern", rule.Pattern),
			zap.Error(err))
		m.badPats[rule.Pattern] = true
		return nil, false
	}

	m.patterns[rule.Pattern] = re
	return re, true
}
