package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// migration is one versioned schema step. Statements run inside a
// single transaction together with the version bookkeeping row, so a
// partially applied migration never persists.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS models (
				id TEXT PRIMARY KEY,
				display_name TEXT NOT NULL,
				provider TEXT NOT NULL,
				location TEXT NOT NULL CHECK (location IN ('co-located','lan','cloud')),
				endpoint TEXT NOT NULL,
				format TEXT NOT NULL DEFAULT 'openai',
				api_key_env TEXT NOT NULL DEFAULT '',
				quality_score INTEGER NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 100),
				context_window INTEGER NOT NULL DEFAULT 8192,
				max_tokens INTEGER NOT NULL DEFAULT 4096,
				supports_tools INTEGER NOT NULL DEFAULT 0,
				supports_vision INTEGER NOT NULL DEFAULT 0,
				supports_reasoning INTEGER NOT NULL DEFAULT 0,
				price_input REAL NOT NULL DEFAULT 0,
				price_output REAL NOT NULL DEFAULT 0,
				price_cache_read REAL NOT NULL DEFAULT 0,
				price_cache_write REAL NOT NULL DEFAULT 0,
				latency_p50_ms INTEGER NOT NULL DEFAULT 0,
				latency_p99_ms INTEGER NOT NULL DEFAULT 0,
				hardware TEXT NOT NULL DEFAULT '',
				enabled INTEGER NOT NULL DEFAULT 1,
				healthy INTEGER NOT NULL DEFAULT 1,
				last_health_check TIMESTAMP,
				last_used TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS model_capabilities (
				model_id TEXT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
				capability TEXT NOT NULL,
				PRIMARY KEY (model_id, capability)
			)`,
			`CREATE TABLE IF NOT EXISTS routing_rules (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				priority INTEGER NOT NULL,
				source TEXT,
				channel TEXT,
				pattern TEXT,
				token_max INTEGER,
				has_media INTEGER,
				target_model_id TEXT,
				action TEXT NOT NULL CHECK (action IN ('route','route_self','classify','reject','queue')),
				enabled INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE INDEX IF NOT EXISTS idx_routing_rules_priority ON routing_rules(priority)`,
			`CREATE TABLE IF NOT EXISTS routing_policy (
				id INTEGER PRIMARY KEY CHECK (id = 1),
				min_quality_score INTEGER NOT NULL DEFAULT 0,
				max_cost_per_million REAL NOT NULL DEFAULT 0,
				max_latency_ms INTEGER NOT NULL DEFAULT 0,
				preferred_locations TEXT NOT NULL DEFAULT 'co-located,lan,cloud',
				quality_tolerance INTEGER NOT NULL DEFAULT 0 CHECK (quality_tolerance >= 0),
				daily_budget_usd REAL NOT NULL DEFAULT 0,
				monthly_budget_usd REAL NOT NULL DEFAULT 0,
				fallback_model_id TEXT,
				router_model_id TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS complexity_quality (
				complexity TEXT PRIMARY KEY,
				quality_floor INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS task_capabilities (
				task_type TEXT PRIMARY KEY,
				capability TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS budget_tracking (
				period_type TEXT NOT NULL CHECK (period_type IN ('daily','monthly')),
				period_key TEXT NOT NULL,
				total_spend REAL NOT NULL DEFAULT 0,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				request_count INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (period_type, period_key)
			)`,
			`CREATE TABLE IF NOT EXISTS provider_rate_limits (
				provider TEXT PRIMARY KEY,
				is_limited INTEGER NOT NULL DEFAULT 0,
				limited_since TIMESTAMP,
				retry_after TIMESTAMP,
				rpm INTEGER NOT NULL DEFAULT 0,
				tpm INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS health_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				model_id TEXT NOT NULL,
				checked_at TIMESTAMP NOT NULL,
				is_healthy INTEGER NOT NULL,
				latency_ms INTEGER,
				error TEXT NOT NULL DEFAULT '',
				consecutive_failures INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_health_log_model_time ON health_log(model_id, checked_at DESC)`,
			`CREATE TABLE IF NOT EXISTS request_log (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMP NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				channel TEXT NOT NULL DEFAULT '',
				routing_tier INTEGER NOT NULL,
				rule_id INTEGER,
				complexity TEXT NOT NULL DEFAULT '',
				task_type TEXT NOT NULL DEFAULT '',
				selected_model TEXT NOT NULL,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				cost_usd REAL NOT NULL DEFAULT 0,
				latency_ms INTEGER NOT NULL DEFAULT 0,
				success INTEGER NOT NULL DEFAULT 1,
				error TEXT NOT NULL DEFAULT '',
				request_preview TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_request_log_created ON request_log(created_at)`,
		},
	},
	{
		version: 2,
		name:    "seed lookup tables",
		statements: []string{
			`INSERT OR IGNORE INTO complexity_quality (complexity, quality_floor) VALUES
				('simple', 0), ('medium', 40), ('complex', 65), ('reasoning', 80)`,
			`INSERT OR IGNORE INTO task_capabilities (task_type, capability) VALUES
				('coding', 'coding'),
				('math', 'math'),
				('reasoning', 'complex_logic'),
				('tool_use', 'tool_calling'),
				('summarization', 'summarization'),
				('extraction', 'extraction'),
				('simple_qa', 'simple_qa'),
				('conversation', 'conversation'),
				('classification', 'classification'),
				('analysis', 'analysis'),
				('writing', 'writing'),
				('multi_step', 'multi_step')`,
		},
	},
	{
		version: 3,
		name:    "seed default fleet, rules and policy",
		statements: []string{
			`INSERT OR IGNORE INTO models
				(id, display_name, provider, location, endpoint, format, api_key_env, quality_score, context_window, max_tokens,
				 supports_tools, supports_vision, supports_reasoning, price_input, price_output, latency_p50_ms, latency_p99_ms, hardware)
			VALUES
				('local/qwen3-8b', 'Qwen3 8B (gateway host)', 'local', 'co-located', 'http://127.0.0.1:8081/v1', 'openai', '',
				 35, 32768, 4096, 0, 0, 0, 0, 0, 180, 900, 'RTX 4070, llama.cpp'),
				('lan/qwen3-coder-30b', 'Qwen3 Coder 30B', 'lan', 'lan', 'http://10.0.0.20:8080/v1', 'openai', '',
				 70, 131072, 8192, 1, 0, 0, 0, 0, 450, 2200, 'dual RTX 3090, vLLM'),
				('lan/llama3.3-70b', 'Llama 3.3 70B', 'lan', 'lan', 'http://10.0.0.21:8080/v1', 'openai', '',
				 68, 131072, 8192, 1, 0, 0, 0, 0, 600, 3000, 'M2 Ultra, llama.cpp'),
				('anthropic/claude-sonnet-4', 'Claude Sonnet 4', 'anthropic', 'cloud', 'https://api.anthropic.com/v1', 'anthropic', 'ANTHROPIC_API_KEY',
				 92, 200000, 8192, 1, 1, 1, 3.0, 15.0, 1200, 6000, ''),
				('openai/gpt-4o-mini', 'GPT-4o mini', 'openai', 'cloud', 'https://api.openai.com/v1', 'openai', 'OPENAI_API_KEY',
				 75, 128000, 16384, 1, 1, 0, 0.15, 0.6, 800, 4000, '')`,
			`INSERT OR IGNORE INTO model_capabilities (model_id, capability) VALUES
				('local/qwen3-8b', 'conversation'),
				('local/qwen3-8b', 'simple_qa'),
				('local/qwen3-8b', 'classification'),
				('local/qwen3-8b', 'summarization'),
				('lan/qwen3-coder-30b', 'coding'),
				('lan/qwen3-coder-30b', 'tool_calling'),
				('lan/qwen3-coder-30b', 'multi_step'),
				('lan/qwen3-coder-30b', 'extraction'),
				('lan/qwen3-coder-30b', 'analysis'),
				('lan/llama3.3-70b', 'conversation'),
				('lan/llama3.3-70b', 'writing'),
				('lan/llama3.3-70b', 'summarization'),
				('lan/llama3.3-70b', 'analysis'),
				('lan/llama3.3-70b', 'math'),
				('anthropic/claude-sonnet-4', 'coding'),
				('anthropic/claude-sonnet-4', 'complex_logic'),
				('anthropic/claude-sonnet-4', 'math'),
				('anthropic/claude-sonnet-4', 'tool_calling'),
				('anthropic/claude-sonnet-4', 'analysis'),
				('anthropic/claude-sonnet-4', 'writing'),
				('anthropic/claude-sonnet-4', 'multi_step'),
				('openai/gpt-4o-mini', 'conversation'),
				('openai/gpt-4o-mini', 'simple_qa'),
				('openai/gpt-4o-mini', 'extraction'),
				('openai/gpt-4o-mini', 'summarization'),
				('openai/gpt-4o-mini', 'classification')`,
			`INSERT OR IGNORE INTO routing_rules (id, name, priority, source, channel, pattern, token_max, has_media, target_model_id, action, enabled) VALUES
				(1, 'heartbeat', 10, 'heartbeat', NULL, NULL, NULL, NULL, 'local/qwen3-8b', 'route_self', 1),
				(2, 'cron', 20, 'cron', NULL, NULL, NULL, NULL, 'local/qwen3-8b', 'route_self', 1),
				(3, 'webhook', 30, 'webhook', NULL, NULL, NULL, NULL, 'local/qwen3-8b', 'route_self', 1),
				(4, 'greeting', 40, NULL, NULL, '^(hi|hello|hey|yo|ping|good (morning|afternoon|evening))[!. ]*$', 200, NULL, 'local/qwen3-8b', 'route_self', 1),
				(5, 'catch-all classify', 100, NULL, NULL, NULL, NULL, NULL, NULL, 'classify', 1)`,
			`INSERT OR IGNORE INTO routing_policy
				(id, min_quality_score, max_cost_per_million, max_latency_ms, preferred_locations, quality_tolerance,
				 daily_budget_usd, monthly_budget_usd, fallback_model_id, router_model_id)
			VALUES
				(1, 30, 20.0, 30000, 'co-located,lan,cloud', 15, 5.0, 50.0, 'anthropic/claude-sonnet-4', 'local/qwen3-8b')`,
		},
	},
}

// Migrate applies all pending migrations. It is idempotent: applied
// versions are tracked in _migrations and skipped on later runs.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM _migrations WHERE version = ?`, m.version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _migrations (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		db.logger.Info("applied migration",
			zap.Int("version", m.version),
			zap.String("name", m.name))
	}

	return nil
}
