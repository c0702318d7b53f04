package sqlite

import (
	"context"

	"go.uber.org/zap"
)

// Store aggregates the typed repositories over one database handle.
// It is the single synchronization point for gateway state: the pool
// holds one connection, so reads and writes are serialized.
type Store struct {
	DB          *DB
	Models      *ModelRepository
	Rules       *RuleRepository
	Policy      *PolicyRepository
	Budget      *BudgetRepository
	RateLimits  *RateLimitRepository
	Health      *HealthRepository
	RequestLogs *RequestLogRepository
}

// NewStore opens the database at path, runs migrations, and wires all
// repositories.
func NewStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := NewDB(path, logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		DB:          db,
		Models:      NewModelRepository(db, logger),
		Rules:       NewRuleRepository(db, logger),
		Policy:      NewPolicyRepository(db, logger),
		Budget:      NewBudgetRepository(db, logger),
		RateLimits:  NewRateLimitRepository(db, logger),
		Health:      NewHealthRepository(db, logger),
		RequestLogs: NewRequestLogRepository(db, logger),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}
