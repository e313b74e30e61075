package core

import (
	"lcacore/internal/infra/persistence/postgres"
	"lcacore/pkg/domain"
)

// PostgresStore re-exports the infra implementation so call sites outside the
// infra tree can open it through the core package.
type PostgresStore = postgres.Store

// NewPostgresStore opens a Postgres-backed persistent store.
func NewPostgresStore(dsn string, engine *domain.RulesEngine) (*PostgresStore, error) {
	return postgres.NewStore(dsn, engine)
}
