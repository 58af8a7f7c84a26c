// Package postgres implements internal/store.Store against PostgreSQL using
// the teacher's common/db pool wrapper and raw parameterized SQL, following
// the same repository shape as cmd/orchestrator/repository.
package postgres

import (
	"github.com/lyzr/workflows/common/db"
)

// Store bundles every repository behind the single internal/store.Store
// interface so the container can wire one concrete value.
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}
