// Package sqlite implementa el lookup store sobre SQLite (modernc, sin cgo).
// Pensado para despliegues de una sola réplica con estado persistente.
package sqlite

import (
	"context"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "sqlite"

func init() {
	store.RegisterTokenAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenTokens(ctx context.Context, cfg store.TokenConfig) (repository.TokenStore, error) {
	return Open(ctx, cfg.DSN)
}
