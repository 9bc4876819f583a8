// Package memory implementa el lookup store y el secret store en memoria.
// Single-instance: sirve para desarrollo, tests y despliegues de una réplica.
package memory

import (
	"context"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "memory"

func init() {
	store.RegisterTokenAdapter(&adapter{})
	store.RegisterSecretAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenTokens(_ context.Context, _ store.TokenConfig) (repository.TokenStore, error) {
	return NewTokenStore(), nil
}

func (a *adapter) OpenSecrets(_ context.Context, _ store.SecretConfig) (repository.SecretStore, error) {
	return NewSecretStore(), nil
}
