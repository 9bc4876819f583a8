// Package vault implementa el secret store sobre HashiCorp Vault KV v2.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "vault"

func init() {
	store.RegisterSecretAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenSecrets(_ context.Context, cfg store.SecretConfig) (repository.SecretStore, error) {
	vcfg := api.DefaultConfig()
	if cfg.VaultAddress != "" {
		vcfg.Address = cfg.VaultAddress
	}
	if vcfg.Error != nil {
		return nil, fmt.Errorf("vault: config: %w", vcfg.Error)
	}
	client, err := api.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault: new client: %w", err)
	}
	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	}
	if cfg.VaultNamespace != "" {
		client.SetNamespace(cfg.VaultNamespace)
	}
	return New(client, cfg.VaultMount), nil
}
