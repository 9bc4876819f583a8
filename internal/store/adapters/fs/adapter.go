// Package fs implementa un secret store sobre el filesystem local. Cada
// secreto es un archivo <dir>/<path>.sec cifrado con AES-GCM (clave derivada
// del master key) y con el path como dato asociado, así un archivo movido de
// lugar no descifra.
package fs

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/security/secretbox"
	"github.com/dropDatabas3/journal-auth/internal/store"
)

const adapterName = "fs"

func init() {
	store.RegisterSecretAdapter(&adapter{})
}

type adapter struct{}

func (a *adapter) Name() string { return adapterName }

func (a *adapter) OpenSecrets(_ context.Context, cfg store.SecretConfig) (repository.SecretStore, error) {
	if cfg.MasterKey == "" {
		return nil, fmt.Errorf("%w: fs secret store requires a master key", repository.ErrInvalidInput)
	}
	master, err := secretbox.ParseKey(cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("fs secret store: %w", err)
	}
	return New(cfg.Dir, master)
}
