package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/vault/api"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

const valueField = "value"

// SecretStore guarda cada secreto como un KV v2 con un único campo "value"
// (base64). Vault cifra en reposo y versiona.
type SecretStore struct {
	client *api.Client
	mount  string
}

// New usa mount "secret" si no se indica otro.
func New(client *api.Client, mount string) *SecretStore {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &SecretStore{client: client, mount: mount}
}

// Close libera las conexiones ociosas del cliente HTTP de Vault.
func (s *SecretStore) Close() error {
	if hc := s.client.CloneConfig().HttpClient; hc != nil {
		hc.CloseIdleConnections()
	}
	return nil
}

func (s *SecretStore) Write(ctx context.Context, path string, value []byte) error {
	_, err := s.client.KVv2(s.mount).Put(ctx, strings.Trim(path, "/"), map[string]interface{}{
		valueField: base64.StdEncoding.EncodeToString(value),
	})
	return wrap("write", err)
}

func (s *SecretStore) Read(ctx context.Context, path string) ([]byte, error) {
	sec, err := s.client.KVv2(s.mount).Get(ctx, strings.Trim(path, "/"))
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, wrap("read", err)
	}
	if sec == nil || sec.Data == nil {
		// versión borrada (soft delete) o sin datos
		return nil, repository.ErrNotFound
	}
	raw, ok := sec.Data[valueField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: vault %s: missing %q field", repository.ErrInvalidInput, path, valueField)
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: vault %s: %v", repository.ErrInvalidInput, path, err)
	}
	return b, nil
}

// List usa el endpoint de metadata; las subcarpetas ("x/") se omiten.
func (s *SecretStore) List(ctx context.Context, prefix string) ([]string, error) {
	sec, err := s.client.Logical().ListWithContext(ctx, s.mount+"/metadata/"+strings.Trim(prefix, "/"))
	if err != nil {
		return nil, wrap("list", err)
	}
	out := []string{}
	if sec == nil || sec.Data == nil {
		return out, nil
	}
	keys, _ := sec.Data["keys"].([]interface{})
	for _, k := range keys {
		name, ok := k.(string)
		if !ok || strings.HasSuffix(name, "/") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Delete borra todas las versiones y la metadata.
func (s *SecretStore) Delete(ctx context.Context, path string) error {
	err := s.client.KVv2(s.mount).DeleteMetadata(ctx, strings.Trim(path, "/"))
	var rerr *api.ResponseError
	if errors.As(err, &rerr) && rerr.StatusCode == 404 {
		return nil
	}
	return wrap("delete", err)
}

func (s *SecretStore) Ping(ctx context.Context) error {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return wrap("health", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("%w: vault sealed or not initialized", repository.ErrUnavailable)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: vault %s: %v", repository.ErrUnavailable, op, err)
}
