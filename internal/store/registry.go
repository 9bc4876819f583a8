// Package store provee el registry de adapters para el lookup store de refresh
// tokens y para el secret store. Cada adapter se registra en su init(); main
// importa adapters/all.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// TokenConfig configura el lookup store.
type TokenConfig struct {
	// Driver: "memory", "redis", "postgres", "mongo", "sqlite"
	Driver string

	// DSN connection string (redis://, postgres://, mongodb://, path de sqlite)
	DSN string

	// Database (mongo) o key prefix (redis).
	Database  string
	KeyPrefix string

	MaxConns int

	// RevocationTTL cuánto se conservan los registros de revocación (≥ TTL de refresh).
	RevocationTTL time.Duration
}

// SecretConfig configura el secret store.
type SecretConfig struct {
	// Driver: "memory", "fs", "vault"
	Driver string

	// FS
	Dir       string
	MasterKey string // base64/hex, cifra el contenido en reposo

	// Vault (KV v2)
	VaultAddress   string
	VaultToken     string
	VaultMount     string
	VaultNamespace string
}

// TokenAdapter abre un lookup store.
type TokenAdapter interface {
	Name() string
	OpenTokens(ctx context.Context, cfg TokenConfig) (repository.TokenStore, error)
}

// SecretAdapter abre un secret store.
type SecretAdapter interface {
	Name() string
	OpenSecrets(ctx context.Context, cfg SecretConfig) (repository.SecretStore, error)
}

// ─── Registry Global ───

var (
	registryMu     sync.RWMutex
	tokenAdapters  = make(map[string]TokenAdapter)
	secretAdapters = make(map[string]SecretAdapter)
)

// RegisterTokenAdapter registra un adapter. Llamar en init().
func RegisterTokenAdapter(a TokenAdapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := a.Name()
	if _, exists := tokenAdapters[name]; exists {
		panic(fmt.Sprintf("token adapter: %q already registered", name))
	}
	tokenAdapters[name] = a
}

// RegisterSecretAdapter registra un adapter. Llamar en init().
func RegisterSecretAdapter(a SecretAdapter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	name := a.Name()
	if _, exists := secretAdapters[name]; exists {
		panic(fmt.Sprintf("secret adapter: %q already registered", name))
	}
	secretAdapters[name] = a
}

// ListAdapters devuelve los nombres registrados (ordenados) de cada tipo.
func ListAdapters() (tokens, secrets []string) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for n := range tokenAdapters {
		tokens = append(tokens, n)
	}
	for n := range secretAdapters {
		secrets = append(secrets, n)
	}
	sort.Strings(tokens)
	sort.Strings(secrets)
	return tokens, secrets
}

// OpenTokenStore abre el lookup store del driver configurado.
func OpenTokenStore(ctx context.Context, cfg TokenConfig) (repository.TokenStore, error) {
	registryMu.RLock()
	a, ok := tokenAdapters[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("token adapter: %q not registered", cfg.Driver)
	}
	return a.OpenTokens(ctx, cfg)
}

// OpenSecretStore abre el secret store del driver configurado.
func OpenSecretStore(ctx context.Context, cfg SecretConfig) (repository.SecretStore, error) {
	registryMu.RLock()
	a, ok := secretAdapters[cfg.Driver]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("secret adapter: %q not registered", cfg.Driver)
	}
	return a.OpenSecrets(ctx, cfg)
}
