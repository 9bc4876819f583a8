package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/config"
	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	"github.com/dropDatabas3/journal-auth/internal/security/secretbox"
	"github.com/dropDatabas3/journal-auth/internal/store"
	_ "github.com/dropDatabas3/journal-auth/internal/store/adapters/all"
	"github.com/dropDatabas3/journal-auth/internal/store/adapters/memory"
)

func TestMain(m *testing.M) {
	restore := logger.Replace(zap.NewNop())
	code := m.Run()
	restore()
	os.Exit(code)
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryStack(t *testing.T) {
	cfg := loadConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.Manager.Snapshot().Active)

	b, err := a.Lifecycle.IssueSessionBundle(ctx, "u1")
	require.NoError(t, err)
	_, err = a.Lifecycle.VerifyAccess(ctx, b.Access.Token)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), a.Manager.Snapshot().Active.ID)
}

func TestNew_JWKSCacheControlFollowsRotation(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Keys.Overlap = "2h"
	cfg.Keys.ActivationGrace = "10m"
	cfg.Keys.JWKSMaxAge = "24h"
	require.NoError(t, cfg.Validate())

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "public, max-age=600, must-revalidate", rec.Header().Get("Cache-Control"))
}

// Reinicio con fs + sqlite: el keyring y las cadenas de refresh sobreviven.
func TestNew_RestartKeepsKeysAndChains(t *testing.T) {
	dir := t.TempDir()
	master, err := secretbox.GenerateKey()
	require.NoError(t, err)

	cfg := loadConfig(t)
	cfg.Secrets.Driver = "fs"
	cfg.Secrets.FS.Dir = filepath.Join(dir, "secrets")
	cfg.Secrets.MasterKey = master
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = filepath.Join(dir, "auth.db")
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	a1, err := New(ctx, cfg)
	require.NoError(t, err)
	kid := a1.Manager.Snapshot().Active.ID
	b, err := a1.Lifecycle.IssueSessionBundle(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, a1.Close())

	a2, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a2.Close() })

	require.Equal(t, kid, a2.Manager.Snapshot().Active.ID)
	pair, err := a2.Lifecycle.Refresh(ctx, b.Refresh.Token)
	require.NoError(t, err)
	require.Equal(t, b.SessionID, pair.Refresh.SessionID)

	// Y el reuso se detecta contra el estado persistido por la instancia anterior.
	_, err = a2.Lifecycle.Refresh(ctx, b.Refresh.Token)
	require.Error(t, err)
}

func TestOpenKeys_NoBootstrap(t *testing.T) {
	cfg := loadConfig(t)
	k, err := OpenKeys(context.Background(), cfg, false)
	require.NoError(t, err)
	require.Nil(t, k.Manager.Snapshot().Active)
}

func TestPolicyTable_FromConfig(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Tokens.Access.TTL = "5m"
	cfg.Tokens.M2M.Audience = []string{"svc-mesh"}

	pt, err := PolicyTable(cfg)
	require.NoError(t, err)
	p, ok := pt.Get(jwt.ClassAccess)
	require.True(t, ok)
	require.Equal(t, 5*time.Minute, p.TTL)
	p, _ = pt.Get(jwt.ClassM2M)
	require.Equal(t, []string{"svc-mesh"}, p.Audience)

	cfg.Tokens.Session.Audience = []string{"journal-api"} // compartida con access
	_, err = PolicyTable(cfg)
	require.Error(t, err)
}

func TestKeyManagerConfig_FromConfig(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Keys.Overlap = "72h"
	km := KeyManagerConfig(cfg)
	require.Equal(t, 72*time.Hour, km.Overlap)
	require.Equal(t, 24*time.Hour, km.RotationInterval)
	require.Equal(t, 744*time.Hour, km.RetiredGrace)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), loadConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run no terminó tras cancelar")
	}
}

type closingSecrets struct {
	*memory.SecretStore
	closed int
}

func (c *closingSecrets) Close() error {
	c.closed++
	return nil
}

type closingSecretsAdapter struct{ last *closingSecrets }

func (a *closingSecretsAdapter) Name() string { return "closing-test" }

func (a *closingSecretsAdapter) OpenSecrets(context.Context, store.SecretConfig) (repository.SecretStore, error) {
	a.last = &closingSecrets{SecretStore: memory.NewSecretStore()}
	return a.last, nil
}

var closingAdapter = &closingSecretsAdapter{}

func init() { store.RegisterSecretAdapter(closingAdapter) }

func TestNew_ReleasesSecretStore(t *testing.T) {
	ctx := context.Background()

	t.Run("token store falla", func(t *testing.T) {
		cfg := loadConfig(t)
		cfg.Secrets.Driver = "closing-test"
		cfg.Store.Driver = "no-such-driver"

		_, err := New(ctx, cfg)
		require.Error(t, err)
		require.NotNil(t, closingAdapter.last)
		require.Equal(t, 1, closingAdapter.last.closed)
	})

	t.Run("Close del app", func(t *testing.T) {
		cfg := loadConfig(t)
		cfg.Secrets.Driver = "closing-test"

		a, err := New(ctx, cfg)
		require.NoError(t, err)
		require.Equal(t, 0, closingAdapter.last.closed)
		require.NoError(t, a.Close())
		require.Equal(t, 1, closingAdapter.last.closed)
		require.NoError(t, a.Close())
		require.Equal(t, 1, closingAdapter.last.closed)
	})
}
