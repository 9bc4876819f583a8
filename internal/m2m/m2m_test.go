package m2m

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

func TestMain(m *testing.M) {
	restore := logger.Replace(zap.NewNop())
	code := m.Run()
	restore()
	os.Exit(code)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func hash(t *testing.T, secret string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newAuthenticator(t *testing.T, reg repository.ServiceRegistry) (*Authenticator, *jwt.TokenService, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	jwks := jwt.NewJWKSService(time.Hour, c.Now)
	km := jwt.NewKeyManager(jwt.KeyManagerConfig{Now: c.Now, RetryBase: time.Millisecond}, nil, jwks)
	require.NoError(t, km.EnsureActive(context.Background()))
	tokens := jwt.NewTokenService(jwt.TokenServiceConfig{Issuer: "https://auth.journal.test", Now: c.Now}, nil, km, jwks)
	return New(tokens, reg), tokens, c
}

func TestIssue_ScopeScenarioSvcA(t *testing.T) {
	reg := NewMemoryRegistry(repository.ServiceIdentity{ID: "svc-a", SecretHash: hash(t, "svc-a-secret-0123456"), MaxScopes: []string{"scope:read"}})
	a, tokens, _ := newAuthenticator(t, reg)
	ctx := context.Background()

	tok, err := a.Issue(ctx, "svc-a", []string{"scope:read"})
	require.NoError(t, err)
	require.Equal(t, jwt.ClassM2M, tok.Class)
	require.Equal(t, "svc-a", tok.Subject)
	require.Equal(t, 30*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))

	claims, err := tokens.Verify(tok.Token, jwt.Expect{Class: jwt.ClassM2M})
	require.NoError(t, err)
	require.Equal(t, []string{"scope:read"}, claims.Scopes)

	denied, err := a.Issue(ctx, "svc-a", []string{"scope:write"})
	require.ErrorIs(t, err, ErrScopeViolation)
	require.Nil(t, denied, "nothing is signed on a scope violation")

	_, err = a.Issue(ctx, "svc-a", []string{"scope:read", "scope:write"})
	require.ErrorIs(t, err, ErrScopeViolation)
}

func TestIssue_DefaultsToMaxScopes(t *testing.T) {
	reg := NewMemoryRegistry(repository.ServiceIdentity{ID: "svc-b", SecretHash: "x", MaxScopes: []string{"b:write", "b:read"}})
	a, _, _ := newAuthenticator(t, reg)

	tok, err := a.Issue(context.Background(), "svc-b", nil)
	require.NoError(t, err)
	claims, err := a.Introspect(tok.Token)
	require.NoError(t, err)
	require.Equal(t, []string{"b:read", "b:write"}, claims.Scopes)
}

func TestIssue_UnknownAndDisabled(t *testing.T) {
	reg := NewMemoryRegistry(repository.ServiceIdentity{ID: "off", SecretHash: "x", MaxScopes: []string{"a"}, Disabled: true})
	a, _, _ := newAuthenticator(t, reg)
	ctx := context.Background()

	_, err := a.Issue(ctx, "ghost", []string{"a"})
	require.ErrorIs(t, err, ErrUnknownService)
	_, err = a.Issue(ctx, "off", []string{"a"})
	require.ErrorIs(t, err, ErrServiceDisabled)
}

func TestVerify_RequiredScope(t *testing.T) {
	reg := NewMemoryRegistry(repository.ServiceIdentity{ID: "svc-a", SecretHash: "x", MaxScopes: []string{"scope:read"}})
	a, tokens, c := newAuthenticator(t, reg)
	ctx := context.Background()
	tok, err := a.Issue(ctx, "svc-a", []string{"scope:read"})
	require.NoError(t, err)

	ok, err := a.Verify(ctx, tok.Token, "scope:read")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.Verify(ctx, tok.Token, "scope:write")
	require.NoError(t, err)
	require.False(t, ok)

	// un access token no sirve como m2m
	access, err := tokens.Sign(ctx, jwt.ClassAccess, "u1", jwt.Options{})
	require.NoError(t, err)
	ok, err = a.Verify(ctx, access.Token, "")
	require.ErrorIs(t, err, jwt.ErrClassMismatch)
	require.False(t, ok)

	c.Advance(31 * time.Minute)
	_, err = a.Verify(ctx, tok.Token, "scope:read")
	require.ErrorIs(t, err, jwt.ErrExpired)
}

func TestAuthenticate(t *testing.T) {
	reg := NewMemoryRegistry(repository.ServiceIdentity{ID: "svc-a", SecretHash: hash(t, "correct-horse-battery"), MaxScopes: []string{"scope:read"}})
	a, _, _ := newAuthenticator(t, reg)
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "svc-a", "correct-horse-battery")
	require.NoError(t, err)
	require.Equal(t, "svc-a", id.ID)

	_, err = a.Authenticate(ctx, "svc-a", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "ghost", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials, "unknown services look like bad credentials")
}

func TestHashSecret(t *testing.T) {
	_, err := HashSecret("short")
	require.ErrorIs(t, err, repository.ErrInvalidInput)

	h, err := HashSecret("a-long-enough-secret")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("a-long-enough-secret")))
}

func writeRegistry(t *testing.T, path, body string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(body), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestFileRegistry_LoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	writeRegistry(t, path, `
services:
  - id: svc-a
    secret_hash: "$2a$04$abcdefghijklmnopqrstuu"
    scopes: [scope:read]
`)
	reg, err := LoadFileRegistry(path)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := reg.Lookup(ctx, "svc-a")
	require.NoError(t, err)
	require.Equal(t, []string{"scope:read"}, id.MaxScopes)
	_, err = reg.Lookup(ctx, "svc-b")
	require.ErrorIs(t, err, repository.ErrNotFound)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- reg.Watch(wctx, 20*time.Millisecond) }()
	// dar tiempo a que el watcher se registre
	time.Sleep(50 * time.Millisecond)

	writeRegistry(t, path, `
services:
  - id: svc-a
    secret_hash: "$2a$04$abcdefghijklmnopqrstuu"
    scopes: [scope:read, scope:write]
  - id: svc-b
    secret_hash: "$2a$04$abcdefghijklmnopqrstuu"
    scopes: [b:read]
`)
	require.Eventually(t, func() bool {
		_, err := reg.Lookup(ctx, "svc-b")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	// un archivo roto no pisa la versión buena
	writeRegistry(t, path, "services: [::")
	time.Sleep(150 * time.Millisecond)
	id, err = reg.Lookup(ctx, "svc-a")
	require.NoError(t, err)
	require.Equal(t, []string{"scope:read", "scope:write"}, id.MaxScopes)

	cancel()
	require.NoError(t, <-done)
}

func TestFileRegistry_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	writeRegistry(t, path, "services:\n  - id: svc-a\n")
	_, err := LoadFileRegistry(path)
	require.Error(t, err)

	writeRegistry(t, path, "services:\n  - {id: a, secret_hash: x}\n  - {id: a, secret_hash: y}\n")
	_, err = LoadFileRegistry(path)
	require.Error(t, err)
}
