package jwt

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
)

func TestMain(m *testing.M) {
	restore := logger.Replace(zap.NewNop())
	code := m.Run()
	restore()
	os.Exit(code)
}

// fakeClock es un reloj manual compartido por KeyManager, JWKS y TokenService.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memPersister guarda lo que el KeyManager persiste; fail simula un store caído.
type memPersister struct {
	mu   sync.Mutex
	keys map[string]repository.SigningKey
	fail bool
}

func newMemPersister() *memPersister {
	return &memPersister{keys: map[string]repository.SigningKey{}}
}

var errStoreDown = errors.New("store down")

func (p *memPersister) Push(_ context.Context, k *repository.SigningKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errStoreDown
	}
	p.keys[k.ID] = *cloneKey(k)
	return nil
}

func (p *memPersister) Delete(_ context.Context, kid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errStoreDown
	}
	delete(p.keys, kid)
	return nil
}

func (p *memPersister) get(kid string) (repository.SigningKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[kid]
	return k, ok
}

type stack struct {
	clock     *fakeClock
	persister *memPersister
	km        *KeyManager
	jwks      *JWKSService
	tokens    *TokenService
}

func testKeyConfig(clock *fakeClock) KeyManagerConfig {
	return KeyManagerConfig{
		ActivationGrace:  time.Hour,
		Overlap:          48 * time.Hour,
		RetiredGrace:     744 * time.Hour,
		RotationInterval: 24 * time.Hour,
		RetireSweep:      time.Minute,
		GenerateRetries:  1,
		RetryBase:        time.Millisecond,
		Now:              clock.Now,
	}
}

func newStack(t *testing.T) *stack {
	t.Helper()
	clock := newFakeClock()
	p := newMemPersister()
	jwks := NewJWKSService(12*time.Hour, clock.Now)
	km := NewKeyManager(testKeyConfig(clock), p, jwks)
	if err := km.EnsureActive(context.Background()); err != nil {
		t.Fatalf("ensure active: %v", err)
	}
	svc := NewTokenService(TokenServiceConfig{
		Issuer:    "https://auth.journal.test",
		ClockSkew: 5 * time.Second,
		Now:       clock.Now,
	}, nil, km, jwks)
	return &stack{clock: clock, persister: p, km: km, jwks: jwks, tokens: svc}
}
