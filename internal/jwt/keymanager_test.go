package jwt

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

func TestEnsureActive_BootstrapsActiveAndPending(t *testing.T) {
	s := newStack(t)
	ring := s.km.Snapshot()

	require.NotNil(t, ring.Active)
	require.NotNil(t, ring.Pending)
	require.Equal(t, 1, ring.ActiveCount())
	require.Equal(t, repository.KeyActive, ring.Active.Status)
	require.Equal(t, repository.KeyPending, ring.Pending.Status)
	require.Equal(t, s.clock.Now().Add(time.Hour), ring.Pending.ActivationAt)

	// ambas persistidas con material privado
	for _, k := range []*repository.SigningKey{ring.Active, ring.Pending} {
		stored, ok := s.persister.get(k.ID)
		require.True(t, ok, "kid %s not persisted", k.ID)
		require.NotEmpty(t, stored.PrivateKey)
	}

	signer, err := s.km.ActiveSigner()
	require.NoError(t, err)
	require.Equal(t, ring.Active.ID, signer.ID)
}

func TestActiveSigner_FailsClosedWithoutKey(t *testing.T) {
	km := NewKeyManager(testKeyConfig(newFakeClock()), nil, nil)
	_, err := km.ActiveSigner()
	require.ErrorIs(t, err, ErrNoActiveKey)
}

func TestRotate_WaitsForActivation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	before := s.km.Snapshot()

	_, err := s.km.Rotate(ctx)
	require.ErrorIs(t, err, ErrPendingNotReady)
	require.Equal(t, before.Active.ID, s.km.Snapshot().Active.ID)

	s.clock.Advance(time.Hour)
	promoted, err := s.km.Rotate(ctx)
	require.NoError(t, err)
	require.Equal(t, before.Pending.ID, promoted.ID)

	ring := s.km.Snapshot()
	require.Equal(t, promoted.ID, ring.Active.ID)
	require.Len(t, ring.Retiring, 1)
	require.Equal(t, before.Active.ID, ring.Retiring[0].ID)
	require.Equal(t, s.clock.Now(), ring.Retiring[0].RetiringSince)
	require.NotNil(t, ring.Pending, "pending slot refilled")
	require.NotEqual(t, before.Pending.ID, ring.Pending.ID)

	stored, ok := s.persister.get(before.Active.ID)
	require.True(t, ok)
	require.Equal(t, repository.KeyRetiring, stored.Status)
}

func TestRotateNow_ForcesPromotion(t *testing.T) {
	s := newStack(t)
	before := s.km.Snapshot()

	promoted, err := s.km.RotateNow(context.Background(), "suspected_compromise")
	require.NoError(t, err)
	require.Equal(t, before.Pending.ID, promoted.ID)
	require.Equal(t, s.clock.Now(), promoted.ActivationAt)
	require.Equal(t, 1, s.km.Snapshot().ActiveCount())
}

func TestRetire_RespectsOverlap(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	old := s.km.Snapshot().Active.ID

	_, err := s.km.RotateNow(ctx, "")
	require.NoError(t, err)

	require.ErrorIs(t, s.km.Retire(ctx, old), ErrOverlapNotElapsed)
	require.ErrorIs(t, s.km.Retire(ctx, "kid-missing"), ErrKeyNotFound)

	s.clock.Advance(48 * time.Hour)
	require.NoError(t, s.km.Retire(ctx, old))
	require.NoError(t, s.km.Retire(ctx, old), "retire is idempotent")

	ring := s.km.Snapshot()
	require.Empty(t, ring.Retiring)
	require.Len(t, ring.Retired, 1)
	require.Nil(t, ring.Retired[0].PrivateKey)

	stored, ok := s.persister.get(old)
	require.True(t, ok)
	require.Equal(t, repository.KeyRetired, stored.Status)
	require.Empty(t, stored.PrivateKey, "private material removed from the secret store")
}

func TestRetireExpired_SweepsAndPurges(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	old := s.km.Snapshot().Active.ID

	_, err := s.km.RotateNow(ctx, "")
	require.NoError(t, err)

	n, err := s.km.RetireExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	s.clock.Advance(49 * time.Hour)
	n, err = s.km.RetireExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotNil(t, s.km.Snapshot().Find(old))

	s.clock.Advance(745 * time.Hour)
	_, err = s.km.RetireExpired(ctx)
	require.NoError(t, err)
	require.Nil(t, s.km.Snapshot().Find(old))
	_, ok := s.persister.get(old)
	require.False(t, ok)
}

func TestRotate_PausedWhileDegraded(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.clock.Advance(time.Hour)

	s.persister.fail = true
	_, err := s.km.Rotate(ctx)
	require.Error(t, err)
	require.True(t, s.km.Degraded())

	active := s.km.Snapshot().Active.ID
	_, err = s.km.RotateNow(ctx, "")
	require.ErrorIs(t, err, ErrRotationPaused)
	require.Equal(t, active, s.km.Snapshot().Active.ID, "signing keeps using the cached key")

	s.persister.fail = false
	s.km.SetDegraded(false)
	_, err = s.km.Rotate(ctx)
	require.NoError(t, err)
}

type brokenEntropy struct{}

func (brokenEntropy) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateKey_EntropyFailure(t *testing.T) {
	cfg := testKeyConfig(newFakeClock())
	cfg.Entropy = brokenEntropy{}
	km := NewKeyManager(cfg, nil, nil)

	err := km.EnsureActive(context.Background())
	require.ErrorIs(t, err, ErrKeyGeneration)
	_, err = km.ActiveSigner()
	require.ErrorIs(t, err, ErrNoActiveKey)
}

func TestLoad_ReconcilesSingleActive(t *testing.T) {
	clock := newFakeClock()
	km := NewKeyManager(testKeyConfig(clock), nil, nil)
	ctx := context.Background()

	mk := func(status repository.KeyStatus, activation time.Time) repository.SigningKey {
		pub, priv, err := GenerateEd25519(nil)
		require.NoError(t, err)
		return repository.SigningKey{
			ID: NewKID(activation), Algorithm: repository.AlgEdDSA,
			PrivateKey: priv, PublicKey: pub, Status: status,
			CreatedAt: activation, ActivationAt: activation,
		}
	}
	now := clock.Now()
	older := mk(repository.KeyActive, now.Add(-48*time.Hour))
	newer := mk(repository.KeyActive, now.Add(-time.Hour))
	pending := mk(repository.KeyPending, now.Add(time.Hour))
	expired := mk(repository.KeyRetired, now.Add(-2000*time.Hour))
	expired.PrivateKey = nil
	expired.ExpiresAt = now.Add(-time.Hour)

	require.NoError(t, km.Load(ctx, []repository.SigningKey{older, newer, pending, expired}))

	ring := km.Snapshot()
	require.Equal(t, newer.ID, ring.Active.ID)
	require.Equal(t, pending.ID, ring.Pending.ID)
	require.Len(t, ring.Retiring, 1)
	require.Equal(t, older.ID, ring.Retiring[0].ID)
	require.Nil(t, ring.Find(expired.ID))
	require.Equal(t, 1, ring.ActiveCount())

	// un pull vacío no borra el estado
	require.NoError(t, km.Load(ctx, nil))
	require.Equal(t, newer.ID, km.Snapshot().Active.ID)
}

// Propiedad: ninguna secuencia de rotaciones, retiros y avances de reloj deja el
// keyring con cero o dos claves activas.
func TestKeyring_SingleActiveUnderRandomSchedules(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		s := newStack(t)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(seed))

		for step := 0; step < 60; step++ {
			switch rng.Intn(5) {
			case 0:
				s.clock.Advance(time.Duration(rng.Intn(72)) * time.Hour)
			case 1:
				_, err := s.km.Rotate(ctx)
				if err != nil && !errors.Is(err, ErrPendingNotReady) {
					t.Fatalf("seed %d step %d: rotate: %v", seed, step, err)
				}
			case 2:
				_, err := s.km.RotateNow(ctx, "test")
				require.NoError(t, err)
			case 3:
				_, err := s.km.RetireExpired(ctx)
				require.NoError(t, err)
			case 4:
				if r := s.km.Snapshot().Retiring; len(r) > 0 {
					err := s.km.Retire(ctx, r[rng.Intn(len(r))].ID)
					if err != nil && !errors.Is(err, ErrOverlapNotElapsed) {
						t.Fatalf("seed %d step %d: retire: %v", seed, step, err)
					}
				}
			}

			ring := s.km.Snapshot()
			if ring.ActiveCount() != 1 || ring.Active == nil || ring.Active.Status != repository.KeyActive {
				t.Fatalf("seed %d step %d: active count %d", seed, step, ring.ActiveCount())
			}
			seen := map[string]bool{}
			pending := 0
			for _, k := range ring.Keys() {
				if seen[k.ID] {
					t.Fatalf("seed %d step %d: kid %s twice in ring", seed, step, k.ID)
				}
				seen[k.ID] = true
				if k.Status == repository.KeyPending {
					pending++
				}
			}
			if pending > 1 {
				t.Fatalf("seed %d step %d: %d pending keys", seed, step, pending)
			}
			require.True(t, s.jwks.Has(ring.Active.ID), "active key published")
		}
	}
}
