package secretsync

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/jwt"
	"github.com/dropDatabas3/journal-auth/internal/observability/logger"
	"github.com/dropDatabas3/journal-auth/internal/store/adapters/memory"
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

type node struct {
	sync *SecretSync
	km   *jwt.KeyManager
	jwks *jwt.JWKSService
}

func testConfig() Config {
	return Config{Timeout: 200 * time.Millisecond, Retries: 0, RetryBase: time.Millisecond}
}

func newNode(t *testing.T, store repository.SecretStore, c *clock) *node {
	t.Helper()
	ss := New(store, testConfig())
	jwks := jwt.NewJWKSService(time.Hour, c.Now)
	km := jwt.NewKeyManager(jwt.KeyManagerConfig{
		ActivationGrace:  time.Hour,
		Overlap:          48 * time.Hour,
		RetiredGrace:     744 * time.Hour,
		RotationInterval: 24 * time.Hour,
		GenerateRetries:  1,
		RetryBase:        time.Millisecond,
		Now:              c.Now,
	}, ss, jwks)
	ss.Bind(km)
	jwks.SetRebuilder(func(ctx context.Context) error {
		_, err := ss.Pull(ctx)
		return err
	})
	return &node{sync: ss, km: km, jwks: jwks}
}

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func readRecord(t *testing.T, store repository.SecretStore, kid string) repository.SigningKey {
	t.Helper()
	raw, err := store.Read(context.Background(), "signing-keys/"+kid)
	require.NoError(t, err)
	k, err := decodeKey(raw)
	require.NoError(t, err)
	return k
}

func TestPushPull_SecondInstanceConverges(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()

	a := newNode(t, store, c)
	require.NoError(t, a.km.EnsureActive(ctx))

	names, err := store.List(ctx, "signing-keys")
	require.NoError(t, err)
	require.Len(t, names, 2, "active + pending")

	b := newNode(t, store, c)
	keys, err := b.sync.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	ra, rb := a.km.Snapshot(), b.km.Snapshot()
	require.Equal(t, ra.Active.ID, rb.Active.ID)
	require.Equal(t, ra.Pending.ID, rb.Pending.ID)
	require.True(t, b.jwks.Has(ra.Active.ID))
	require.False(t, b.sync.LastPull().IsZero())
}

func TestOnChangeNotification_ReconcilesOutOfBandRotation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()

	a := newNode(t, store, c)
	require.NoError(t, a.km.EnsureActive(ctx))
	b := newNode(t, store, c)
	_, err := b.sync.Pull(ctx)
	require.NoError(t, err)
	old := b.km.Snapshot().Active.ID

	c.Advance(time.Minute)
	rotated, err := a.km.RotateNow(ctx, "compromise")
	require.NoError(t, err)
	require.NotEqual(t, old, rotated.ID)

	require.NoError(t, b.sync.OnChangeNotification(ctx, Event{Kind: "rotated", KID: rotated.ID, Source: "test"}))

	rb := b.km.Snapshot()
	require.Equal(t, rotated.ID, rb.Active.ID)
	require.Equal(t, 1, rb.ActiveCount())
	require.NotNil(t, rb.Find(old))
	require.Equal(t, repository.KeyRetiring, rb.Find(old).Status)
}

func TestRetire_RemovesPrivateMaterialFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()
	n := newNode(t, store, c)
	require.NoError(t, n.km.EnsureActive(ctx))
	first := n.km.Snapshot().Active.ID

	c.Advance(time.Hour)
	_, err := n.km.Rotate(ctx)
	require.NoError(t, err)
	require.Equal(t, repository.KeyRetiring, readRecord(t, store, first).Status)
	require.NotEmpty(t, readRecord(t, store, first).PrivateKey)

	c.Advance(48 * time.Hour)
	require.NoError(t, n.km.Retire(ctx, first))

	rec := readRecord(t, store, first)
	require.Equal(t, repository.KeyRetired, rec.Status)
	require.Empty(t, rec.PrivateKey)
	require.Len(t, rec.PublicKey, 32)
}

func TestDegraded_PausesRotationUntilStoreRecovers(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()
	n := newNode(t, store, c)
	require.NoError(t, n.km.EnsureActive(ctx))
	before := n.km.Snapshot().Active.ID

	store.SetDown(true)
	_, err := n.km.RotateNow(ctx, "manual")
	require.ErrorIs(t, err, ErrSecretStoreUnavailable)
	require.True(t, n.sync.Degraded())
	require.True(t, n.km.Degraded())
	require.Equal(t, before, n.km.Snapshot().Active.ID, "a key that was not persisted is never activated")

	_, err = n.km.RotateNow(ctx, "manual")
	require.ErrorIs(t, err, jwt.ErrRotationPaused)

	// firmar sigue funcionando con la clave vigente
	_, err = n.km.ActiveSigner()
	require.NoError(t, err)

	store.SetDown(false)
	require.NoError(t, n.sync.Ping(ctx))
	require.False(t, n.sync.Degraded())
	require.False(t, n.km.Degraded())

	rotated, err := n.km.RotateNow(ctx, "manual")
	require.NoError(t, err)
	require.NotEqual(t, before, rotated.ID)
}

func TestPull_SkipsUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()
	a := newNode(t, store, c)
	require.NoError(t, a.km.EnsureActive(ctx))
	require.NoError(t, store.Write(ctx, "signing-keys/garbage", []byte("{not json")))

	b := newNode(t, store, c)
	keys, err := b.sync.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.NotNil(t, b.km.Snapshot().Active)
}

func TestPull_EmptyStoreKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	n := newNode(t, memory.NewSecretStore(), c)
	require.NoError(t, n.km.EnsureActive(ctx))
	active := n.km.Snapshot().Active.ID

	other := New(memory.NewSecretStore(), testConfig())
	other.Bind(n.km)
	keys, err := other.Pull(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
	require.Equal(t, active, n.km.Snapshot().Active.ID)
}

func TestJWKSColdStart_RebuildsFromStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSecretStore()
	c := newClock()
	a := newNode(t, store, c)
	require.NoError(t, a.km.EnsureActive(ctx))

	b := newNode(t, store, c)
	doc, err := b.jwks.Document(ctx)
	require.NoError(t, err)
	require.Contains(t, string(doc.Body), a.km.Snapshot().Active.ID)
}

func TestRun_ProcessesQueuedEvents(t *testing.T) {
	store := memory.NewSecretStore()
	c := newClock()
	a := newNode(t, store, c)
	require.NoError(t, a.km.EnsureActive(context.Background()))
	b := newNode(t, store, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = b.sync.Run(ctx)
		close(done)
	}()

	require.True(t, b.sync.Enqueue(Event{Kind: "written"}))
	require.Eventually(t, func() bool {
		r := b.km.Snapshot()
		return r.Active != nil && r.Active.ID == a.km.Snapshot().Active.ID
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRecord_RejectsMismatchedKeys(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	n := newNode(t, memory.NewSecretStore(), c)
	require.NoError(t, n.km.EnsureActive(ctx))
	k := *n.km.Snapshot().Active
	other := *n.km.Snapshot().Pending
	k.PrivateKey = other.PrivateKey

	raw, err := encodeKey(&k)
	require.NoError(t, err)
	_, err = decodeKey(raw)
	require.Error(t, err)
}
