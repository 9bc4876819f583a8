// Package storetest es la suite de conformidad que todo adapter de
// repository.TokenStore y repository.SecretStore debe pasar.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
)

// Factory abre un store vacío para un subtest. La limpieza la registra con t.Cleanup.
type (
	TokenFactory  func(t *testing.T) repository.TokenStore
	SecretFactory func(t *testing.T) repository.SecretStore
)

func newRecord(subject, sid, parent, root string) repository.RefreshRecord {
	now := time.Now().UTC().Truncate(time.Second)
	jti := uuid.NewString()
	if root == "" {
		root = jti
	}
	return repository.RefreshRecord{
		JTI:       jti,
		Subject:   subject,
		SessionID: sid,
		ParentJTI: parent,
		RootJTI:   root,
		KeyID:     "kid-test",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// RunTokenStore ejecuta la suite del lookup store.
func RunTokenStore(t *testing.T, open TokenFactory) {
	t.Run("CreateGet", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		rec := newRecord("u1", "sid-"+uuid.NewString(), "", "")
		require.NoError(t, s.CreateRefresh(ctx, rec))

		got, err := s.GetRefresh(ctx, rec.JTI)
		require.NoError(t, err)
		require.Equal(t, rec.Subject, got.Subject)
		require.Equal(t, rec.SessionID, got.SessionID)
		require.Equal(t, rec.RootJTI, got.RootJTI)
		require.Equal(t, rec.KeyID, got.KeyID)
		require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v vs %v", rec.ExpiresAt, got.ExpiresAt)
		require.False(t, got.Used)
		require.Nil(t, got.RevokedAt)

		require.ErrorIs(t, s.CreateRefresh(ctx, rec), repository.ErrConflict)
		_, err = s.GetRefresh(ctx, "missing-"+uuid.NewString())
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("MarkUsedIfUnused", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		rec := newRecord("u1", "sid-"+uuid.NewString(), "", "")
		require.NoError(t, s.CreateRefresh(ctx, rec))

		ok, err := s.MarkUsedIfUnused(ctx, rec.JTI)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.MarkUsedIfUnused(ctx, rec.JTI)
		require.NoError(t, err)
		require.False(t, ok)

		got, err := s.GetRefresh(ctx, rec.JTI)
		require.NoError(t, err)
		require.True(t, got.Used)
		require.NotNil(t, got.UsedAt)

		_, err = s.MarkUsedIfUnused(ctx, "missing-"+uuid.NewString())
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("MarkUsedIfUnused_Concurrent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		rec := newRecord("u1", "sid-"+uuid.NewString(), "", "")
		require.NoError(t, s.CreateRefresh(ctx, rec))

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ok, err := s.MarkUsedIfUnused(ctx, rec.JTI)
				if err != nil {
					t.Errorf("mark used: %v", err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})

	t.Run("GetChain", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		sid := "sid-" + uuid.NewString()
		root := newRecord("u1", sid, "", "")
		require.NoError(t, s.CreateRefresh(ctx, root))
		mid := newRecord("u1", sid, root.JTI, root.JTI)
		require.NoError(t, s.CreateRefresh(ctx, mid))
		leaf := newRecord("u1", sid, mid.JTI, root.JTI)
		require.NoError(t, s.CreateRefresh(ctx, leaf))

		chain, err := s.GetChain(ctx, leaf.JTI)
		require.NoError(t, err)
		require.Equal(t, []string{leaf.JTI, mid.JTI, root.JTI}, chain)

		chain, err = s.GetChain(ctx, root.JTI)
		require.NoError(t, err)
		require.Equal(t, []string{root.JTI}, chain)

		_, err = s.GetChain(ctx, "missing-"+uuid.NewString())
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("RevokeSession", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		sid := "sid-" + uuid.NewString()
		a := newRecord("u1", sid, "", "")
		b := newRecord("u1", sid, a.JTI, a.JTI)
		other := newRecord("u1", "sid-"+uuid.NewString(), "", "")
		for _, r := range []repository.RefreshRecord{a, b, other} {
			require.NoError(t, s.CreateRefresh(ctx, r))
		}

		n, err := s.RevokeSession(ctx, sid, "reuse_detected")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		got, err := s.GetRefresh(ctx, b.JTI)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.Equal(t, "reuse_detected", got.RevokeReason)

		ok, err := s.MarkUsedIfUnused(ctx, b.JTI)
		require.NoError(t, err)
		require.False(t, ok, "revoked records cannot be redeemed")

		revoked, err := s.IsRevoked(ctx, sid, "u1", time.Now())
		require.NoError(t, err)
		require.True(t, revoked)

		revoked, err = s.IsRevoked(ctx, other.SessionID, "u1", time.Now())
		require.NoError(t, err)
		require.False(t, revoked)

		// idempotente
		n, err = s.RevokeSession(ctx, sid, "logout")
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("RevokeSubject", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		subject := "u-" + uuid.NewString()
		a := newRecord(subject, "sid-"+uuid.NewString(), "", "")
		b := newRecord(subject, "sid-"+uuid.NewString(), "", "")
		keep := newRecord("someone-else-"+uuid.NewString(), "sid-"+uuid.NewString(), "", "")
		for _, r := range []repository.RefreshRecord{a, b, keep} {
			require.NoError(t, s.CreateRefresh(ctx, r))
		}

		n, err := s.RevokeSubject(ctx, subject, "admin")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		// Las sesiones existentes quedan revocadas aunque su iat caiga en el
		// mismo segundo que la revocación.
		for _, r := range []repository.RefreshRecord{a, b} {
			revoked, err := s.IsRevoked(ctx, r.SessionID, subject, time.Now().Add(time.Minute))
			require.NoError(t, err)
			require.True(t, revoked)
		}
		revoked, err := s.IsRevoked(ctx, keep.SessionID, keep.Subject, time.Now())
		require.NoError(t, err)
		require.False(t, revoked)

		before := time.Now().Add(-time.Minute)
		revoked, err = s.IsRevoked(ctx, "sid-new", subject, before)
		require.NoError(t, err)
		require.True(t, revoked, "sessions issued before the revocation are revoked")

		after := time.Now().Add(time.Minute)
		revoked, err = s.IsRevoked(ctx, "sid-new", subject, after)
		require.NoError(t, err)
		require.False(t, revoked, "new sessions are not affected")

		got, err := s.GetRefresh(ctx, keep.JTI)
		require.NoError(t, err)
		require.Nil(t, got.RevokedAt)
	})

	t.Run("RevokeSubjectSecondGranularity", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		subject := "u-" + uuid.NewString()

		start := time.Now()
		_, err := s.RevokeSubject(ctx, subject, "admin")
		require.NoError(t, err)

		// iat tiene resolución de segundos: un login en el mismo segundo que la
		// revocación (posterior a ella) tiene que seguir siendo válido.
		sameSecond := time.Now().Truncate(time.Second)
		revoked, err := s.IsRevoked(ctx, "sid-"+uuid.NewString(), subject, sameSecond)
		require.NoError(t, err)
		require.False(t, revoked)

		previousSecond := start.Truncate(time.Second).Add(-time.Second)
		revoked, err = s.IsRevoked(ctx, "sid-"+uuid.NewString(), subject, previousSecond)
		require.NoError(t, err)
		require.True(t, revoked)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, open(t).Ping(context.Background()))
	})
}

// RunSecretStore ejecuta la suite del secret store.
func RunSecretStore(t *testing.T, open SecretFactory) {
	t.Run("WriteReadOverwrite", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		p := "signing-keys/kid-" + uuid.NewString()[:8]

		require.NoError(t, s.Write(ctx, p, []byte(`{"v":1}`)))
		got, err := s.Read(ctx, p)
		require.NoError(t, err)
		require.Equal(t, `{"v":1}`, string(got))

		require.NoError(t, s.Write(ctx, p, []byte(`{"v":2}`)))
		got, err = s.Read(ctx, p)
		require.NoError(t, err)
		require.Equal(t, `{"v":2}`, string(got))

		_, err = s.Read(ctx, "signing-keys/missing")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ListDelete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		prefix := "list-" + uuid.NewString()[:8]
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Write(ctx, fmt.Sprintf("%s/kid-%d", prefix, i), []byte("x")))
		}
		require.NoError(t, s.Write(ctx, "other/kid-9", []byte("x")))

		names, err := s.List(ctx, prefix)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"kid-0", "kid-1", "kid-2"}, names)

		require.NoError(t, s.Delete(ctx, prefix+"/kid-1"))
		require.NoError(t, s.Delete(ctx, prefix+"/kid-1"), "delete is idempotent")
		names, err = s.List(ctx, prefix)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"kid-0", "kid-2"}, names)

		empty, err := s.List(ctx, "nothing-"+uuid.NewString()[:8])
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, open(t).Ping(context.Background()))
	})
}
