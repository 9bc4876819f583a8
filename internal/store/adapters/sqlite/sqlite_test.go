package sqlite

import (
	"context"
	"path/filepath"
	"time"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

func TestTokenStore_Conformance(t *testing.T) {
	storetest.RunTokenStore(t, func(t *testing.T) repository.TokenStore {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "auth.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestOpen_ReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "auth.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.RevokeSession(ctx, "sid-1", "logout")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	revoked, err := s.IsRevoked(ctx, "sid-1", "", time.Now())
	require.NoError(t, err)
	require.True(t, revoked)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}
