package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

func TestTokenStore_Conformance(t *testing.T) {
	storetest.RunTokenStore(t, func(t *testing.T) repository.TokenStore { return NewTokenStore() })
}

func TestSecretStore_Conformance(t *testing.T) {
	storetest.RunSecretStore(t, func(t *testing.T) repository.SecretStore { return NewSecretStore() })
}

func TestSecretStore_Down(t *testing.T) {
	s := NewSecretStore()
	s.SetDown(true)
	require.ErrorIs(t, s.Write(context.Background(), "a/b", nil), repository.ErrUnavailable)
	require.ErrorIs(t, s.Ping(context.Background()), repository.ErrUnavailable)
	s.SetDown(false)
	require.NoError(t, s.Ping(context.Background()))
}
