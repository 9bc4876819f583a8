package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/security/secretbox"
	"github.com/dropDatabas3/journal-auth/internal/store"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

func openTemp(t *testing.T) (*SecretStore, string) {
	t.Helper()
	key, err := secretbox.GenerateKey()
	require.NoError(t, err)
	dir := t.TempDir()
	s, err := (&adapter{}).OpenSecrets(context.Background(), store.SecretConfig{Dir: dir, MasterKey: key})
	require.NoError(t, err)
	return s.(*SecretStore), dir
}

func TestSecretStore_Conformance(t *testing.T) {
	storetest.RunSecretStore(t, func(t *testing.T) repository.SecretStore {
		s, _ := openTemp(t)
		return s
	})
}

func TestSecretStore_EncryptedAtRest(t *testing.T) {
	s, dir := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "signing-keys/kid-1", []byte(`{"priv":"very-secret"}`)))

	raw, err := os.ReadFile(filepath.Join(dir, "signing-keys", "kid-1.sec"))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "very-secret"))
}

func TestSecretStore_MovedFileDoesNotDecrypt(t *testing.T) {
	s, dir := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, "signing-keys/kid-1", []byte("a")))
	require.NoError(t, os.Rename(
		filepath.Join(dir, "signing-keys", "kid-1.sec"),
		filepath.Join(dir, "signing-keys", "kid-2.sec"),
	))
	_, err := s.Read(ctx, "signing-keys/kid-2")
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestSecretStore_RejectsTraversal(t *testing.T) {
	s, _ := openTemp(t)
	err := s.Write(context.Background(), "../escape", []byte("x"))
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}

func TestOpenSecrets_RequiresMasterKey(t *testing.T) {
	_, err := (&adapter{}).OpenSecrets(context.Background(), store.SecretConfig{Dir: t.TempDir()})
	require.ErrorIs(t, err, repository.ErrInvalidInput)
}
