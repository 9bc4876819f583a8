package vault

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

// Requiere VAULT_TEST_ADDR y VAULT_TEST_TOKEN (ej: vault server -dev).
func TestSecretStore_Conformance(t *testing.T) {
	addr, token := os.Getenv("VAULT_TEST_ADDR"), os.Getenv("VAULT_TEST_TOKEN")
	if addr == "" || token == "" {
		t.Skip("VAULT_TEST_ADDR/VAULT_TEST_TOKEN not set")
	}
	storetest.RunSecretStore(t, func(t *testing.T) repository.SecretStore {
		s, err := (&adapter{}).OpenSecrets(context.Background(), store.SecretConfig{
			VaultAddress: addr,
			VaultToken:   token,
			VaultMount:   "secret",
		})
		require.NoError(t, err)
		return &prefixed{SecretStore: s.(*SecretStore), root: "journal-auth-test/" + uuid.NewString()[:8]}
	})
}

// prefixed aísla cada subtest bajo su propio árbol.
type prefixed struct {
	*SecretStore
	root string
}

func (p *prefixed) Write(ctx context.Context, path string, v []byte) error {
	return p.SecretStore.Write(ctx, p.root+"/"+path, v)
}
func (p *prefixed) Read(ctx context.Context, path string) ([]byte, error) {
	return p.SecretStore.Read(ctx, p.root+"/"+path)
}
func (p *prefixed) List(ctx context.Context, prefix string) ([]string, error) {
	return p.SecretStore.List(ctx, p.root+"/"+prefix)
}
func (p *prefixed) Delete(ctx context.Context, path string) error {
	return p.SecretStore.Delete(ctx, p.root+"/"+path)
}
