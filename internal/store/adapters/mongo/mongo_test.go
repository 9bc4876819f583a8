package mongo

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

// Requiere MONGO_TEST_URI (ej: mongodb://localhost:27017).
func TestTokenStore_Conformance(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	storetest.RunTokenStore(t, func(t *testing.T) repository.TokenStore {
		db := "auth_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
		ts, err := (&adapter{}).OpenTokens(context.Background(), store.TokenConfig{DSN: uri, Database: db})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		s := ts.(*TokenStore)
		t.Cleanup(func() {
			_ = s.client.Database(db).Drop(context.Background())
			_ = s.Close()
		})
		return s
	})
}
