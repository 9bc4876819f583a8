package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/journal-auth/internal/domain/repository"
	"github.com/dropDatabas3/journal-auth/internal/store/storetest"
)

// Requiere REDIS_TEST_URL (ej: redis://localhost:6379/15).
func TestTokenStore_Conformance(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := rdb.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	storetest.RunTokenStore(t, func(t *testing.T) repository.TokenStore {
		client := rdb.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			t.Fatalf("ping: %v", err)
		}
		s := New(client, "test:"+uuid.NewString()[:8]+":", 0)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
