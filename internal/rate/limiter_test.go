package rate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, l Limiter) {
	t.Helper()
	ctx := context.Background()
	key := "ip:" + uuid.NewString()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, key, 3, time.Hour)
		require.NoError(t, err)
		require.True(t, res.Allowed, "hit %d", i)
		require.Equal(t, int64(3-i), res.Remaining)
	}
	res, err := l.Allow(ctx, key, 3, time.Hour)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Zero(t, res.Remaining)
	require.Positive(t, res.RetryAfter)
	require.LessOrEqual(t, res.RetryAfter, time.Hour)

	// otra key no comparte contador
	res, err = l.Allow(ctx, key+"-other", 3, time.Hour)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestMemoryLimiter(t *testing.T) {
	exercise(t, NewMemoryLimiter())
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Allow(ctx, "k", 1, time.Minute)
		require.NoError(t, err)
	}
	res, err := l.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	now = now.Add(time.Minute)
	res, err = l.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

// Requiere REDIS_TEST_URL.
func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := rdb.ParseURL(url)
	require.NoError(t, err)
	client := rdb.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	exercise(t, NewRedisLimiter(client, "rltest:"))
}
