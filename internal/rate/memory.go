package rate

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter: fixed window en proceso sobre go-cache.
type MemoryLimiter struct {
	c   *gocache.Cache
	now func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{c: gocache.New(time.Minute, time.Minute), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	k, left := windowKey("", key, window, l.now().UTC())
	for {
		if err := l.c.Add(k, int64(1), left+time.Second); err == nil {
			return result(1, limit, left), nil
		}
		hits, err := l.c.IncrementInt64(k, 1)
		if err == nil {
			return result(hits, limit, left), nil
		}
		// expiró entre Add e Increment: reintentar
	}
}
