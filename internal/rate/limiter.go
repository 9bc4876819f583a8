// Package rate implementa rate limiting de ventana fija para los endpoints de
// tokens. Redis comparte el contador entre réplicas; memory es por proceso.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter cuenta un hit para key dentro de la ventana actual.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func windowKey(prefix, key string, window time.Duration, now time.Time) (string, time.Duration) {
	start := now.Truncate(window)
	k := fmt.Sprintf("%s%s:%d:%d", prefix, strings.ReplaceAll(key, " ", "_"), int64(window/time.Second), start.Unix())
	return k, start.Add(window).Sub(now)
}

func result(hits int64, limit int, left time.Duration) Result {
	res := Result{Allowed: hits <= int64(limit), CurrentHits: hits, Remaining: int64(limit) - hits}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = left
		if res.RetryAfter < time.Second {
			res.RetryAfter = time.Second
		}
	}
	return res
}

// RedisLimiter: fixed window con INCR + PEXPIRE NX en la misma transacción.
type RedisLimiter struct {
	client rdb.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client rdb.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	k, left := windowKey(l.prefix, key, window, l.now().UTC())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	return result(incr.Val(), limit, left), nil
}
